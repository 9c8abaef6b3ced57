package orm

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/fmdata/pkg/core"
	"github.com/leapstack-labs/fmdata/pkg/field"
)

// reservedNames are accessor names the record surface keeps for itself.
var reservedNames = map[string]bool{
	"record_id":        true,
	"mod_id":           true,
	"portal_name":      true,
	"table_occurrence": true,
	"model":            true,
	"portal":           true,
	"layout":           true,
}

// FieldDef declares one model field before it is bound into a Model.
// The zero value is not usable; build one with the constructors below.
type FieldDef struct {
	remote    string
	codec     field.Codec
	column    field.Type
	columnSet bool
}

// Text declares a text field behind the given FileMaker field name.
func Text(remote string) FieldDef { return FieldDef{remote: remote, codec: field.Text{}} }

// Int declares an integer field.
func Int(remote string) FieldDef { return FieldDef{remote: remote, codec: field.Int{}} }

// Float declares a floating point field.
func Float(remote string) FieldDef { return FieldDef{remote: remote, codec: field.Float{}} }

// Decimal declares an exact decimal field.
func Decimal(remote string) FieldDef { return FieldDef{remote: remote, codec: field.Decimal{}} }

// Bool declares a boolean field stored as "1"/"0".
func Bool(remote string) FieldDef { return FieldDef{remote: remote, codec: field.Bool{}} }

// Date declares a date field.
func Date(remote string) FieldDef { return FieldDef{remote: remote, codec: field.Date{}} }

// Time declares a time-of-day field.
func Time(remote string) FieldDef { return FieldDef{remote: remote, codec: field.Time{}} }

// Timestamp declares a date-and-time field.
func Timestamp(remote string) FieldDef {
	return FieldDef{remote: remote, codec: field.Timestamp{}}
}

// Container declares a read-only container field. Its decoded value is
// the download URL; writes go through Manager.UploadContainer.
func Container(remote string) FieldDef {
	return FieldDef{remote: remote, codec: field.Container{}}
}

// Custom declares a field with an explicit codec.
func Custom(remote string, codec field.Codec) FieldDef {
	return FieldDef{remote: remote, codec: codec}
}

// On binds the field to the given column type instead of the codec's
// default. Use it when a layout stores a value in an unusual column,
// for example a timestamp kept in a text field:
//
//	"reviewed_at": orm.Timestamp("ReviewedAt").On(field.TypeText)
func (d FieldDef) On(col field.Type) FieldDef {
	d.column = col
	d.columnSet = true
	return d
}

// Fields maps accessor names to field definitions.
type Fields map[string]FieldDef

// PortalDef declares a portal and the fields of its rows.
type PortalDef struct {
	name   string
	remote string
	fields Fields
}

// Portal declares a portal under the given accessor name. remote is the
// portal's object name on the layout (or the related table occurrence
// when the portal is unnamed); row field definitions use the namespaced
// FileMaker form, e.g. orm.Text("Orders::SKU").
func Portal(name, remote string, fields Fields) PortalDef {
	return PortalDef{name: name, remote: remote, fields: fields}
}

// boundField is a FieldDef after validation, with its column resolved.
type boundField struct {
	remote string
	codec  field.Codec
	column field.Type
}

// Model is the bound field catalog of one layout.
type Model struct {
	layout  string
	fields  map[string]boundField
	portals map[string]*PortalModel
}

// PortalModel is the bound catalog of one portal's rows.
type PortalModel struct {
	name   string
	remote string
	rows   *Model
}

// Define builds a Model for the given layout. It validates every
// accessor name and checks each codec against its column type, so a
// Model that Define accepts cannot fail field binding later.
func Define(layout string, fields Fields, portals ...PortalDef) (*Model, error) {
	if layout == "" {
		return nil, core.Validationf("model needs a layout name")
	}
	bound, err := bindFields(fields)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %w", layout, err)
	}
	m := &Model{
		layout:  layout,
		fields:  bound,
		portals: make(map[string]*PortalModel, len(portals)),
	}
	for _, p := range portals {
		if err := checkName(p.name); err != nil {
			return nil, fmt.Errorf("layout %s: %w", layout, err)
		}
		if p.remote == "" {
			return nil, core.Validationf("layout %s: portal %q needs a portal name on the layout", layout, p.name)
		}
		if _, dup := m.fields[p.name]; dup {
			return nil, core.Validationf("layout %s: portal %q collides with a field of the same name", layout, p.name)
		}
		if _, dup := m.portals[p.name]; dup {
			return nil, core.Validationf("layout %s: portal %q declared twice", layout, p.name)
		}
		rows, err := bindFields(p.fields)
		if err != nil {
			return nil, fmt.Errorf("layout %s, portal %s: %w", layout, p.name, err)
		}
		m.portals[p.name] = &PortalModel{
			name:   p.name,
			remote: p.remote,
			rows:   &Model{layout: layout + "/" + p.remote, fields: rows},
		}
	}
	return m, nil
}

// MustDefine is Define for package-level model declarations. It panics
// on invalid definitions.
func MustDefine(layout string, fields Fields, portals ...PortalDef) *Model {
	m, err := Define(layout, fields, portals...)
	if err != nil {
		panic(err)
	}
	return m
}

func bindFields(fields Fields) (map[string]boundField, error) {
	out := make(map[string]boundField, len(fields))
	for name, def := range fields {
		if err := checkName(name); err != nil {
			return nil, err
		}
		if def.remote == "" {
			return nil, core.Validationf("field %q needs a FileMaker field name", name)
		}
		if def.codec == nil {
			return nil, core.Validationf("field %q needs a codec", name)
		}
		col := def.column
		if !def.columnSet {
			col = def.codec.DefaultColumn()
		}
		if !field.Supports(def.codec, col) {
			return nil, core.Validationf("field %q: codec %T cannot serve a %s column", name, def.codec, col)
		}
		out[name] = boundField{remote: def.remote, codec: def.codec, column: col}
	}
	return out, nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return core.Validationf("empty field name")
	case reservedNames[name]:
		return core.Validationf("field name %q is reserved", name)
	case strings.Contains(name, "__"):
		return core.Validationf("field name %q may not contain %q, the criteria shorthand separator", name, "__")
	case strings.HasPrefix(name, "_"):
		return core.Validationf("field name %q may not start with an underscore", name)
	}
	return nil
}

// Layout returns the layout the model reads and writes.
func (m *Model) Layout() string { return m.layout }

// FieldNames returns the declared accessor names, sorted.
func (m *Model) FieldNames() []string { return slices.Sorted(maps.Keys(m.fields)) }

// PortalNames returns the declared portal accessor names, sorted.
func (m *Model) PortalNames() []string { return slices.Sorted(maps.Keys(m.portals)) }

// RemoteName returns the FileMaker field name behind an accessor name.
func (m *Model) RemoteName(name string) (string, error) {
	f, err := m.fieldFor(name)
	if err != nil {
		return "", err
	}
	return f.remote, nil
}

// Spec describes one bound field. It exists for consumers that walk a
// model's catalog, such as table renderers and exporters.
type Spec struct {
	Name   string
	Remote string
	Codec  field.Codec
	Column field.Type
}

// Specs returns the bound fields sorted by accessor name.
func (m *Model) Specs() []Spec {
	out := make([]Spec, 0, len(m.fields))
	for _, name := range m.FieldNames() {
		f := m.fields[name]
		out = append(out, Spec{Name: name, Remote: f.remote, Codec: f.codec, Column: f.column})
	}
	return out
}

func (m *Model) fieldFor(name string) (boundField, error) {
	f, ok := m.fields[name]
	if !ok {
		return boundField{}, core.Validationf("layout %s has no field %q", m.layout, name)
	}
	return f, nil
}

func (m *Model) portalFor(name string) (*PortalModel, error) {
	p, ok := m.portals[name]
	if !ok {
		return nil, core.Validationf("layout %s has no portal %q", m.layout, name)
	}
	return p, nil
}

// Name returns the portal's accessor name.
func (p *PortalModel) Name() string { return p.name }

// Remote returns the portal's name on the layout.
func (p *PortalModel) Remote() string { return p.remote }

// Rows returns the catalog of the portal's row fields.
func (p *PortalModel) Rows() *Model { return p.rows }
