package orm

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

// Record is one layout record. Its field values are decoded Go values
// keyed by the model's accessor names; the raw wire data is kept so the
// record can be re-read under another model with As.
//
// A Record tracks which fields changed since it was loaded. Manager.Save
// writes only those.
type Record struct {
	mgr     *Manager
	model   *Model
	id      string
	modID   string
	raw     client.RecordData
	values  map[string]any
	dirty   map[string]bool
	portals map[string]*PortalSet
}

// RecordID returns the server-assigned record id, or "" before the
// record is first saved.
func (r *Record) RecordID() string { return r.id }

// ModID returns the record's modification id as of the last read or
// write.
func (r *Record) ModID() string { return r.modID }

// Model returns the model the record is bound to.
func (r *Record) Model() *Model { return r.model }

// Get returns the decoded value of a declared field. A field the server
// sent as empty, or did not send at all, reads as nil.
func (r *Record) Get(name string) (any, error) {
	if _, err := r.model.fieldFor(name); err != nil {
		return nil, err
	}
	return r.values[name], nil
}

// Set stores a new value for a declared field and marks it changed.
// The value is checked against the field's codec immediately, so a
// value the wire cannot carry fails here and not at save time.
// Setting nil clears the field on the next save.
func (r *Record) Set(name string, v any) error {
	f, err := r.model.fieldFor(name)
	if err != nil {
		return err
	}
	if _, err := f.codec.Encode(f.column, v); err != nil {
		return err
	}
	r.values[name] = v
	r.dirty[name] = true
	return nil
}

// String returns a text field's value. A nil value reads as "".
func (r *Record) String(name string) (string, error) {
	return typed[string](r, name)
}

// Int returns an integer field's value. A nil value reads as 0.
func (r *Record) Int(name string) (int64, error) {
	return typed[int64](r, name)
}

// Float returns a float field's value. A nil value reads as 0.
func (r *Record) Float(name string) (float64, error) {
	return typed[float64](r, name)
}

// Bool returns a boolean field's value. A nil value reads as false.
func (r *Record) Bool(name string) (bool, error) {
	return typed[bool](r, name)
}

// Time returns a date, time or timestamp field's value. A nil value
// reads as the zero time.
func (r *Record) Time(name string) (time.Time, error) {
	return typed[time.Time](r, name)
}

// Decimal returns an exact decimal field's value. A nil value reads as
// decimal zero.
func (r *Record) Decimal(name string) (decimal.Decimal, error) {
	return typed[decimal.Decimal](r, name)
}

func typed[T any](r *Record, name string) (T, error) {
	var zero T
	v, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, core.Validationf("field %q holds %T, not %T", name, v, zero)
	}
	return t, nil
}

// Values returns a copy of the decoded field values by accessor name.
// Fields that read as nil are not included.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// Dirty returns the accessor names changed since the record was loaded,
// sorted.
func (r *Record) Dirty() []string {
	return slices.Sorted(maps.Keys(r.dirty))
}

func (r *Record) clearDirty() {
	clear(r.dirty)
}

// As re-decodes the record's raw wire data under another model. Use it
// after a ResponseLayout query, where records arrive shaped by one
// layout but were requested through another's manager.
func (r *Record) As(m *Model) (*Record, error) {
	return r.mgr.decodeAs(m, r.raw)
}

// Portal returns the named portal's row collection for this record.
func (r *Record) Portal(name string) (*PortalSet, error) {
	if _, err := r.model.portalFor(name); err != nil {
		return nil, err
	}
	return r.portals[name], nil
}
