package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fmdata/pkg/core"
	"github.com/leapstack-labs/fmdata/pkg/field"
)

func TestDefine(t *testing.T) {
	m, err := Define("People", Fields{
		"name": Text("FullName"),
		"age":  Int("Age"),
	}, Portal("orders", "Orders", Fields{
		"sku": Text("Orders::SKU"),
	}))
	require.NoError(t, err)

	assert.Equal(t, "People", m.Layout())
	assert.Equal(t, []string{"age", "name"}, m.FieldNames())
	assert.Equal(t, []string{"orders"}, m.PortalNames())

	remote, err := m.RemoteName("age")
	require.NoError(t, err)
	assert.Equal(t, "Age", remote)

	_, err = m.RemoteName("missing")
	assert.True(t, core.IsValidation(err), "unknown field should be a validation error")
}

func TestDefine_NameValidation(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
	}{
		{"reserved name", Fields{"record_id": Text("Id")}},
		{"reserved portal name", Fields{"portal_name": Text("Name")}},
		{"shorthand separator", Fields{"age__gte": Int("Age")}},
		{"leading underscore", Fields{"_age": Int("Age")}},
		{"empty name", Fields{"": Int("Age")}},
		{"empty remote", Fields{"age": Int("")}},
		{"nil codec", Fields{"age": Custom("Age", nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Define("People", tt.fields)
			require.Error(t, err)
			assert.True(t, core.IsValidation(err), "want validation error, got %v", err)
		})
	}
}

func TestDefine_ColumnBinding(t *testing.T) {
	// An integer codec cannot serve a date column.
	_, err := Define("People", Fields{"age": Int("Age").On(field.TypeDate)})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	// A timestamp kept in a text column is a supported override.
	m, err := Define("People", Fields{"seen": Timestamp("LastSeen").On(field.TypeText)})
	require.NoError(t, err)

	specs := m.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "seen", specs[0].Name)
	assert.Equal(t, "LastSeen", specs[0].Remote)
	assert.Equal(t, field.TypeText, specs[0].Column)
}

func TestDefine_DefaultColumns(t *testing.T) {
	m, err := Define("People", Fields{
		"name":   Text("FullName"),
		"age":    Int("Age"),
		"score":  Float("Score"),
		"born":   Date("BirthDate"),
		"avatar": Container("Avatar"),
	})
	require.NoError(t, err)

	want := map[string]field.Type{
		"name":   field.TypeText,
		"age":    field.TypeNumber,
		"score":  field.TypeNumber,
		"born":   field.TypeDate,
		"avatar": field.TypeContainer,
	}
	for _, spec := range m.Specs() {
		assert.Equal(t, want[spec.Name], spec.Column, "column for %s", spec.Name)
	}
}

func TestDefine_PortalValidation(t *testing.T) {
	rows := Fields{"sku": Text("Orders::SKU")}

	// Portal accessor colliding with a field accessor.
	_, err := Define("People", Fields{"orders": Text("Orders")},
		Portal("orders", "Orders", rows))
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	// Same portal declared twice.
	_, err = Define("People", Fields{},
		Portal("orders", "Orders", rows), Portal("orders", "Orders", rows))
	require.Error(t, err)

	// Portal without a layout-side name.
	_, err = Define("People", Fields{}, Portal("orders", "", rows))
	require.Error(t, err)

	// Row fields are validated like model fields.
	_, err = Define("People", Fields{}, Portal("orders", "Orders", Fields{"__": Text("X")}))
	require.Error(t, err)
}

func TestMustDefine_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustDefine("People", Fields{"_bad": Text("Bad")})
	})
	assert.NotPanics(t, func() {
		MustDefine("People", Fields{"name": Text("FullName")})
	})
}

func TestModel_PortalRows(t *testing.T) {
	m := MustDefine("People", Fields{"name": Text("FullName")},
		Portal("orders", "Orders", Fields{
			"sku": Text("Orders::SKU"),
			"qty": Int("Orders::Qty"),
		}))

	pm, err := m.portalFor("orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", pm.Name())
	assert.Equal(t, "Orders", pm.Remote())
	assert.Equal(t, []string{"qty", "sku"}, pm.Rows().FieldNames())

	_, err = m.portalFor("lines")
	assert.True(t, core.IsValidation(err))
}
