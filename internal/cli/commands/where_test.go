package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/field"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

func whereModel(t *testing.T) *orm.Model {
	t.Helper()
	model, err := orm.Define("People", orm.Fields{
		"name": orm.Text("Name"),
		"age":  orm.Int("Age"),
		"born": orm.Date("Born"),
	})
	require.NoError(t, err)
	return model
}

func TestParseCriterion(t *testing.T) {
	model := whereModel(t)

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{name: "bare equality", expr: "name=Bob"},
		{name: "operator suffix", expr: "age__gte=30"},
		{name: "range", expr: "age__range=20...40"},
		{name: "empty needs no value", expr: "name__empty"},
		{name: "raw passthrough", expr: "age__raw=>=30"},
		{name: "date value", expr: "born__lt=2000-01-01"},
		{name: "missing value", expr: "name", wantErr: "no value"},
		{name: "unknown field", expr: "height__gte=2", wantErr: `unknown field "height"`},
		{name: "bad number", expr: "age__gte=tall", wantErr: "not a number"},
		{name: "bad range", expr: "age__range=20", wantErr: "lo...hi"},
		{name: "bad date", expr: "born__lt=soon", wantErr: "cannot parse"},
		{name: "empty expression", expr: "=5", wantErr: "empty criteria"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCriterion(model, tt.expr)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCoerceValue(t *testing.T) {
	v, err := coerceValue(field.TypeNumber, " 30 ")
	require.NoError(t, err)
	assert.Equal(t, float64(30), v)

	v, err = coerceValue(field.TypeDate, "12/25/2023")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC), v)

	v, err = coerceValue(field.TypeDate, "2023-12-25")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC), v)

	v, err = coerceValue(field.TypeText, "30")
	require.NoError(t, err)
	assert.Equal(t, "30", v)
}

func TestAccessorName(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"Name", "name"},
		{"First Name", "first_name"},
		{"Qty (on hand)", "qty_on_hand"},
		{"2nd Address", "f2nd_address"},
		{"__private", "private"},
		{"%%%", "field"},
		{"Layout", "layout2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, accessorName(tt.remote, map[string]bool{}), "remote %q", tt.remote)
	}

	taken := map[string]bool{"name": true}
	assert.Equal(t, "name2", accessorName("Name", taken))
}

func TestLayoutModelSkipsRelatedFields(t *testing.T) {
	meta := &client.LayoutMetadata{
		FieldMetaData: []client.FieldMetadata{
			{Name: "Name", Result: "text"},
			{Name: "Age", Result: "number"},
			{Name: "Orders::Total", Result: "number"},
		},
	}
	model, err := layoutModel("Contacts", meta)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"name", "age"}, model.FieldNames())
}
