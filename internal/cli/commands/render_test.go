package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fmdata/internal/cli/testutil"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

func renderFixture(t *testing.T) (*orm.Model, []*orm.Record) {
	t.Helper()

	model, err := orm.Define("contacts", orm.Fields{
		"name": orm.Text("name"),
		"age":  orm.Int("age"),
	})
	require.NoError(t, err)

	transport, err := client.NewHTTPTransport("https://fm.example.com")
	require.NoError(t, err)
	c := client.New(transport, "crm",
		client.UsernamePassword{Username: "dev", Password: "dev"})
	mgr := orm.NewManager(c, model)

	var recs []*orm.Record
	for _, row := range []struct {
		name string
		age  int
	}{{"alice", 25}, {"bob", 34}} {
		rec := mgr.NewRecord()
		require.NoError(t, rec.Set("name", row.name))
		require.NoError(t, rec.Set("age", row.age))
		recs = append(recs, rec)
	}
	return model, recs
}

func TestRenderRecordsJSON(t *testing.T) {
	model, recs := renderFixture(t)

	tr := testutil.NewTestRendererJSON()
	require.NoError(t, renderRecords(tr.Renderer, model, recs))

	var doc struct {
		Count   int              `json:"count"`
		Records []map[string]any `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(tr.Output()), &doc))
	assert.Equal(t, 2, doc.Count)
	require.Len(t, doc.Records, 2)
	assert.Equal(t, "alice", doc.Records[0]["name"])
}

func TestRenderRecordsMarkdown(t *testing.T) {
	model, recs := renderFixture(t)

	tr := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderRecords(tr.Renderer, model, recs))

	out := tr.Output()
	testutil.AssertValidMarkdown(t, out)
	testutil.AssertNoANSI(t, out)
	testutil.AssertContains(t, out, "| --- |")
	testutil.AssertContains(t, out, "bob")
}

func TestRenderRecordsText(t *testing.T) {
	model, recs := renderFixture(t)

	tr := testutil.NewTestRendererText()
	require.NoError(t, renderRecords(tr.Renderer, model, recs))

	out := tr.Output()
	testutil.AssertContains(t, out, "alice")
	testutil.AssertNotContains(t, out, "| --- |")
}

func TestDisplayValue(t *testing.T) {
	assert.Equal(t, "", displayValue(nil))
	assert.Equal(t, "true", displayValue(true))
	assert.Equal(t, "42", displayValue(int64(42)))
	assert.Equal(t, "3.5", displayValue(3.5))
}
