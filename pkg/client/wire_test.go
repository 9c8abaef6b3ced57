package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

func TestCode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Code
		wantErr bool
	}{
		{name: "quoted zero", raw: `"0"`, want: 0},
		{name: "quoted code", raw: `"952"`, want: 952},
		{name: "bare number", raw: `401`, want: 401},
		{name: "empty string", raw: `""`, want: 0},
		{name: "null", raw: `null`, want: 0},
		{name: "garbage", raw: `"abc"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Code
			err := json.Unmarshal([]byte(tt.raw), &c)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestCode_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(Message{Code: 105, Message: "Layout is missing"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"105","message":"Layout is missing"}`, string(raw))
}

func TestEnvelope_Err(t *testing.T) {
	ok := okEnvelope(`{}`)
	assert.NoError(t, ok.Err())

	bad := codeEnvelope(212, "Invalid user account and/or password")
	err := bad.Err()
	require.Error(t, err)
	var rerr *core.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 212, rerr.Code)
	assert.Equal(t, "Invalid user account and/or password", rerr.Message)

	// The first non-zero message wins.
	mixed := &Envelope{
		Response: json.RawMessage(`{}`),
		Messages: []Message{{Code: 0, Message: "OK"}, {Code: 101, Message: "Record is missing"}},
	}
	assert.True(t, core.HasCode(mixed.Err(), 101))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"response":{"token":"abc"},"messages":[{"code":"0","message":"OK"}]}`))
	require.NoError(t, err)
	assert.True(t, env.HasCode(0))
	assert.False(t, env.HasCode(952))

	// A body without the messages array is not a Data API response.
	_, err = decodeEnvelope([]byte(`{"response":{}}`))
	var terr *core.TransportError
	require.ErrorAs(t, err, &terr)

	// Proxies and gateways answer with HTML on occasion.
	_, err = decodeEnvelope([]byte(`<html>502 Bad Gateway</html>`))
	require.ErrorAs(t, err, &terr)
}

func TestRecordsResponse_ScriptOutcome(t *testing.T) {
	raw := `{
		"scriptResult": "after", "scriptError": "0",
		"scriptResult.prerequest": "pre", "scriptError.prerequest": "0",
		"scriptResult.presort": "sort", "scriptError.presort": "3",
		"data": []
	}`
	var resp RecordsResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, "after", resp.Result)
	assert.Equal(t, "pre", resp.PrerequestResult)
	assert.Equal(t, "sort", resp.PresortResult)
	assert.Equal(t, "3", resp.PresortError)
}

func TestPortalRow_Accessors(t *testing.T) {
	row := PortalRow{
		"recordId":    "12",
		"modId":       "3",
		"Orders::sku": "A-100",
	}
	assert.Equal(t, "12", row.RecordID())
	assert.Equal(t, "3", row.ModID())
	assert.Equal(t, "A-100", row.Field("Orders", "sku"))
	assert.Nil(t, row.Field("Orders", "missing"))
}

func TestSearchParams_QueryValues(t *testing.T) {
	var nilParams *SearchParams
	assert.Empty(t, nilParams.queryValues())

	zero := &SearchParams{}
	v := zero.queryValues()
	assert.Equal(t, "1", v.Get("_offset"), "offset is 1-based on the wire")
	assert.Len(t, v, 1, "zero params should render only the offset")

	full := &SearchParams{
		Offset: 10,
		Limit:  50,
		Sort: []SortField{
			{FieldName: "Last", SortOrder: "ascend"},
			{FieldName: "Age", SortOrder: "descend"},
		},
		Portals: []PortalRequest{
			{Name: "orders", Offset: 2, Limit: 5},
			{Name: "notes"},
		},
		Scripts: Scripts{
			Prerequest: &ScriptSpec{Name: "Prep", Param: "a"},
			After:      &ScriptSpec{Name: "Log"},
		},
		ResponseLayout: "Compact",
		DateFormat:     DateFormatISO8601,
	}
	v = full.queryValues()
	assert.Equal(t, "11", v.Get("_offset"))
	assert.Equal(t, "50", v.Get("_limit"))
	assert.JSONEq(t, `[{"fieldName":"Last","sortOrder":"ascend"},{"fieldName":"Age","sortOrder":"descend"}]`, v.Get("_sort"))
	assert.JSONEq(t, `["orders","notes"]`, v.Get("portal"))
	assert.Equal(t, "3", v.Get("_offset.orders"))
	assert.Equal(t, "5", v.Get("_limit.orders"))
	assert.Empty(t, v.Get("_offset.notes"), "default portal window stays server-side")
	assert.Equal(t, "Compact", v.Get("layout.response"))
	assert.Equal(t, "2", v.Get("dateformats"))
	assert.Equal(t, "Prep", v.Get("script.prerequest"))
	assert.Equal(t, "a", v.Get("script.prerequest.param"))
	assert.Equal(t, "Log", v.Get("script"))
	assert.Empty(t, v.Get("script.param"), "no parameter, no key")

	us := &SearchParams{DateFormat: DateFormatUS}
	assert.Equal(t, "0", us.queryValues().Get("dateformats"))
}

func TestSearchParams_FindBody(t *testing.T) {
	query := []map[string]any{
		{"Last": "==Doe*"},
		{"Age": ">30", "omit": "true"},
	}

	var nilParams *SearchParams
	body := nilParams.findBody(query)
	assert.Len(t, body, 1, "nil params should render only the query")

	params := &SearchParams{
		Offset: 4,
		Limit:  20,
		Sort:   []SortField{{FieldName: "Last", SortOrder: "ascend"}},
		Portals: []PortalRequest{
			{Name: "orders", Offset: 1, Limit: 3},
		},
		Scripts:    Scripts{Presort: &ScriptSpec{Name: "Rank", Param: "9"}},
		DateFormat: DateFormatFileLocale,
	}
	body = params.findBody(query)

	// The window and portal directives ride the body as JSON numbers.
	assert.Equal(t, 5, body["offset"])
	assert.Equal(t, 20, body["limit"])
	assert.Equal(t, []SortField{{FieldName: "Last", SortOrder: "ascend"}}, body["sort"])
	assert.Equal(t, []string{"orders"}, body["portal"])
	assert.Equal(t, 2, body["offset.orders"])
	assert.Equal(t, 3, body["limit.orders"])
	assert.Equal(t, 1, body["dateformats"])
	assert.Equal(t, "Rank", body["script.presort"])
	assert.Equal(t, "9", body["script.presort.param"])
	assert.Equal(t, query, body["query"])

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(5), decoded["offset"], "offset must encode as a number")
}
