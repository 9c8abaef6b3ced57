package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

const okBody = `{"response":{},"messages":[{"code":"0","message":"OK"}]}`

type apiCall struct {
	method string
	path   string
	header http.Header
	body   []byte
}

// fakeAPI records every request and answers the session endpoints itself,
// handing out tok-1, tok-2, ... so tests only script the calls they care
// about.
type fakeAPI struct {
	t       *testing.T
	calls   []apiCall
	handler func(call apiCall) ([]byte, error)
	logins  int
}

func (f *fakeAPI) Send(ctx context.Context, method, path string, header http.Header, body io.Reader) ([]byte, error) {
	var raw []byte
	if body != nil {
		b, err := io.ReadAll(body)
		require.NoError(f.t, err)
		raw = b
	}
	call := apiCall{method: method, path: path, header: header, body: raw}
	f.calls = append(f.calls, call)

	switch {
	case method == http.MethodPost && strings.HasSuffix(path, "/sessions"):
		f.logins++
		return []byte(fmt.Sprintf(`{"response":{"token":"tok-%d"},"messages":[{"code":"0","message":"OK"}]}`, f.logins)), nil
	case method == http.MethodDelete && strings.Contains(path, "/sessions/"):
		return []byte(okBody), nil
	}
	if f.handler == nil {
		return []byte(okBody), nil
	}
	return f.handler(call)
}

func newTestClient(t *testing.T, handler func(apiCall) ([]byte, error), opts ...Option) (*Client, *fakeAPI) {
	f := &fakeAPI{t: t, handler: handler}
	c := New(f, "sales", UsernamePassword{Username: "admin", Password: "secret"}, opts...)
	return c, f
}

func splitPath(t *testing.T, full string) (string, url.Values) {
	t.Helper()
	u, err := url.Parse(full)
	require.NoError(t, err)
	return u.EscapedPath(), u.Query()
}

func TestClient_Login(t *testing.T) {
	c, f := newTestClient(t, nil)

	require.NoError(t, c.Login(context.Background()))
	require.Len(t, f.calls, 1)

	call := f.calls[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/fmi/data/v1/databases/sales/sessions", call.path)
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", call.header.Get("Authorization"))
	assert.Equal(t, "application/json", call.header.Get("Content-Type"))
	assert.JSONEq(t, `{}`, string(call.body))

	assert.Equal(t, StateActive, c.Session().State())
	assert.Equal(t, "tok-1", c.Session().Token())
}

func TestClient_LoginDataSources(t *testing.T) {
	f := &fakeAPI{t: t}
	provider := UsernamePassword{
		Username: "admin",
		Password: "secret",
		DataSources: []DataSource{
			{Database: "Inventory", Username: "ext", Password: "pw"},
		},
	}
	c := New(f, "sales", provider)

	require.NoError(t, c.Login(context.Background()))
	assert.JSONEq(t,
		`{"fmDataSource":[{"database":"Inventory","username":"ext","password":"pw"}]}`,
		string(f.calls[0].body))
}

func TestClient_Logout(t *testing.T) {
	c, f := newTestClient(t, nil)

	require.NoError(t, c.Login(context.Background()))
	require.NoError(t, c.Logout(context.Background()))
	require.Len(t, f.calls, 2)

	call := f.calls[1]
	assert.Equal(t, http.MethodDelete, call.method)
	assert.Equal(t, "/fmi/data/v1/databases/sales/sessions/tok-1", call.path)
	assert.Empty(t, call.header.Get("Authorization"), "logout authenticates via the path")
	assert.Equal(t, StateNoSession, c.Session().State())
}

func TestClient_AutoLogin(t *testing.T) {
	layoutsBody := `{"response":{"layouts":[
		{"name":"People"},
		{"name":"Admin","isFolder":true,"folderLayoutNames":[{"name":"Audit"}]}
	]},"messages":[{"code":"0","message":"OK"}]}`
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(layoutsBody), nil
	})

	layouts, err := c.GetLayouts(context.Background())
	require.NoError(t, err)

	// The first operation logs in on its own.
	require.Len(t, f.calls, 2)
	assert.Equal(t, "/fmi/data/v1/databases/sales/sessions", f.calls[0].path)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts", f.calls[1].path)
	assert.Equal(t, "Bearer tok-1", f.calls[1].header.Get("Authorization"))

	require.Len(t, layouts, 2)
	assert.Equal(t, "People", layouts[0].Name)
	assert.True(t, layouts[1].IsFolder)
	require.Len(t, layouts[1].FolderLayoutNames, 1)
	assert.Equal(t, "Audit", layouts[1].FolderLayoutNames[0].Name)
}

func TestClient_ManualSession(t *testing.T) {
	c, f := newTestClient(t, nil, WithManualSession())

	_, err := c.GetLayouts(context.Background())
	var serr *core.SessionError
	require.ErrorAs(t, err, &serr)
	assert.Empty(t, f.calls, "no network before an explicit login")

	require.NoError(t, c.Login(context.Background()))
	_, err = c.GetLayouts(context.Background())
	require.NoError(t, err)
}

func TestClient_ExpiredTokenRetried(t *testing.T) {
	recordCalls := 0
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		recordCalls++
		if recordCalls == 1 {
			return []byte(`{"response":{},"messages":[{"code":"952","message":"Invalid FileMaker Data API token (*)"}]}`), nil
		}
		return []byte(`{"response":{"data":[]},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	resp, err := c.GetRecords(context.Background(), "People", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Data)

	// login, rejected read, fresh login, read again
	require.Len(t, f.calls, 4)
	assert.Equal(t, "Bearer tok-1", f.calls[1].header.Get("Authorization"))
	assert.Equal(t, http.MethodPost, f.calls[2].method)
	assert.Equal(t, "Bearer tok-2", f.calls[3].header.Get("Authorization"))
}

func TestClient_GetRecords(t *testing.T) {
	recordsBody := `{"response":{
		"data":[{
			"recordId":"101","modId":"2",
			"fieldData":{"Name":"Ann","Age":34},
			"portalData":{"orders":[{"recordId":"7","modId":"0","Orders::sku":"A-1"}]}
		}],
		"dataInfo":{"database":"sales","layout":"People","table":"People",
			"totalRecordCount":250,"foundCount":42,"returnedCount":1}
	},"messages":[{"code":"0","message":"OK"}]}`
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(recordsBody), nil
	})

	resp, err := c.GetRecords(context.Background(), "People", &SearchParams{Offset: 5, Limit: 25})
	require.NoError(t, err)

	path, q := splitPath(t, f.calls[1].path)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/records", path)
	assert.Equal(t, "6", q.Get("_offset"))
	assert.Equal(t, "25", q.Get("_limit"))

	require.Len(t, resp.Data, 1)
	rec := resp.Data[0]
	assert.Equal(t, "101", rec.RecordID)
	assert.Equal(t, "2", rec.ModID)
	assert.Equal(t, "Ann", rec.FieldData["Name"])
	assert.Equal(t, float64(34), rec.FieldData["Age"])
	require.Len(t, rec.PortalData["orders"], 1)
	assert.Equal(t, "A-1", rec.PortalData["orders"][0].Field("Orders", "sku"))
	require.NotNil(t, resp.DataInfo)
	assert.Equal(t, 42, resp.DataInfo.FoundCount)
	assert.Equal(t, 250, resp.DataInfo.TotalRecordCount)
}

func TestClient_GetRecordDropsWindow(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"data":[{"recordId":"101","modId":"0","fieldData":{}}]},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	params := &SearchParams{
		Offset:  3,
		Limit:   7,
		Portals: []PortalRequest{{Name: "orders", Limit: 2}},
	}
	resp, err := c.GetRecord(context.Background(), "People", "101", params)
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)

	path, q := splitPath(t, f.calls[1].path)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/records/101", path)
	assert.Empty(t, q.Get("_offset"), "window does not apply to a single record")
	assert.Empty(t, q.Get("_limit"))
	assert.JSONEq(t, `["orders"]`, q.Get("portal"))
	assert.Equal(t, "2", q.Get("_limit.orders"))
}

func TestClient_Find(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"data":[]},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	query := []map[string]any{
		{"Name": "==Ann*"},
		{"Age": ">30", "omit": "true"},
	}
	params := &SearchParams{
		Limit: 10,
		Sort:  []SortField{{FieldName: "Name", SortOrder: "ascend"}},
	}
	_, err := c.Find(context.Background(), "People", query, params)
	require.NoError(t, err)

	call := f.calls[1]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/_find", call.path)
	assert.Equal(t, "application/json", call.header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(call.body, &body))
	assert.Equal(t, float64(1), body["offset"])
	assert.Equal(t, float64(10), body["limit"])
	assert.Len(t, body["query"], 2)
	assert.Equal(t, map[string]any{"Age": ">30", "omit": "true"}, body["query"].([]any)[1])
}

func TestClient_CreateRecord(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"recordId":"310","modId":"0"},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	params := &WriteParams{
		PortalData: map[string][]PortalRow{
			"orders": {{"Orders::sku": "A-1"}},
		},
	}
	resp, err := c.CreateRecord(context.Background(), "People", map[string]any{"Name": "Ann"}, params)
	require.NoError(t, err)
	assert.Equal(t, "310", resp.RecordID)
	assert.Equal(t, "0", resp.ModID)

	call := f.calls[1]
	assert.Equal(t, http.MethodPost, call.method)
	assert.JSONEq(t,
		`{"fieldData":{"Name":"Ann"},"portalData":{"orders":[{"Orders::sku":"A-1"}]}}`,
		string(call.body))
}

func TestClient_EditRecord(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"modId":"5"},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	fieldData := map[string]any{
		"Name":          "Anne",
		"deleteRelated": "Orders.7",
	}
	modID, err := c.EditRecord(context.Background(), "People", "310", fieldData, "4", nil)
	require.NoError(t, err)
	assert.Equal(t, "5", modID)

	call := f.calls[1]
	assert.Equal(t, http.MethodPatch, call.method)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/records/310", call.path)
	assert.JSONEq(t,
		`{"fieldData":{"Name":"Anne","deleteRelated":"Orders.7"},"modId":"4"}`,
		string(call.body))
}

func TestClient_DeleteRecord(t *testing.T) {
	c, f := newTestClient(t, nil)

	scripts := Scripts{After: &ScriptSpec{Name: "Cleanup", Param: "1"}}
	require.NoError(t, c.DeleteRecord(context.Background(), "People", "310", scripts))

	call := f.calls[1]
	assert.Equal(t, http.MethodDelete, call.method)
	path, q := splitPath(t, call.path)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/records/310", path)
	assert.Equal(t, "Cleanup", q.Get("script"))
	assert.Equal(t, "1", q.Get("script.param"))
	assert.Empty(t, call.body)
}

func TestClient_DuplicateRecord(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"recordId":"311","modId":"0"},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	resp, err := c.DuplicateRecord(context.Background(), "People", "310")
	require.NoError(t, err)
	assert.Equal(t, "311", resp.RecordID)

	call := f.calls[1]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/records/310", call.path)
	assert.Empty(t, call.body)
}

func TestClient_PerformScript(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"scriptResult":"42","scriptError":"0"},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	outcome, err := c.PerformScript(context.Background(), "People", "Daily Report", "2026-08-23")
	require.NoError(t, err)
	assert.Equal(t, "42", outcome.Result)
	assert.Equal(t, "0", outcome.Error)

	path, q := splitPath(t, f.calls[1].path)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/script/Daily%20Report", path)
	assert.Equal(t, "2026-08-23", q.Get("script.param"))
}

func TestClient_SetGlobals(t *testing.T) {
	c, f := newTestClient(t, nil)

	require.NoError(t, c.SetGlobals(context.Background(), map[string]any{"Globals::gRegion": "EMEA"}))

	call := f.calls[1]
	assert.Equal(t, http.MethodPatch, call.method)
	assert.Equal(t, "/fmi/data/v1/databases/sales/globals", call.path)
	assert.JSONEq(t, `{"globalFields":{"Globals::gRegion":"EMEA"}}`, string(call.body))
}

func TestClient_UploadContainer(t *testing.T) {
	c, f := newTestClient(t, nil)

	err := c.UploadContainer(context.Background(), "People", "310", "Photo", 2, "avatar.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)

	call := f.calls[1]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People/records/310/containers/Photo/2", call.path)
	assert.Equal(t, "Bearer tok-1", call.header.Get("Authorization"))

	mediaType, mediaParams, err := mime.ParseMediaType(call.header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	mr := multipart.NewReader(bytes.NewReader(call.body), mediaParams["boundary"])
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "upload", part.FormName())
	assert.Equal(t, "avatar.png", part.FileName())
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestClient_GetProductInfo(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"productInfo":{
			"name":"FileMaker Data API Engine",
			"version":"21.0.1.45",
			"dateFormat":"MM/dd/yyyy",
			"timeFormat":"HH:mm:ss",
			"timeStampFormat":"MM/dd/yyyy HH:mm:ss"
		}},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	info, err := c.GetProductInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FileMaker Data API Engine", info.Name)
	assert.Equal(t, "21.0.1.45", info.Version)
	assert.Equal(t, "MM/dd/yyyy", info.DateFormat)

	// Sessionless: one call, no login, no bearer.
	require.Len(t, f.calls, 1)
	assert.Equal(t, "/fmi/data/v1/productInfo", f.calls[0].path)
	assert.Empty(t, f.calls[0].header.Get("Authorization"))
}

func TestClient_GetDatabases(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"databases":[{"name":"sales"},{"name":"hr"}]},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	names, err := c.GetDatabases(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "hr"}, names)
	assert.Equal(t, "/fmi/data/v1/databases", f.calls[0].path)
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", f.calls[0].header.Get("Authorization"))

	_, err = c.GetDatabases(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, f.calls[1].header.Get("Authorization"), "credentials are optional")
}

func TestClient_GetLayoutMetadata(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{
			"fieldMetaData":[{"name":"Name","type":"normal","displayType":"editText","result":"text","maxRepeat":1}],
			"portalMetaData":{"orders":[{"name":"Orders::sku","type":"normal","result":"text","maxRepeat":1}]},
			"valueLists":[{"name":"Regions","type":"customList","values":[{"displayValue":"EMEA","value":"EMEA"}]}]
		},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	meta, err := c.GetLayoutMetadata(context.Background(), "People")
	require.NoError(t, err)
	assert.Equal(t, "/fmi/data/v1/databases/sales/layouts/People", f.calls[1].path)

	require.Len(t, meta.FieldMetaData, 1)
	assert.Equal(t, "Name", meta.FieldMetaData[0].Name)
	assert.Equal(t, "text", meta.FieldMetaData[0].Result)
	require.Len(t, meta.PortalMetaData["orders"], 1)
	assert.Equal(t, "Orders::sku", meta.PortalMetaData["orders"][0].Name)
	require.Len(t, meta.ValueLists, 1)
	assert.Equal(t, "Regions", meta.ValueLists[0].Name)
}

func TestClient_GetScripts(t *testing.T) {
	c, f := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{"scripts":[
			{"name":"Daily Report"},
			{"name":"Maintenance","isFolder":true,"folderScriptNames":[{"name":"Reindex"}]}
		]},"messages":[{"code":"0","message":"OK"}]}`), nil
	})

	scripts, err := c.GetScripts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/fmi/data/v1/databases/sales/scripts", f.calls[1].path)
	require.Len(t, scripts, 2)
	assert.Equal(t, "Daily Report", scripts[0].Name)
	assert.True(t, scripts[1].IsFolder)
	assert.Equal(t, "Reindex", scripts[1].FolderScriptNames[0].Name)
}

func TestClient_PathEscaping(t *testing.T) {
	f := &fakeAPI{t: t}
	c := New(f, "Field Ops", UsernamePassword{Username: "a", Password: "b"}, WithAPIVersion("vLatest"))

	_, err := c.GetRecords(context.Background(), "People List", nil)
	require.NoError(t, err)

	assert.Equal(t, "/fmi/data/vLatest/databases/Field%20Ops/sessions", f.calls[0].path)
	path, _ := splitPath(t, f.calls[1].path)
	assert.Equal(t, "/fmi/data/vLatest/databases/Field%20Ops/layouts/People%20List/records", path)
}

func TestClient_RemoteError(t *testing.T) {
	c, _ := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`{"response":{},"messages":[{"code":"105","message":"Layout is missing"}]}`), nil
	})

	_, err := c.GetLayoutMetadata(context.Background(), "Nope")
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.CodeLayoutMissing))
}

func TestClient_MalformedBody(t *testing.T) {
	c, _ := newTestClient(t, func(call apiCall) ([]byte, error) {
		return []byte(`<html>502 Bad Gateway</html>`), nil
	})

	_, err := c.GetLayouts(context.Background())
	var terr *core.TransportError
	require.ErrorAs(t, err, &terr)
}
