// Package client is the raw FileMaker Data API client: transport, session
// lifecycle and one method per API operation. It deals in wire shapes
// (fieldData maps, portal rows, message envelopes); typed models, query
// building and pagination live in pkg/orm on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

const defaultAPIVersion = "v1"

// Client drives one database of one FileMaker Server.
type Client struct {
	transport  Transport
	session    *Session
	database   string
	apiVersion string
	autoManage bool
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	apiVersion string
	autoManage bool
	cooldown   time.Duration
	logger     *slog.Logger
}

// WithAPIVersion selects the Data API version segment, "v1" by default.
func WithAPIVersion(v string) Option {
	return func(cfg *clientConfig) { cfg.apiVersion = v }
}

// WithManualSession disables automatic session management. Operations then
// require an explicit Login first and never re-login on an expired token.
func WithManualSession() Option {
	return func(cfg *clientConfig) { cfg.autoManage = false }
}

// WithLoginCooldown sets the minimum gap between login attempts, one second
// by default. Zero disables the guard.
func WithLoginCooldown(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.cooldown = d }
}

// WithLogger attaches a logger for client and session debug output.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = l }
}

// New builds a client for the given database, authenticating through
// provider.
func New(transport Transport, database string, provider SessionProvider, opts ...Option) *Client {
	cfg := clientConfig{
		apiVersion: defaultAPIVersion,
		autoManage: true,
		cooldown:   defaultCooldown,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Client{
		transport:  transport,
		database:   database,
		apiVersion: cfg.apiVersion,
		autoManage: cfg.autoManage,
		logger:     logger,
	}
	c.session = NewSession(
		c.loginFunc(provider),
		c.logoutFunc(),
		WithCooldown(cfg.cooldown),
		WithSessionLogger(logger),
	)
	return c
}

// Database returns the database name the client is bound to.
func (c *Client) Database() string { return c.database }

// Session exposes the session controller, mainly for state inspection.
func (c *Client) Session() *Session { return c.session }

func (c *Client) String() string {
	return fmt.Sprintf("client database=%s state=%s", c.database, c.session.State())
}

// =============================================================================
// Paths
// =============================================================================

func (c *Client) path(format string, segments ...string) string {
	escaped := make([]any, 0, len(segments)+1)
	escaped = append(escaped, c.apiVersion)
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return fmt.Sprintf(format, escaped...)
}

const (
	fmtSessions    = "/fmi/data/%s/databases/%s/sessions"
	fmtSession     = "/fmi/data/%s/databases/%s/sessions/%s"
	fmtProductInfo = "/fmi/data/%s/productInfo"
	fmtDatabases   = "/fmi/data/%s/databases"
	fmtLayouts     = "/fmi/data/%s/databases/%s/layouts"
	fmtLayout      = "/fmi/data/%s/databases/%s/layouts/%s"
	fmtScripts     = "/fmi/data/%s/databases/%s/scripts"
	fmtRecords     = "/fmi/data/%s/databases/%s/layouts/%s/records"
	fmtRecord      = "/fmi/data/%s/databases/%s/layouts/%s/records/%s"
	fmtFind        = "/fmi/data/%s/databases/%s/layouts/%s/_find"
	fmtScript      = "/fmi/data/%s/databases/%s/layouts/%s/script/%s"
	fmtGlobals     = "/fmi/data/%s/databases/%s/globals"
	fmtContainer   = "/fmi/data/%s/databases/%s/layouts/%s/records/%s/containers/%s/%s"
)

// =============================================================================
// Session operations
// =============================================================================

func (c *Client) loginFunc(provider SessionProvider) LoginFunc {
	return func(ctx context.Context) (string, error) {
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		body := map[string]any{}
		provider.Apply(header, body)

		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode login body: %w", err)
		}
		env, err := c.send(ctx, http.MethodPost, c.path(fmtSessions, c.database), header, bytes.NewReader(raw))
		if err != nil {
			return "", err
		}
		if err := env.Err(); err != nil {
			return "", err
		}
		var resp struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(env.Response, &resp); err != nil {
			return "", &core.TransportError{Op: "decode login", Err: err}
		}
		if resp.Token == "" {
			return "", &core.TransportError{Op: "decode login", Err: fmt.Errorf("no token in response")}
		}
		return resp.Token, nil
	}
}

func (c *Client) logoutFunc() LogoutFunc {
	return func(ctx context.Context, token string) error {
		env, err := c.send(ctx, http.MethodDelete, c.path(fmtSession, c.database, token), nil, nil)
		if err != nil {
			return err
		}
		return env.Err()
	}
}

// Login establishes a session now. With automatic session management this is
// optional; operations log in on demand.
func (c *Client) Login(ctx context.Context) error {
	return c.session.ensure(ctx, false)
}

// Logout releases the session. A no-op when no session is active.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// =============================================================================
// Server metadata (no session)
// =============================================================================

// GetProductInfo reports server name, version and format metadata. No
// session is required.
func (c *Client) GetProductInfo(ctx context.Context) (*ProductInfo, error) {
	env, err := c.send(ctx, http.MethodGet, c.path(fmtProductInfo), nil, nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var resp struct {
		ProductInfo ProductInfo `json:"productInfo"`
	}
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, &core.TransportError{Op: "decode productInfo", Err: err}
	}
	return &resp.ProductInfo, nil
}

// GetDatabases lists databases hosted on the server. Credentials are
// optional; without them only databases open to guests appear.
func (c *Client) GetDatabases(ctx context.Context, username, password string) ([]string, error) {
	var header http.Header
	if username != "" {
		header = http.Header{}
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		header.Set("Authorization", "Basic "+credentials)
	}
	env, err := c.send(ctx, http.MethodGet, c.path(fmtDatabases), header, nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var resp struct {
		Databases []struct {
			Name string `json:"name"`
		} `json:"databases"`
	}
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, &core.TransportError{Op: "decode databases", Err: err}
	}
	names := make([]string, len(resp.Databases))
	for i, db := range resp.Databases {
		names[i] = db.Name
	}
	return names, nil
}

// =============================================================================
// Database metadata
// =============================================================================

// GetLayouts lists the database's layouts, folders included.
func (c *Client) GetLayouts(ctx context.Context) ([]LayoutInfo, error) {
	env, err := c.do(ctx, http.MethodGet, c.path(fmtLayouts, c.database), nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var resp struct {
		Layouts []LayoutInfo `json:"layouts"`
	}
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, &core.TransportError{Op: "decode layouts", Err: err}
	}
	return resp.Layouts, nil
}

// GetLayoutMetadata reports the field and portal metadata of one layout.
func (c *Client) GetLayoutMetadata(ctx context.Context, layout string) (*LayoutMetadata, error) {
	env, err := c.do(ctx, http.MethodGet, c.path(fmtLayout, c.database, layout), nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var meta LayoutMetadata
	if err := json.Unmarshal(env.Response, &meta); err != nil {
		return nil, &core.TransportError{Op: "decode layout metadata", Err: err}
	}
	return &meta, nil
}

// GetScripts lists the database's scripts, folders included.
func (c *Client) GetScripts(ctx context.Context) ([]ScriptInfo, error) {
	env, err := c.do(ctx, http.MethodGet, c.path(fmtScripts, c.database), nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var resp struct {
		Scripts []ScriptInfo `json:"scripts"`
	}
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, &core.TransportError{Op: "decode scripts", Err: err}
	}
	return resp.Scripts, nil
}

// =============================================================================
// Records
// =============================================================================

// GetRecords reads a page of records from a layout.
func (c *Client) GetRecords(ctx context.Context, layout string, params *SearchParams) (*RecordsResponse, error) {
	path := c.path(fmtRecords, c.database, layout)
	if q := params.queryValues(); len(q) > 0 {
		path += "?" + q.Encode()
	}
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecords(env)
}

// GetRecord reads a single record by id. Portal windows, scripts and the
// response layout are honored; the window itself is ignored for a single
// record.
func (c *Client) GetRecord(ctx context.Context, layout, recordID string, params *SearchParams) (*RecordsResponse, error) {
	path := c.path(fmtRecord, c.database, layout, recordID)
	if params != nil {
		q := params.queryValues()
		q.Del("_offset")
		q.Del("_limit")
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
	}
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecords(env)
}

// Find runs a find request. Each query entry is one criteria group; groups
// are OR'd by the server and an entry with "omit":"true" subtracts instead
// of adds.
func (c *Client) Find(ctx context.Context, layout string, query []map[string]any, params *SearchParams) (*RecordsResponse, error) {
	body, err := json.Marshal(params.findBody(query))
	if err != nil {
		return nil, fmt.Errorf("encode find body: %w", err)
	}
	env, err := c.do(ctx, http.MethodPost, c.path(fmtFind, c.database, layout), body)
	if err != nil {
		return nil, err
	}
	return decodeRecords(env)
}

func decodeRecords(env *Envelope) (*RecordsResponse, error) {
	if err := env.Err(); err != nil {
		return nil, err
	}
	var resp RecordsResponse
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, &core.TransportError{Op: "decode records", Err: err}
	}
	return &resp, nil
}

// WriteParams shape a create or edit: portal rows, scripts and date format.
type WriteParams struct {
	PortalData map[string][]PortalRow
	Scripts    Scripts
	DateFormat DateFormat
}

func (p *WriteParams) bodyEntries(body map[string]any) {
	if p == nil {
		return
	}
	if len(p.PortalData) > 0 {
		body["portalData"] = p.PortalData
	}
	if p.DateFormat != DateFormatDefault {
		body["dateformats"] = p.DateFormat.wireValue()
	}
	p.Scripts.bodyEntries(body)
}

// CreateRecord creates a record and returns its id and mod id.
func (c *Client) CreateRecord(ctx context.Context, layout string, fieldData map[string]any, params *WriteParams) (*CreateRecordResponse, error) {
	entry := map[string]any{"fieldData": fieldData}
	params.bodyEntries(entry)
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode create body: %w", err)
	}
	env, err := c.do(ctx, http.MethodPost, c.path(fmtRecords, c.database, layout), body)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var resp CreateRecordResponse
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, &core.TransportError{Op: "decode create", Err: err}
	}
	return &resp, nil
}

// EditRecord patches a record's fields and returns the new mod id. A
// non-empty modID makes the edit conditional on the record being unchanged
// since that modification. Portal rows in params carrying a recordId update
// the related record, rows without create one; related deletions go in
// fieldData under deleteRelated as "Table.recordID" entries.
func (c *Client) EditRecord(ctx context.Context, layout, recordID string, fieldData map[string]any, modID string, params *WriteParams) (string, error) {
	entry := map[string]any{"fieldData": fieldData}
	if modID != "" {
		entry["modId"] = modID
	}
	params.bodyEntries(entry)
	body, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode edit body: %w", err)
	}
	env, err := c.do(ctx, http.MethodPatch, c.path(fmtRecord, c.database, layout, recordID), body)
	if err != nil {
		return "", err
	}
	if err := env.Err(); err != nil {
		return "", err
	}
	var resp EditRecordResponse
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return "", &core.TransportError{Op: "decode edit", Err: err}
	}
	return resp.ModID, nil
}

// DeleteRecord removes a record.
func (c *Client) DeleteRecord(ctx context.Context, layout, recordID string, scripts Scripts) error {
	path := c.path(fmtRecord, c.database, layout, recordID)
	if !scripts.empty() {
		q := url.Values{}
		scripts.queryValues(q)
		path += "?" + q.Encode()
	}
	env, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return env.Err()
}

// DuplicateRecord copies a record and returns the copy's id and mod id.
func (c *Client) DuplicateRecord(ctx context.Context, layout, recordID string) (*CreateRecordResponse, error) {
	env, err := c.do(ctx, http.MethodPost, c.path(fmtRecord, c.database, layout, recordID), nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var resp CreateRecordResponse
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, &core.TransportError{Op: "decode duplicate", Err: err}
	}
	return &resp, nil
}

// =============================================================================
// Scripts, globals, containers
// =============================================================================

// PerformScript runs a script in the context of a layout and returns its
// outcome.
func (c *Client) PerformScript(ctx context.Context, layout, script, param string) (*ScriptOutcome, error) {
	path := c.path(fmtScript, c.database, layout, script)
	if param != "" {
		q := url.Values{}
		q.Set("script.param", param)
		path += "?" + q.Encode()
	}
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	var outcome ScriptOutcome
	if err := json.Unmarshal(env.Response, &outcome); err != nil {
		return nil, &core.TransportError{Op: "decode script", Err: err}
	}
	return &outcome, nil
}

// SetGlobals sets global field values for the session. Keys are fully
// qualified ("Table::field").
func (c *Client) SetGlobals(ctx context.Context, globals map[string]any) error {
	body, err := json.Marshal(map[string]any{"globalFields": globals})
	if err != nil {
		return fmt.Errorf("encode globals body: %w", err)
	}
	env, err := c.do(ctx, http.MethodPatch, c.path(fmtGlobals, c.database), body)
	if err != nil {
		return err
	}
	return env.Err()
}

// UploadContainer streams a file into a container field. repetition is
// 1-based, matching the field repetition numbering on the layout.
func (c *Client) UploadContainer(ctx context.Context, layout, recordID, fieldName string, repetition int, filename string, r io.Reader) error {
	if repetition < 1 {
		repetition = 1
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("upload", filename)
	if err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read upload content: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}

	path := c.path(fmtContainer, c.database, layout, recordID, fieldName, strconv.Itoa(repetition))
	op := func(ctx context.Context, token string) (*Envelope, error) {
		header := http.Header{}
		header.Set("Content-Type", w.FormDataContentType())
		header.Set("Authorization", "Bearer "+token)
		raw, err := c.transport.Send(ctx, http.MethodPost, path, header, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		return decodeEnvelope(raw)
	}

	env, err := c.run(ctx, op)
	if err != nil {
		return err
	}
	return env.Err()
}

// =============================================================================
// Dispatch
// =============================================================================

// do runs a JSON operation through the session controller.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*Envelope, error) {
	op := func(ctx context.Context, token string) (*Envelope, error) {
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		header.Set("Authorization", "Bearer "+token)
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		raw, err := c.transport.Send(ctx, method, path, header, r)
		if err != nil {
			return nil, err
		}
		return decodeEnvelope(raw)
	}
	return c.run(ctx, op)
}

func (c *Client) run(ctx context.Context, op func(ctx context.Context, token string) (*Envelope, error)) (*Envelope, error) {
	if c.autoManage {
		return c.session.Do(ctx, op)
	}
	if c.session.State() != StateActive {
		return nil, &core.SessionError{Op: "call", Err: fmt.Errorf("no active session, call Login first")}
	}
	return op(ctx, c.session.Token())
}

// send issues a request outside the session controller: logins, logouts and
// the sessionless metadata endpoints.
func (c *Client) send(ctx context.Context, method, path string, header http.Header, body io.Reader) (*Envelope, error) {
	raw, err := c.transport.Send(ctx, method, path, header, body)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(raw)
}
