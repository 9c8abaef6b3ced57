// Package fmtest runs an in-process fake FileMaker Data API server for
// tests. It implements sessions, paged reads, finds with portal windows,
// record writes and script stubs over an in-memory table, and exposes
// request counters and failure injection so tests can drive the session
// retry and pagination edge cases without a real server.
package fmtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Server is a fake Data API endpoint backed by in-memory tables.
type Server struct {
	httpServer *httptest.Server
	database   string

	mu       sync.Mutex
	tables   map[string]*Table
	tokens   map[string]*tokenState
	counters map[string]int
	globals  map[string]any

	rejectLogin   bool
	expireAfter   int // authenticated calls per token before it expires, 0 = never
	malformedPath string

	// OnBeforePage runs before every records or _find page is served,
	// outside the server lock. Tests use it to mutate tables between
	// pages through the public mutators.
	OnBeforePage func(s *Server)
}

type tokenState struct {
	calls   int
	expired bool
}

// Option configures a Server.
type Option func(*Server)

// WithRejectLogin makes every login fail with error 212 (invalid account).
func WithRejectLogin() Option {
	return func(s *Server) { s.rejectLogin = true }
}

// WithTokenExpiry expires each issued token after n authenticated calls,
// so the n+1th call reports error 952 and forces a re-login.
func WithTokenExpiry(n int) Option {
	return func(s *Server) { s.expireAfter = n }
}

// WithMalformedResponse makes requests whose path contains fragment return
// a body that is not a message envelope.
func WithMalformedResponse(fragment string) Option {
	return func(s *Server) { s.malformedPath = fragment }
}

// New starts a fake server for the given database name. Callers own the
// returned server and must Close it.
func New(database string, opts ...Option) *Server {
	s := &Server{
		database: database,
		tables:   make(map[string]*Table),
		tokens:   make(map[string]*tokenState),
		counters: make(map[string]int),
		globals:  make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Route("/fmi/data/v1", func(r chi.Router) {
		r.Get("/productInfo", s.handleProductInfo)
		r.Get("/databases", s.handleDatabases)
		r.Route("/databases/{db}", func(r chi.Router) {
			r.Post("/sessions", s.handleLogin)
			r.Delete("/sessions/{token}", s.handleLogout)
			r.Get("/layouts", s.authed(s.handleLayouts))
			r.Get("/layouts/{layout}", s.authed(s.handleLayoutMetadata))
			r.Get("/scripts", s.authed(s.handleScripts))
			r.Get("/layouts/{layout}/records", s.authed(s.handleGetRecords))
			r.Get("/layouts/{layout}/records/{recordID}", s.authed(s.handleGetRecord))
			r.Post("/layouts/{layout}/_find", s.authed(s.handleFind))
			r.Post("/layouts/{layout}/records", s.authed(s.handleCreate))
			r.Patch("/layouts/{layout}/records/{recordID}", s.authed(s.handleEdit))
			r.Delete("/layouts/{layout}/records/{recordID}", s.authed(s.handleDelete))
			r.Post("/layouts/{layout}/records/{recordID}", s.authed(s.handleDuplicate))
			r.Get("/layouts/{layout}/script/{script}", s.authed(s.handleScript))
			r.Patch("/globals", s.authed(s.handleGlobals))
			r.Post("/layouts/{layout}/records/{recordID}/containers/{field}/{repetition}", s.authed(s.handleContainer))
		})
	})
	s.httpServer = httptest.NewServer(r)
	return s
}

// URL returns the server's base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts the server down.
func (s *Server) Close() { s.httpServer.Close() }

// Requests returns how many requests hit the named endpoint. Keys:
// "login", "logout", "records", "record", "find", "create", "edit",
// "delete", "duplicate", "script", "globals", "container", "layouts",
// "scripts", "productInfo", "databases".
func (s *Server) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}

// PageRequests returns the combined records + find request count, which is
// what a query's page walk produces.
func (s *Server) PageRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters["records"] + s.counters["find"]
}

// Logins returns how many login requests were made.
func (s *Server) Logins() int { return s.Requests("login") }

// ExpireTokens marks every issued token expired, so the next authenticated
// call reports error 952.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		t.expired = true
	}
}

// Globals returns a copy of the global field values set so far.
func (s *Server) Globals() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.globals))
	for k, v := range s.globals {
		out[k] = v
	}
	return out
}

func (s *Server) count(key string) {
	s.mu.Lock()
	s.counters[key]++
	s.mu.Unlock()
}

// =============================================================================
// Envelope plumbing
// =============================================================================

type message struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeEnvelope(w http.ResponseWriter, r *http.Request, status int, response any, msgs ...message) {
	if s.malformedPath != "" && contains(r.URL.Path, s.malformedPath) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, `{"this is": "not an envelope"`)
		return
	}
	if len(msgs) == 0 {
		msgs = []message{{Code: "0", Message: "OK"}}
	}
	if response == nil {
		response = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"response": response,
		"messages": msgs,
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status, code int, msg string) {
	s.writeEnvelope(w, r, status, map[string]any{}, message{Code: strconv.Itoa(code), Message: msg})
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// =============================================================================
// Sessions
// =============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.count("login")
	if chi.URLParam(r, "db") != s.database {
		s.writeError(w, r, http.StatusNotFound, 100, "Database is missing")
		return
	}
	if s.rejectLogin {
		s.writeError(w, r, http.StatusUnauthorized, 212, "Invalid user account or password")
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = &tokenState{}
	s.mu.Unlock()
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.count("logout")
	token := chi.URLParam(r, "token")
	s.mu.Lock()
	_, ok := s.tokens[token]
	delete(s.tokens, token)
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusUnauthorized, 952, "Invalid FileMaker Data API token")
		return
	}
	s.writeEnvelope(w, r, http.StatusOK, nil)
}

// authed wraps a handler with bearer token validation and expiry
// accounting. An invalid or expired token reports error 952, the trigger
// for the client's single re-login retry.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			s.writeError(w, r, http.StatusUnauthorized, 952, "Invalid FileMaker Data API token")
			return
		}
		token := auth[len(prefix):]

		s.mu.Lock()
		state, ok := s.tokens[token]
		if ok && !state.expired {
			state.calls++
			if s.expireAfter > 0 && state.calls > s.expireAfter {
				state.expired = true
				ok = false
			}
		} else {
			ok = false
		}
		s.mu.Unlock()

		if !ok {
			s.writeError(w, r, http.StatusUnauthorized, 952, "Invalid FileMaker Data API token")
			return
		}
		next(w, r)
	}
}

// =============================================================================
// Metadata endpoints
// =============================================================================

func (s *Server) handleProductInfo(w http.ResponseWriter, r *http.Request) {
	s.count("productInfo")
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{
		"productInfo": map[string]any{
			"name":            "FileMaker Data API Engine (fmtest)",
			"version":         "21.0.0.0",
			"dateFormat":      "MM/dd/yyyy",
			"timeFormat":      "HH:mm:ss",
			"timeStampFormat": "MM/dd/yyyy HH:mm:ss",
		},
	})
}

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	s.count("databases")
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{
		"databases": []map[string]any{{"name": s.database}},
	})
}

func (s *Server) handleLayouts(w http.ResponseWriter, r *http.Request) {
	s.count("layouts")
	s.mu.Lock()
	names := make([]map[string]any, 0, len(s.tables))
	for _, name := range sortedTableNames(s.tables) {
		names = append(names, map[string]any{"name": name})
	}
	s.mu.Unlock()
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{"layouts": names})
}

func (s *Server) handleLayoutMetadata(w http.ResponseWriter, r *http.Request) {
	s.count("layout")
	layout := chi.URLParam(r, "layout")
	s.mu.Lock()
	table, ok := s.tables[layout]
	var fields []map[string]any
	portals := map[string]any{}
	if ok {
		for _, f := range table.fieldMeta() {
			fields = append(fields, map[string]any{"name": f.name, "type": "normal", "result": f.result})
		}
		for portal, meta := range table.portalMeta() {
			var rows []map[string]any
			for _, f := range meta {
				rows = append(rows, map[string]any{"name": f.name, "type": "normal", "result": f.result})
			}
			portals[portal] = rows
		}
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, 105, "Layout is missing")
		return
	}
	payload := map[string]any{"fieldMetaData": fields}
	if len(portals) > 0 {
		payload["portalMetaData"] = portals
	}
	s.writeEnvelope(w, r, http.StatusOK, payload)
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	s.count("scripts")
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{
		"scripts": []map[string]any{{"name": "Reindex"}, {"name": "Nightly Import"}},
	})
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	s.count("script")
	param := r.URL.Query().Get("script.param")
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{
		"scriptResult": "ran " + chi.URLParam(r, "script") + "(" + param + ")",
		"scriptError":  "0",
	})
}

func (s *Server) handleGlobals(w http.ResponseWriter, r *http.Request) {
	s.count("globals")
	var body struct {
		GlobalFields map[string]any `json:"globalFields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, 3, "malformed request body")
		return
	}
	s.mu.Lock()
	for k, v := range body.GlobalFields {
		s.globals[k] = v
	}
	s.mu.Unlock()
	s.writeEnvelope(w, r, http.StatusOK, nil)
}

func (s *Server) handleContainer(w http.ResponseWriter, r *http.Request) {
	s.count("container")
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		s.writeError(w, r, http.StatusBadRequest, 3, "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("upload")
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, 3, "missing upload part")
		return
	}
	defer file.Close()

	layout := chi.URLParam(r, "layout")
	recordID := chi.URLParam(r, "recordID")
	fieldName := chi.URLParam(r, "field")
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[layout]
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, 105, "Layout is missing")
		return
	}
	row := table.byID(recordID)
	if row == nil {
		s.writeError(w, r, http.StatusInternalServerError, 101, "Record is missing")
		return
	}
	row.Fields[fieldName] = s.httpServer.URL + "/Streaming_SSL/" + uuid.NewString() + "/" + header.Filename
	row.ModID++
	s.writeEnvelope(w, r, http.StatusOK, nil)
}
