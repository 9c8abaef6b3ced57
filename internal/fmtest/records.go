package fmtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Table is the in-memory backing store for one layout.
type Table struct {
	rows   []*Row
	nextID int
}

// Row is one stored record. Portals maps a portal name to its full related
// row set; requests see only the window they asked for.
type Row struct {
	ID      int
	ModID   int
	Fields  map[string]any
	Portals map[string][]map[string]any
}

func (t *Table) byID(recordID string) *Row {
	id, err := strconv.Atoi(recordID)
	if err != nil {
		return nil
	}
	for _, row := range t.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

type fieldInfo struct {
	name   string
	result string
}

func (t *Table) fieldMeta() []fieldInfo {
	seen := map[string]bool{}
	var out []fieldInfo
	for _, row := range t.rows {
		for name, v := range row.Fields {
			if seen[name] {
				continue
			}
			seen[name] = true
			result := "text"
			switch v.(type) {
			case int, int64, float64:
				result = "number"
			}
			out = append(out, fieldInfo{name: name, result: result})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// portalMeta derives per-portal field metadata from the attached related
// rows, skipping the positional recordId/modId bookkeeping keys.
func (t *Table) portalMeta() map[string][]fieldInfo {
	out := map[string][]fieldInfo{}
	for _, row := range t.rows {
		for portal, related := range row.Portals {
			seen := map[string]bool{}
			for _, fi := range out[portal] {
				seen[fi.name] = true
			}
			for _, rel := range related {
				for name, v := range rel {
					if name == "recordId" || name == "modId" || seen[name] {
						continue
					}
					seen[name] = true
					result := "text"
					switch v.(type) {
					case int, int64, float64:
						result = "number"
					}
					out[portal] = append(out[portal], fieldInfo{name: name, result: result})
				}
			}
		}
	}
	for _, fields := range out {
		sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	}
	return out
}

func sortedTableNames(tables map[string]*Table) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Seeding
// =============================================================================

// Seed replaces the layout's rows with the given field maps, assigning
// record ids 1..n.
func (s *Server) Seed(layout string, rows []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := &Table{}
	for _, fields := range rows {
		table.nextID++
		table.rows = append(table.rows, &Row{ID: table.nextID, ModID: 0, Fields: cloneFields(fields)})
	}
	s.tables[layout] = table
}

// AddRecord appends a row to the layout and returns its record id.
func (s *Server) AddRecord(layout string, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(layout, fields)
}

func (s *Server) addLocked(layout string, fields map[string]any) string {
	table, ok := s.tables[layout]
	if !ok {
		table = &Table{}
		s.tables[layout] = table
	}
	table.nextID++
	table.rows = append(table.rows, &Row{ID: table.nextID, Fields: cloneFields(fields)})
	return strconv.Itoa(table.nextID)
}

// RemoveRecord deletes a row by record id. Missing rows are ignored, so
// tests can call it from OnBeforePage without tracking state.
func (s *Server) RemoveRecord(layout, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(layout, recordID)
}

func (s *Server) removeLocked(layout, recordID string) {
	table, ok := s.tables[layout]
	if !ok {
		return
	}
	id, err := strconv.Atoi(recordID)
	if err != nil {
		return
	}
	for i, row := range table.rows {
		if row.ID == id {
			table.rows = append(table.rows[:i], table.rows[i+1:]...)
			return
		}
	}
}

// SetPortalRows attaches related rows to one record's named portal. Field
// keys should already be namespaced ("Orders::sku"); recordId and modId
// are assigned positionally when absent.
func (s *Server) SetPortalRows(layout, recordID, portal string, rows []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[layout]
	if !ok {
		return
	}
	row := table.byID(recordID)
	if row == nil {
		return
	}
	if row.Portals == nil {
		row.Portals = make(map[string][]map[string]any)
	}
	stored := make([]map[string]any, len(rows))
	for i, r := range rows {
		c := cloneFields(r)
		if _, ok := c["recordId"]; !ok {
			c["recordId"] = strconv.Itoa(i + 1)
		}
		if _, ok := c["modId"]; !ok {
			c["modId"] = "0"
		}
		stored[i] = c
	}
	row.Portals[portal] = stored
}

// RecordCount returns how many rows the layout holds.
func (s *Server) RecordCount(layout string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if table, ok := s.tables[layout]; ok {
		return len(table.rows)
	}
	return 0
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// Paged reads
// =============================================================================

type pageSpec struct {
	offset  int // 1-based, per the wire convention
	limit   int
	sorts   []sortKey
	portals map[string]portalWindow
}

type sortKey struct {
	FieldName string `json:"fieldName"`
	SortOrder string `json:"sortOrder"`
}

type portalWindow struct {
	offset int // 1-based
	limit  int
}

func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	s.count("records")
	layout := chi.URLParam(r, "layout")

	spec := pageSpec{offset: 1, limit: 100, portals: map[string]portalWindow{}}
	q := r.URL.Query()
	if v := q.Get("_offset"); v != "" {
		spec.offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("_limit"); v != "" {
		spec.limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("_sort"); v != "" {
		_ = json.Unmarshal([]byte(v), &spec.sorts)
	}
	if v := q.Get("portal"); v != "" {
		var names []string
		_ = json.Unmarshal([]byte(v), &names)
		for _, name := range names {
			pw := portalWindow{offset: 1}
			if ov := q.Get("_offset." + name); ov != "" {
				pw.offset, _ = strconv.Atoi(ov)
			}
			if lv := q.Get("_limit." + name); lv != "" {
				pw.limit, _ = strconv.Atoi(lv)
			}
			spec.portals[name] = pw
		}
	}

	s.servePage(w, r, layout, nil, spec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	s.count("record")
	layout := chi.URLParam(r, "layout")
	recordID := chi.URLParam(r, "recordID")

	spec := pageSpec{portals: map[string]portalWindow{}}
	q := r.URL.Query()
	if v := q.Get("portal"); v != "" {
		var names []string
		_ = json.Unmarshal([]byte(v), &names)
		for _, name := range names {
			pw := portalWindow{offset: 1}
			if ov := q.Get("_offset." + name); ov != "" {
				pw.offset, _ = strconv.Atoi(ov)
			}
			if lv := q.Get("_limit." + name); lv != "" {
				pw.limit, _ = strconv.Atoi(lv)
			}
			spec.portals[name] = pw
		}
	}

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
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{
		"data": []map[string]any{wireRecord(row, spec.portals)},
		"dataInfo": map[string]any{
			"totalRecordCount": len(table.rows),
			"foundCount":       1,
			"returnedCount":    1,
		},
	})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	s.count("find")
	layout := chi.URLParam(r, "layout")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, 3, "malformed request body")
		return
	}

	spec := pageSpec{offset: 1, limit: 100, portals: map[string]portalWindow{}}
	if v, ok := body["offset"]; ok {
		spec.offset = toInt(v)
	}
	if v, ok := body["limit"]; ok {
		spec.limit = toInt(v)
	}
	if v, ok := body["sort"]; ok {
		raw, _ := json.Marshal(v)
		_ = json.Unmarshal(raw, &spec.sorts)
	}
	if v, ok := body["portal"]; ok {
		var names []string
		raw, _ := json.Marshal(v)
		_ = json.Unmarshal(raw, &names)
		for _, name := range names {
			pw := portalWindow{offset: 1}
			if ov, ok := body["offset."+name]; ok {
				pw.offset = toInt(ov)
			}
			if lv, ok := body["limit."+name]; ok {
				pw.limit = toInt(lv)
			}
			spec.portals[name] = pw
		}
	}

	var groups []map[string]any
	if v, ok := body["query"]; ok {
		raw, _ := json.Marshal(v)
		_ = json.Unmarshal(raw, &groups)
	}
	if len(groups) == 0 {
		s.writeError(w, r, http.StatusBadRequest, 8, "Empty find request")
		return
	}

	s.servePage(w, r, layout, groups, spec)
}

// servePage runs the shared page pipeline: match, sort, window, render.
// A window that starts past the end reports 401, which clients treat as
// exhaustion.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, layout string, groups []map[string]any, spec pageSpec) {
	if s.OnBeforePage != nil {
		s.OnBeforePage(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[layout]
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, 105, "Layout is missing")
		return
	}

	matched := make([]*Row, 0, len(table.rows))
	for _, row := range table.rows {
		if groups == nil || matchGroups(row, groups) {
			matched = append(matched, row)
		}
	}
	sortRows(matched, spec.sorts)

	found := len(matched)
	start := spec.offset - 1
	if start < 0 {
		start = 0
	}
	if start >= found {
		s.writeError(w, r, http.StatusInternalServerError, 401, "No records match the request")
		return
	}
	end := found
	if spec.limit > 0 && start+spec.limit < end {
		end = start + spec.limit
	}

	data := make([]map[string]any, 0, end-start)
	for _, row := range matched[start:end] {
		data = append(data, wireRecord(row, spec.portals))
	}
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{
		"data": data,
		"dataInfo": map[string]any{
			"database":         s.database,
			"layout":           layout,
			"totalRecordCount": len(table.rows),
			"foundCount":       found,
			"returnedCount":    len(data),
		},
	})
}

func wireRecord(row *Row, portals map[string]portalWindow) map[string]any {
	fields := make(map[string]any, len(row.Fields))
	for k, v := range row.Fields {
		fields[k] = v
	}
	out := map[string]any{
		"recordId":  strconv.Itoa(row.ID),
		"modId":     strconv.Itoa(row.ModID),
		"fieldData": fields,
	}
	if len(portals) == 0 {
		return out
	}
	portalData := map[string]any{}
	for name, pw := range portals {
		all := row.Portals[name]
		start := pw.offset - 1
		if start < 0 {
			start = 0
		}
		if start > len(all) {
			start = len(all)
		}
		end := len(all)
		if pw.limit > 0 && start+pw.limit < end {
			end = start + pw.limit
		}
		portalData[name] = all[start:end]
	}
	out["portalData"] = portalData
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

// =============================================================================
// Find matching
// =============================================================================

// matchGroups applies FileMaker's request semantics: groups without omit
// OR together, then omit groups subtract.
func matchGroups(row *Row, groups []map[string]any) bool {
	matched := false
	for _, g := range groups {
		if asString(g["omit"]) == "true" {
			continue
		}
		if matchGroup(row, g) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, g := range groups {
		if asString(g["omit"]) != "true" {
			continue
		}
		if matchGroup(row, g) {
			return false
		}
	}
	return true
}

func matchGroup(row *Row, group map[string]any) bool {
	for field, pattern := range group {
		if field == "omit" {
			continue
		}
		if !matchField(asString(row.Fields[field]), asString(pattern)) {
			return false
		}
	}
	return true
}

// matchField interprets one find pattern against a cell, covering the
// operator forms the Data API documents: ==, ==...* wildcards, ordering
// prefixes, x...y ranges, = and == for blank, * for not empty, and bare
// text as begins-with.
func matchField(cell, pattern string) bool {
	switch pattern {
	case "==", "=":
		return cell == ""
	case "*":
		return cell != ""
	}
	switch {
	case strings.HasPrefix(pattern, "=="):
		return matchGlob(cell, pattern[2:])
	case strings.HasPrefix(pattern, ">="):
		return compareValues(cell, pattern[2:]) >= 0
	case strings.HasPrefix(pattern, "<="):
		return compareValues(cell, pattern[2:]) <= 0
	case strings.HasPrefix(pattern, ">"):
		return compareValues(cell, pattern[1:]) > 0
	case strings.HasPrefix(pattern, "<"):
		return compareValues(cell, pattern[1:]) < 0
	case strings.Contains(pattern, "..."):
		lo, hi, _ := strings.Cut(pattern, "...")
		return compareValues(cell, lo) >= 0 && compareValues(cell, hi) <= 0
	default:
		return strings.HasPrefix(strings.ToLower(cell), strings.ToLower(pattern))
	}
}

// matchGlob matches a ==-style pattern where * spans any run and
// backslash escapes the next character.
func matchGlob(cell, pattern string) bool {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 < len(pattern) {
				i++
				cur.WriteByte(pattern[i])
			}
		case '*':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(pattern[i])
		}
	}
	parts = append(parts, cur.String())

	cell = strings.ToLower(cell)
	for i := range parts {
		parts[i] = strings.ToLower(parts[i])
	}

	if !strings.HasPrefix(cell, parts[0]) {
		return false
	}
	cell = cell[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(cell, part)
		if idx < 0 {
			return false
		}
		cell = cell[idx+len(part):]
	}
	if len(parts) == 1 {
		return cell == ""
	}
	return strings.HasSuffix(cell, parts[len(parts)-1])
}

// compareValues compares numerically when both sides parse as numbers,
// lexically otherwise.
func compareValues(a, b string) int {
	na, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	nb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func sortRows(rows []*Row, keys []sortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range keys {
			c := compareValues(asString(rows[i].Fields[key.FieldName]), asString(rows[j].Fields[key.FieldName]))
			if c == 0 {
				continue
			}
			if key.SortOrder == "descend" {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func asString(v any) string {
	switch w := v.(type) {
	case nil:
		return ""
	case string:
		return w
	case float64:
		return strconv.FormatFloat(w, 'f', -1, 64)
	case int:
		return strconv.Itoa(w)
	case int64:
		return strconv.FormatInt(w, 10)
	case bool:
		if w {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(w)
	}
}

// =============================================================================
// Writes
// =============================================================================

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.count("create")
	layout := chi.URLParam(r, "layout")
	var body struct {
		FieldData map[string]any `json:"fieldData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, 3, "malformed request body")
		return
	}
	s.mu.Lock()
	id := s.addLocked(layout, body.FieldData)
	s.mu.Unlock()
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{"recordId": id, "modId": "0"})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	s.count("edit")
	layout := chi.URLParam(r, "layout")
	recordID := chi.URLParam(r, "recordID")
	var body struct {
		FieldData map[string]any `json:"fieldData"`
		ModID     string         `json:"modId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, 3, "malformed request body")
		return
	}

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
	if body.ModID != "" && body.ModID != strconv.Itoa(row.ModID) {
		s.writeError(w, r, http.StatusInternalServerError, 306, "Record modification ID does not match")
		return
	}
	for k, v := range body.FieldData {
		if v == nil {
			delete(row.Fields, k)
			continue
		}
		row.Fields[k] = v
	}
	row.ModID++
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{"modId": strconv.Itoa(row.ModID)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.count("delete")
	layout := chi.URLParam(r, "layout")
	recordID := chi.URLParam(r, "recordID")
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[layout]
	if !ok || table.byID(recordID) == nil {
		s.writeError(w, r, http.StatusInternalServerError, 101, "Record is missing")
		return
	}
	s.removeLocked(layout, recordID)
	s.writeEnvelope(w, r, http.StatusOK, nil)
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	s.count("duplicate")
	layout := chi.URLParam(r, "layout")
	recordID := chi.URLParam(r, "recordID")
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
	id := s.addLocked(layout, row.Fields)
	s.writeEnvelope(w, r, http.StatusOK, map[string]any{"recordId": id, "modId": "0"})
}
