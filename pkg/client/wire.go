package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

// =============================================================================
// Envelope
// =============================================================================

// Code is a FileMaker message code. The Data API reports codes as decimal
// strings; some servers emit bare numbers, both forms decode.
type Code int

func (c *Code) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("message code %q: %w", s, err)
	}
	*c = Code(n)
	return nil
}

func (c Code) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.Itoa(int(c)))), nil
}

// Message is one entry of a response's messages array.
type Message struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Envelope is the outer shape of every Data API response: a response payload
// plus a messages array. The payload is kept raw so each operation can decode
// its own shape.
type Envelope struct {
	Response json.RawMessage `json:"response"`
	Messages []Message       `json:"messages"`
}

// HasCode reports whether any message carries the given code.
func (e *Envelope) HasCode(code int) bool {
	for _, m := range e.Messages {
		if int(m.Code) == code {
			return true
		}
	}
	return false
}

// Err returns the first non-OK message as a RemoteError, or nil when the
// response is a success.
func (e *Envelope) Err() error {
	for _, m := range e.Messages {
		if int(m.Code) != core.CodeOK {
			return &core.RemoteError{Code: int(m.Code), Message: m.Message}
		}
	}
	return nil
}

func decodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &core.TransportError{Op: "decode response", Err: err}
	}
	if env.Messages == nil {
		return nil, &core.TransportError{Op: "decode response", Err: fmt.Errorf("no messages array in %d-byte body", len(raw))}
	}
	return &env, nil
}

// =============================================================================
// Record payloads
// =============================================================================

// PortalRow is one row of a portal's data. Field keys are namespaced with the
// related table occurrence ("Orders::sku"); recordId and modId ride alongside
// them.
type PortalRow map[string]any

// RecordID returns the portal row's record id.
func (r PortalRow) RecordID() string { return stringAt(r, "recordId") }

// ModID returns the portal row's modification id.
func (r PortalRow) ModID() string { return stringAt(r, "modId") }

// Field returns the row value for table::name.
func (r PortalRow) Field(table, name string) any { return r[table+"::"+name] }

func stringAt(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// RecordData is one record as delivered by the records and _find endpoints.
type RecordData struct {
	RecordID       string                 `json:"recordId"`
	ModID          string                 `json:"modId"`
	FieldData      map[string]any         `json:"fieldData"`
	PortalData     map[string][]PortalRow `json:"portalData,omitempty"`
	PortalDataInfo []PortalDataInfo       `json:"portalDataInfo,omitempty"`
}

// DataInfo summarizes a paged read.
type DataInfo struct {
	Database         string `json:"database,omitempty"`
	Layout           string `json:"layout,omitempty"`
	Table            string `json:"table,omitempty"`
	TotalRecordCount int    `json:"totalRecordCount,omitempty"`
	FoundCount       int    `json:"foundCount,omitempty"`
	ReturnedCount    int    `json:"returnedCount,omitempty"`
}

// PortalDataInfo summarizes one portal's slice of a record.
type PortalDataInfo struct {
	Database         string `json:"database,omitempty"`
	Table            string `json:"table,omitempty"`
	PortalObjectName string `json:"portalObjectName,omitempty"`
	FoundCount       int    `json:"foundCount,omitempty"`
	ReturnedCount    int    `json:"returnedCount,omitempty"`
}

// ScriptOutcome carries the results of scripts attached to a request. The
// Data API flattens them into dotted keys on the response object.
type ScriptOutcome struct {
	Result           string `json:"scriptResult,omitempty"`
	Error            string `json:"scriptError,omitempty"`
	PrerequestResult string `json:"scriptResult.prerequest,omitempty"`
	PrerequestError  string `json:"scriptError.prerequest,omitempty"`
	PresortResult    string `json:"scriptResult.presort,omitempty"`
	PresortError     string `json:"scriptError.presort,omitempty"`
}

// RecordsResponse is the payload of GET records, GET record and POST _find.
type RecordsResponse struct {
	ScriptOutcome
	Data     []RecordData `json:"data"`
	DataInfo *DataInfo    `json:"dataInfo,omitempty"`
}

// CreateRecordResponse is the payload of a create or duplicate.
type CreateRecordResponse struct {
	RecordID string `json:"recordId"`
	ModID    string `json:"modId"`
}

// EditRecordResponse is the payload of an edit.
type EditRecordResponse struct {
	ModID string `json:"modId"`
}

// =============================================================================
// Metadata payloads
// =============================================================================

// ProductInfo is the server's product metadata.
type ProductInfo struct {
	Name            string `json:"name"`
	BuildDate       string `json:"buildDate"`
	Version         string `json:"version"`
	DateFormat      string `json:"dateFormat"`
	TimeFormat      string `json:"timeFormat"`
	TimeStampFormat string `json:"timeStampFormat"`
}

// LayoutInfo is one entry of the layouts listing. Folders nest.
type LayoutInfo struct {
	Name              string       `json:"name"`
	IsFolder          bool         `json:"isFolder,omitempty"`
	FolderLayoutNames []LayoutInfo `json:"folderLayoutNames,omitempty"`
}

// ScriptInfo is one entry of the scripts listing. Folders nest.
type ScriptInfo struct {
	Name              string       `json:"name"`
	IsFolder          bool         `json:"isFolder,omitempty"`
	FolderScriptNames []ScriptInfo `json:"folderScriptNames,omitempty"`
}

// FieldMetadata describes one field of a layout.
type FieldMetadata struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	DisplayType     string `json:"displayType,omitempty"`
	Result          string `json:"result,omitempty"`
	Global          bool   `json:"global,omitempty"`
	AutoEnter       bool   `json:"autoEnter,omitempty"`
	FourDigitYear   bool   `json:"fourDigitYear,omitempty"`
	MaxRepeat       int    `json:"maxRepeat,omitempty"`
	MaxCharacters   int    `json:"maxCharacters,omitempty"`
	NotEmpty        bool   `json:"notEmpty,omitempty"`
	Numeric         bool   `json:"numeric,omitempty"`
	TimeOfDay       bool   `json:"timeOfDay,omitempty"`
	RepetitionStart int    `json:"repetitionStart,omitempty"`
	RepetitionEnd   int    `json:"repetitionEnd,omitempty"`
}

// ValueListItem is one entry of a value list.
type ValueListItem struct {
	DisplayValue string `json:"displayValue"`
	Value        string `json:"value"`
}

// ValueList is a named value list attached to a layout.
type ValueList struct {
	Name   string          `json:"name"`
	Type   string          `json:"type,omitempty"`
	Values []ValueListItem `json:"values,omitempty"`
}

// LayoutMetadata is the payload of a single-layout metadata read.
type LayoutMetadata struct {
	FieldMetaData  []FieldMetadata            `json:"fieldMetaData"`
	PortalMetaData map[string][]FieldMetadata `json:"portalMetaData,omitempty"`
	ValueLists     []ValueList                `json:"valueLists,omitempty"`
}

// =============================================================================
// Request parameters
// =============================================================================

// SortField is one sort key. SortOrder is "ascend" or "descend".
type SortField struct {
	FieldName string `json:"fieldName"`
	SortOrder string `json:"sortOrder"`
}

// ScriptSpec names a script and its parameter.
type ScriptSpec struct {
	Name  string
	Param string
}

// Scripts attaches up to three scripts to a request: before the find
// (prerequest), after the find but before the sort (presort), and after the
// whole request.
type Scripts struct {
	Prerequest *ScriptSpec
	Presort    *ScriptSpec
	After      *ScriptSpec
}

func (s Scripts) empty() bool {
	return s.Prerequest == nil && s.Presort == nil && s.After == nil
}

func (s Scripts) queryValues(v url.Values) {
	if s.Prerequest != nil {
		v.Set("script.prerequest", s.Prerequest.Name)
		if s.Prerequest.Param != "" {
			v.Set("script.prerequest.param", s.Prerequest.Param)
		}
	}
	if s.Presort != nil {
		v.Set("script.presort", s.Presort.Name)
		if s.Presort.Param != "" {
			v.Set("script.presort.param", s.Presort.Param)
		}
	}
	if s.After != nil {
		v.Set("script", s.After.Name)
		if s.After.Param != "" {
			v.Set("script.param", s.After.Param)
		}
	}
}

func (s Scripts) bodyEntries(body map[string]any) {
	if s.Prerequest != nil {
		body["script.prerequest"] = s.Prerequest.Name
		if s.Prerequest.Param != "" {
			body["script.prerequest.param"] = s.Prerequest.Param
		}
	}
	if s.Presort != nil {
		body["script.presort"] = s.Presort.Name
		if s.Presort.Param != "" {
			body["script.presort.param"] = s.Presort.Param
		}
	}
	if s.After != nil {
		body["script"] = s.After.Name
		if s.After.Param != "" {
			body["script.param"] = s.After.Param
		}
	}
}

// PortalRequest asks for a window of one portal's rows. Offset is 0-based
// and converted to the API's 1-based convention at the wire; Limit 0 leaves
// the server default in place.
type PortalRequest struct {
	Name   string
	Offset int
	Limit  int
}

// DateFormat selects how the server renders and parses date, time and
// timestamp fields for one request. The zero value omits the parameter,
// which the server treats as US.
type DateFormat int

const (
	DateFormatDefault DateFormat = iota
	DateFormatUS
	DateFormatFileLocale
	DateFormatISO8601
)

// wireValue maps to the API's numbering: 0 US, 1 file locale, 2 ISO-8601.
func (d DateFormat) wireValue() int { return int(d) - 1 }

// SearchParams shape a paged read or find: window, sort, portals, scripts,
// response layout and date format. Offset is 0-based.
type SearchParams struct {
	Offset         int
	Limit          int
	Sort           []SortField
	Portals        []PortalRequest
	Scripts        Scripts
	ResponseLayout string
	DateFormat     DateFormat
}

// queryValues renders the parameters for the GET endpoints, which expect the
// window as _offset/_limit, the sort as a JSON array string and the portal
// windows as _offset.{name}/_limit.{name}.
func (p *SearchParams) queryValues() url.Values {
	v := url.Values{}
	if p == nil {
		return v
	}
	v.Set("_offset", strconv.Itoa(p.Offset+1))
	if p.Limit > 0 {
		v.Set("_limit", strconv.Itoa(p.Limit))
	}
	if len(p.Sort) > 0 {
		raw, _ := json.Marshal(p.Sort)
		v.Set("_sort", string(raw))
	}
	if len(p.Portals) > 0 {
		names := make([]string, len(p.Portals))
		for i, portal := range p.Portals {
			names[i] = portal.Name
			if portal.Offset > 0 {
				v.Set("_offset."+portal.Name, strconv.Itoa(portal.Offset+1))
			}
			if portal.Limit > 0 {
				v.Set("_limit."+portal.Name, strconv.Itoa(portal.Limit))
			}
		}
		raw, _ := json.Marshal(names)
		v.Set("portal", string(raw))
	}
	if p.ResponseLayout != "" {
		v.Set("layout.response", p.ResponseLayout)
	}
	if p.DateFormat != DateFormatDefault {
		v.Set("dateformats", strconv.Itoa(p.DateFormat.wireValue()))
	}
	p.Scripts.queryValues(v)
	return v
}

// findBody renders the parameters for the _find endpoint, where the window
// and portal directives ride the JSON body as offset/limit and
// offset.{name}/limit.{name}.
func (p *SearchParams) findBody(query []map[string]any) map[string]any {
	body := map[string]any{"query": query}
	if p == nil {
		return body
	}
	body["offset"] = p.Offset + 1
	if p.Limit > 0 {
		body["limit"] = p.Limit
	}
	if len(p.Sort) > 0 {
		body["sort"] = p.Sort
	}
	if len(p.Portals) > 0 {
		names := make([]string, len(p.Portals))
		for i, portal := range p.Portals {
			names[i] = portal.Name
			if portal.Offset > 0 {
				body["offset."+portal.Name] = portal.Offset + 1
			}
			if portal.Limit > 0 {
				body["limit."+portal.Name] = portal.Limit
			}
		}
		body["portal"] = names
	}
	if p.ResponseLayout != "" {
		body["layout.response"] = p.ResponseLayout
	}
	if p.DateFormat != DateFormatDefault {
		body["dateformats"] = p.DateFormat.wireValue()
	}
	p.Scripts.bodyEntries(body)
	return body
}
