package orm

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/leapstack-labs/fmdata/pkg/cache"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
	"github.com/leapstack-labs/fmdata/pkg/field"
)

// defaultChunkSize is how many records a query page asks for when
// neither the manager nor the query sets one.
const defaultChunkSize = 1000

// Manager binds a Model to a Client. It is the entry point for every
// read and write against the model's layout and is safe for concurrent
// use, as each query carries its own state.
type Manager struct {
	client *client.Client
	model  *Model
	logger *slog.Logger
	chunk  int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithChunkSize sets the default page size for queries that do not set
// their own.
func WithChunkSize(n int) ManagerOption {
	return func(m *Manager) { m.chunk = n }
}

// WithLogger sets the logger for page walks and bulk operations.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager binds model to c.
func NewManager(c *client.Client, model *Model, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		client: c,
		model:  model,
		logger: slog.New(slog.DiscardHandler),
		chunk:  defaultChunkSize,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Model returns the bound model.
func (mgr *Manager) Model() *Model { return mgr.model }

// Client returns the underlying raw client.
func (mgr *Manager) Client() *client.Client { return mgr.client }

// Query returns a fresh query builder over the model's layout.
func (mgr *Manager) Query() *Query { return &Query{mgr: mgr} }

// Get reads one record by its record id.
func (mgr *Manager) Get(ctx context.Context, recordID string) (*Record, error) {
	resp, err := mgr.client.GetRecord(ctx, mgr.model.layout, recordID, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &core.TransportError{Op: "get record", Err: fmt.Errorf("record %s missing from response", recordID)}
	}
	return mgr.decodeAs(mgr.model, resp.Data[0])
}

// NewRecord returns an unsaved record bound to the model. Set its
// fields, then Save (or Create) it.
func (mgr *Manager) NewRecord() *Record {
	rec := &Record{
		mgr:     mgr,
		model:   mgr.model,
		values:  make(map[string]any),
		dirty:   make(map[string]bool),
		portals: make(map[string]*PortalSet, len(mgr.model.portals)),
	}
	for name, pm := range mgr.model.portals {
		rec.portals[name] = &PortalSet{mgr: mgr, model: pm, layout: mgr.model.layout, parent: rec}
	}
	return rec
}

// portalRowChange is one pending portal row write.
type portalRowChange struct {
	portal string
	rowID  string
	values map[string]any
}

type portalRowDelete struct {
	portal string
	rowIDs []string
}

type saveSpec struct {
	checkModID bool
	rows       []portalRowChange
	deletes    []portalRowDelete
}

// SaveOption extends a Save with portal writes or concurrency checks.
type SaveOption func(*saveSpec)

// CheckModID makes the save conditional: it fails with FileMaker error
// 306 when the record changed on the server since it was read.
func CheckModID() SaveOption {
	return func(s *saveSpec) { s.checkModID = true }
}

// SetPortalRow writes one row of the named portal along with the save.
// An empty rowID creates a new related row; a non-empty one updates
// that row. values are keyed by the portal's accessor names.
func SetPortalRow(portal, rowID string, values map[string]any) SaveOption {
	return func(s *saveSpec) {
		s.rows = append(s.rows, portalRowChange{portal: portal, rowID: rowID, values: values})
	}
}

// DeletePortalRows deletes the given related rows along with the save.
func DeletePortalRows(portal string, rowIDs ...string) SaveOption {
	return func(s *saveSpec) {
		s.deletes = append(s.deletes, portalRowDelete{portal: portal, rowIDs: rowIDs})
	}
}

// Create inserts rec as a new record and fills in its record and mod
// ids. It fails when rec was already saved.
func (mgr *Manager) Create(ctx context.Context, rec *Record) error {
	if rec.id != "" {
		return core.Validationf("record already has id %s, use Save", rec.id)
	}
	return mgr.create(ctx, rec, saveSpec{})
}

// Save writes rec: a create when it has no record id yet, otherwise an
// edit carrying only the fields changed since the record was loaded.
// A save with nothing to write is a no-op.
func (mgr *Manager) Save(ctx context.Context, rec *Record, opts ...SaveOption) error {
	var spec saveSpec
	for _, opt := range opts {
		opt(&spec)
	}
	if rec.id == "" {
		return mgr.create(ctx, rec, spec)
	}
	return mgr.edit(ctx, rec, spec)
}

func (mgr *Manager) create(ctx context.Context, rec *Record, spec saveSpec) error {
	if spec.checkModID {
		return core.Validationf("cannot check the mod id of an unsaved record")
	}
	if len(spec.deletes) > 0 {
		return core.Validationf("cannot delete portal rows of an unsaved record")
	}
	fieldData, err := encodeFields(rec.model, rec.values)
	if err != nil {
		return err
	}
	if fieldData == nil {
		fieldData = map[string]any{}
	}
	portalData, err := portalWrites(rec.model, spec.rows, true)
	if err != nil {
		return err
	}
	var params *client.WriteParams
	if len(portalData) > 0 {
		params = &client.WriteParams{PortalData: portalData}
	}

	resp, err := mgr.client.CreateRecord(ctx, rec.model.layout, fieldData, params)
	if err != nil {
		return err
	}
	rec.id, rec.modID = resp.RecordID, resp.ModID
	rec.clearDirty()
	mgr.logger.Debug("created record", "layout", rec.model.layout, "recordId", rec.id)
	return nil
}

func (mgr *Manager) edit(ctx context.Context, rec *Record, spec saveSpec) error {
	changed := make(map[string]any, len(rec.dirty))
	for name := range rec.dirty {
		changed[name] = rec.values[name]
	}
	fieldData, err := encodeFields(rec.model, changed)
	if err != nil {
		return err
	}
	portalData, err := portalWrites(rec.model, spec.rows, false)
	if err != nil {
		return err
	}
	deletes, err := portalDeletes(rec.model, spec.deletes)
	if err != nil {
		return err
	}
	if len(fieldData) == 0 && len(portalData) == 0 && len(deletes) == 0 {
		return nil
	}

	if fieldData == nil {
		fieldData = map[string]any{}
	}
	switch len(deletes) {
	case 0:
	case 1:
		fieldData["deleteRelated"] = deletes[0]
	default:
		fieldData["deleteRelated"] = deletes
	}
	modID := ""
	if spec.checkModID {
		modID = rec.modID
	}
	var params *client.WriteParams
	if len(portalData) > 0 {
		params = &client.WriteParams{PortalData: portalData}
	}

	newMod, err := mgr.client.EditRecord(ctx, rec.model.layout, rec.id, fieldData, modID, params)
	if err != nil {
		return err
	}
	rec.modID = newMod
	rec.clearDirty()
	mgr.logger.Debug("edited record", "layout", rec.model.layout, "recordId", rec.id, "fields", len(fieldData))
	return nil
}

// Delete removes rec's record from the server and clears its record id,
// leaving the local field values in place.
func (mgr *Manager) Delete(ctx context.Context, rec *Record) error {
	if rec.id == "" {
		return core.Validationf("record has no record id")
	}
	if err := mgr.client.DeleteRecord(ctx, rec.model.layout, rec.id, client.Scripts{}); err != nil {
		return err
	}
	mgr.logger.Debug("deleted record", "layout", rec.model.layout, "recordId", rec.id)
	rec.id, rec.modID = "", ""
	return nil
}

// Duplicate copies rec's record on the server and returns the copy.
func (mgr *Manager) Duplicate(ctx context.Context, rec *Record) (*Record, error) {
	if rec.id == "" {
		return nil, core.Validationf("record has no record id")
	}
	resp, err := mgr.client.DuplicateRecord(ctx, rec.model.layout, rec.id)
	if err != nil {
		return nil, err
	}
	return mgr.Get(ctx, resp.RecordID)
}

// Refresh re-reads rec from the server, discarding local changes.
func (mgr *Manager) Refresh(ctx context.Context, rec *Record) error {
	if rec.id == "" {
		return core.Validationf("record has no record id")
	}
	fresh, err := mgr.Get(ctx, rec.id)
	if err != nil {
		return err
	}
	rec.modID = fresh.modID
	rec.raw = fresh.raw
	rec.values = fresh.values
	rec.portals = fresh.portals
	for _, ps := range rec.portals {
		ps.parent = rec
	}
	rec.clearDirty()
	return nil
}

// UploadContainer streams a file into one of rec's container fields.
// The server assigns a new mod id on upload; Refresh the record to
// observe it and the stored download URL.
func (mgr *Manager) UploadContainer(ctx context.Context, rec *Record, name, filename string, r io.Reader) error {
	if rec.id == "" {
		return core.Validationf("record has no record id")
	}
	f, err := rec.model.fieldFor(name)
	if err != nil {
		return err
	}
	if f.column != field.TypeContainer {
		return core.Validationf("field %q is a %s field, not a container", name, f.column)
	}
	return mgr.client.UploadContainer(ctx, rec.model.layout, rec.id, f.remote, 1, filename, r)
}

// encodeFields converts accessor-keyed Go values into wire-keyed field
// data through the model's codecs.
func encodeFields(m *Model, values map[string]any) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for name, v := range values {
		f, err := m.fieldFor(name)
		if err != nil {
			return nil, err
		}
		wire, err := f.codec.Encode(f.column, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[f.remote] = wire
	}
	return out, nil
}

func portalWrites(m *Model, rows []portalRowChange, creating bool) (map[string][]client.PortalRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make(map[string][]client.PortalRow)
	for _, ch := range rows {
		pm, err := m.portalFor(ch.portal)
		if err != nil {
			return nil, err
		}
		if creating && ch.rowID != "" {
			return nil, core.Validationf("portal %q: cannot address row %s of an unsaved record", ch.portal, ch.rowID)
		}
		wire, err := encodeFields(pm.rows, ch.values)
		if err != nil {
			return nil, fmt.Errorf("portal %s: %w", ch.portal, err)
		}
		row := make(client.PortalRow, len(wire)+1)
		for k, v := range wire {
			row[k] = v
		}
		if ch.rowID != "" {
			row["recordId"] = ch.rowID
		}
		out[pm.remote] = append(out[pm.remote], row)
	}
	return out, nil
}

func portalDeletes(m *Model, deletes []portalRowDelete) ([]string, error) {
	var out []string
	for _, d := range deletes {
		pm, err := m.portalFor(d.portal)
		if err != nil {
			return nil, err
		}
		for _, id := range d.rowIDs {
			if id == "" {
				return nil, core.Validationf("portal %q: empty row id", d.portal)
			}
			out = append(out, pm.remote+"."+id)
		}
	}
	return out, nil
}

// decodeAs builds a Record from raw wire data under the given model.
func (mgr *Manager) decodeAs(m *Model, raw client.RecordData) (*Record, error) {
	rec := &Record{
		mgr:     mgr,
		model:   m,
		id:      raw.RecordID,
		modID:   raw.ModID,
		raw:     raw,
		values:  make(map[string]any, len(m.fields)),
		dirty:   make(map[string]bool),
		portals: make(map[string]*PortalSet, len(m.portals)),
	}
	for name, f := range m.fields {
		wire, ok := raw.FieldData[f.remote]
		if !ok {
			continue
		}
		v, err := f.codec.Decode(f.column, wire)
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", m.layout, name, err)
		}
		if v != nil {
			rec.values[name] = v
		}
	}
	for name, pm := range m.portals {
		ps := &PortalSet{mgr: mgr, model: pm, layout: m.layout, parent: rec}
		if rows, ok := raw.PortalData[pm.remote]; ok {
			decoded := make([]*Record, 0, len(rows))
			seen := make(map[string]bool, len(rows))
			for _, row := range rows {
				id := row.RecordID()
				if id != "" && seen[id] {
					continue
				}
				seen[id] = true
				pr, err := mgr.decodeAs(pm.rows, client.RecordData{
					RecordID:  id,
					ModID:     row.ModID(),
					FieldData: map[string]any(row),
				})
				if err != nil {
					return nil, fmt.Errorf("portal %s: %w", name, err)
				}
				decoded = append(decoded, pr)
			}
			ps.eager = &FoundSet{records: cache.FromSlice(decoded)}
		}
		rec.portals[name] = ps
	}
	return rec, nil
}
