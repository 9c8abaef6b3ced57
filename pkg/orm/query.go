package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/fmdata/pkg/cache"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

// clause is one request entry of a find: its criteria are ANDed, the
// clauses of a query are ORed, and omit clauses subtract their matches.
type clause struct {
	criteria []Criterion
	omit     bool
}

// portalWindow is the row window of one prefetched portal.
type portalWindow struct {
	offset int
	limit  int
}

// window is a half-open [start, stop) record range. An unbounded window
// has no stop.
type window struct {
	start   int
	stop    int
	bounded bool
}

// compose narrows the window by a further [start, stop) slice taken
// relative to the current one. Successive slices always converge.
func (w window) compose(start, stop int) window {
	if w.bounded {
		newStop := min(w.stop, w.start+stop)
		return window{start: min(newStop, w.start+start), stop: newStop, bounded: true}
	}
	return window{start: w.start + start, stop: w.start + stop, bounded: true}
}

// Query is an immutable find specification. Builder methods return a
// new Query, leaving the receiver untouched, so query variants can
// branch from a shared base. Construction errors are carried in the
// chain and surface at the first terminal call, before any request
// goes out.
type Query struct {
	mgr *Manager
	err error

	clauses    []clause
	sortKeys   []string
	chunk      int
	window     window
	prefetch   map[string]portalWindow
	respLayout string
	scripts    client.Scripts
	dateFormat client.DateFormat
}

func (q *Query) clone() *Query {
	c := *q
	c.clauses = slices.Clone(q.clauses)
	c.sortKeys = slices.Clone(q.sortKeys)
	c.prefetch = maps.Clone(q.prefetch)
	return &c
}

func (q *Query) fail(err error) *Query {
	c := q.clone()
	c.err = err
	return c
}

// isSliced reports whether a window has been applied. Once it has, the
// query's shape (criteria, sort, prefetch) is frozen.
func (q *Query) isSliced() bool {
	return q.window.start != 0 || q.window.bounded
}

func (q *Query) shapeable(op string) error {
	if q.isSliced() {
		return core.Validationf("cannot call %s after Slice", op)
	}
	return nil
}

// Find appends one find clause. All criteria of the clause must match;
// clauses from separate Find and Omit calls are combined by the server
// as alternatives.
func (q *Query) Find(criteria ...Criterion) *Query {
	return q.addClause("Find", clause{criteria: slices.Clone(criteria)})
}

// Omit appends a clause whose matches are removed from the found set.
func (q *Query) Omit(criteria ...Criterion) *Query {
	return q.addClause("Omit", clause{criteria: slices.Clone(criteria), omit: true})
}

func (q *Query) addClause(op string, cl clause) *Query {
	if q.err != nil {
		return q
	}
	if err := q.shapeable(op); err != nil {
		return q.fail(err)
	}
	if len(cl.criteria) == 0 {
		return q.fail(core.Validationf("%s needs at least one criterion", op))
	}
	c := q.clone()
	c.clauses = append(c.clauses, cl)
	return c
}

// OrderBy appends sort keys. A leading "-" sorts that field descending.
func (q *Query) OrderBy(fields ...string) *Query {
	if q.err != nil {
		return q
	}
	if err := q.shapeable("OrderBy"); err != nil {
		return q.fail(err)
	}
	c := q.clone()
	c.sortKeys = append(c.sortKeys, fields...)
	return c
}

// Prefetch asks every page request to deliver rows [offset, offset+limit)
// of the named portal with each record. The rows land in the record's
// portal cache, readable through PortalSet.Prefetched.
func (q *Query) Prefetch(portal string, offset, limit int) *Query {
	if q.err != nil {
		return q
	}
	if err := q.shapeable("Prefetch"); err != nil {
		return q.fail(err)
	}
	if offset < 0 || limit < 0 {
		return q.fail(core.Validationf("prefetch window must be non-negative, got offset %d limit %d", offset, limit))
	}
	c := q.clone()
	if c.prefetch == nil {
		c.prefetch = make(map[string]portalWindow, 1)
	}
	c.prefetch[portal] = portalWindow{offset: offset, limit: limit}
	return c
}

// ChunkSize sets how many records each page request asks for.
func (q *Query) ChunkSize(n int) *Query {
	if q.err != nil {
		return q
	}
	if n < 1 {
		return q.fail(core.Validationf("chunk size must be at least 1, got %d", n))
	}
	c := q.clone()
	c.chunk = n
	return c
}

// Slice narrows the result window to [start, stop), 0-based. Slicing an
// already sliced query composes: the new bounds are taken relative to
// the current window. After the first Slice the query shape is frozen;
// only ChunkSize, ResponseLayout, scripts and DateFormat may still
// change.
func (q *Query) Slice(start, stop int) *Query {
	if q.err != nil {
		return q
	}
	if start < 0 || stop < 0 {
		return q.fail(core.Validationf("slice bounds must be non-negative, got [%d, %d)", start, stop))
	}
	if stop <= start {
		return q.fail(core.Validationf("slice stop must be greater than start, got [%d, %d)", start, stop))
	}
	c := q.clone()
	c.window = c.window.compose(start, stop)
	return c
}

// ResponseLayout returns the records under another layout. The records
// still decode through this manager's model; use Record.As to re-decode
// them under the response layout's model.
func (q *Query) ResponseLayout(name string) *Query {
	if q.err != nil {
		return q
	}
	c := q.clone()
	c.respLayout = name
	return c
}

// PrerequestScript runs the named script before each page's request.
func (q *Query) PrerequestScript(name, param string) *Query {
	if q.err != nil {
		return q
	}
	c := q.clone()
	c.scripts.Prerequest = &client.ScriptSpec{Name: name, Param: param}
	return c
}

// PresortScript runs the named script after each page's request, before
// sorting.
func (q *Query) PresortScript(name, param string) *Query {
	if q.err != nil {
		return q
	}
	c := q.clone()
	c.scripts.Presort = &client.ScriptSpec{Name: name, Param: param}
	return c
}

// AfterScript runs the named script after each page's request completes.
func (q *Query) AfterScript(name, param string) *Query {
	if q.err != nil {
		return q
	}
	c := q.clone()
	c.scripts.After = &client.ScriptSpec{Name: name, Param: param}
	return c
}

// DateFormat sets how the server renders and parses date operands.
func (q *Query) DateFormat(f client.DateFormat) *Query {
	if q.err != nil {
		return q
	}
	c := q.clone()
	c.dateFormat = f
	return c
}

// buildQuery renders the find clauses into wire form. A clause may name
// each field only once; FileMaker keeps a single criterion per field
// and request.
func (q *Query) buildQuery() ([]map[string]any, error) {
	if len(q.clauses) == 0 {
		return nil, nil
	}
	out := make([]map[string]any, 0, len(q.clauses))
	for _, cl := range q.clauses {
		entry := make(map[string]any, len(cl.criteria)+1)
		for _, cr := range cl.criteria {
			f, err := q.mgr.model.fieldFor(cr.field)
			if err != nil {
				return nil, err
			}
			if _, dup := entry[f.remote]; dup {
				return nil, core.Validationf("field %q appears twice in one find clause", cr.field)
			}
			expr, err := cr.render(f)
			if err != nil {
				return nil, fmt.Errorf("criterion on %q: %w", cr.field, err)
			}
			entry[f.remote] = expr
		}
		if cl.omit {
			entry["omit"] = "true"
		}
		out = append(out, entry)
	}
	return out, nil
}

func (q *Query) buildSort() ([]client.SortField, error) {
	if len(q.sortKeys) == 0 {
		return nil, nil
	}
	out := make([]client.SortField, 0, len(q.sortKeys))
	for _, key := range q.sortKeys {
		name, order := key, "ascend"
		if strings.HasPrefix(key, "-") {
			name, order = key[1:], "descend"
		}
		f, err := q.mgr.model.fieldFor(name)
		if err != nil {
			return nil, err
		}
		out = append(out, client.SortField{FieldName: f.remote, SortOrder: order})
	}
	return out, nil
}

func (q *Query) buildPortals() ([]client.PortalRequest, error) {
	if len(q.prefetch) == 0 {
		return nil, nil
	}
	out := make([]client.PortalRequest, 0, len(q.prefetch))
	for _, name := range slices.Sorted(maps.Keys(q.prefetch)) {
		pm, err := q.mgr.model.portalFor(name)
		if err != nil {
			return nil, err
		}
		w := q.prefetch[name]
		out = append(out, client.PortalRequest{Name: pm.remote, Offset: w.offset, Limit: w.limit})
	}
	return out, nil
}

// Execute prepares the found set. No request is sent until the set is
// first read; pages are then fetched on demand as the caller indexes
// into it.
func (q *Query) Execute(ctx context.Context) (*FoundSet, error) {
	if q.err != nil {
		return nil, q.err
	}
	query, err := q.buildQuery()
	if err != nil {
		return nil, err
	}
	sort, err := q.buildSort()
	if err != nil {
		return nil, err
	}
	portals, err := q.buildPortals()
	if err != nil {
		return nil, err
	}

	chunk := q.chunk
	if chunk == 0 {
		chunk = q.mgr.chunk
	}
	mgr := q.mgr
	fetch := func(ctx context.Context, offset, limit int) (*client.RecordsResponse, error) {
		params := &client.SearchParams{
			Offset:         offset,
			Limit:          limit,
			Sort:           sort,
			Portals:        portals,
			Scripts:        q.scripts,
			ResponseLayout: q.respLayout,
			DateFormat:     q.dateFormat,
		}
		if len(query) == 0 {
			return mgr.client.GetRecords(ctx, mgr.model.layout, params)
		}
		return mgr.client.Find(ctx, mgr.model.layout, query, params)
	}

	pager := newPaginator(fetch, q.window, chunk, mgr.logger)
	records := cache.New(decodeSource(mgr, mgr.model, pager.source(ctx)))
	return &FoundSet{records: records, pager: pager}, nil
}

// First returns the first matching record, or nil when nothing matches.
func (q *Query) First(ctx context.Context) (*Record, error) {
	fs, err := q.Slice(0, 1).Execute(ctx)
	if err != nil {
		return nil, err
	}
	return fs.First()
}

// Count runs the query and returns the number of matching records.
func (q *Query) Count(ctx context.Context) (int, error) {
	fs, err := q.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return fs.Len()
}

// Update applies values to every matching record, one edit per record,
// and returns how many were written. The whole found set is read first
// so that edits cannot shift records between pages mid-walk.
func (q *Query) Update(ctx context.Context, values map[string]any, opts ...SaveOption) (int, error) {
	fs, err := q.Execute(ctx)
	if err != nil {
		return 0, err
	}
	records, err := fs.Records()
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		for name, v := range values {
			if err := rec.Set(name, v); err != nil {
				return i, fmt.Errorf("record %s: %w", rec.id, err)
			}
		}
		if err := q.mgr.Save(ctx, rec, opts...); err != nil {
			return i, fmt.Errorf("record %s: %w", rec.id, err)
		}
	}
	return len(records), nil
}

// DeleteAll deletes every matching record and returns how many went.
// Like Update, it reads the whole found set before the first delete.
func (q *Query) DeleteAll(ctx context.Context) (int, error) {
	fs, err := q.Execute(ctx)
	if err != nil {
		return 0, err
	}
	records, err := fs.Records()
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		if err := q.mgr.Delete(ctx, rec); err != nil {
			return i, fmt.Errorf("record %s: %w", rec.id, err)
		}
	}
	return len(records), nil
}
