package orm

import (
	"context"

	"github.com/leapstack-labs/fmdata/pkg/cache"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

// defaultPortalChunk is how many portal rows an on-demand fetch asks
// for per request.
const defaultPortalChunk = 100

// PortalSet is the related-row collection of one portal on one parent
// record. Rows delivered with the parent (via Query.Prefetch) are read
// through Prefetched; Fetch pages through the portal on demand with its
// own window and chunk size.
type PortalSet struct {
	mgr    *Manager
	model  *PortalModel
	layout string
	parent *Record
	eager  *FoundSet
}

// Name returns the portal's accessor name.
func (p *PortalSet) Name() string { return p.model.name }

// Prefetched returns the rows that arrived with the parent record. It
// fails when the query did not prefetch this portal; use Fetch then.
func (p *PortalSet) Prefetched() (*FoundSet, error) {
	if p.eager == nil {
		return nil, core.Validationf("portal %q was not prefetched, use Fetch", p.model.name)
	}
	return p.eager, nil
}

type fetchSpec struct {
	window window
	chunk  int
}

// FetchOption shapes an on-demand portal fetch.
type FetchOption func(*fetchSpec) error

// FetchWindow limits the fetch to portal rows [start, stop), 0-based.
func FetchWindow(start, stop int) FetchOption {
	return func(s *fetchSpec) error {
		if start < 0 || stop < 0 {
			return core.Validationf("fetch window must be non-negative, got [%d, %d)", start, stop)
		}
		if stop <= start {
			return core.Validationf("fetch window stop must be greater than start, got [%d, %d)", start, stop)
		}
		s.window = window{start: start, stop: stop, bounded: true}
		return nil
	}
}

// FetchChunk sets how many rows each page request asks for.
func FetchChunk(n int) FetchOption {
	return func(s *fetchSpec) error {
		if n < 1 {
			return core.Validationf("chunk size must be at least 1, got %d", n)
		}
		s.chunk = n
		return nil
	}
}

// Fetch pages through the portal's rows for this parent record. Each
// page re-reads the parent with a shifted portal window; the result is
// a lazily-read set like any query's.
func (p *PortalSet) Fetch(ctx context.Context, opts ...FetchOption) (*FoundSet, error) {
	if p.parent.id == "" {
		return nil, core.Validationf("record has no record id yet, save it before reading portals")
	}
	spec := fetchSpec{chunk: defaultPortalChunk}
	for _, opt := range opts {
		if err := opt(&spec); err != nil {
			return nil, err
		}
	}

	fetch := func(ctx context.Context, offset, limit int) (*client.RecordsResponse, error) {
		params := &client.SearchParams{
			Portals: []client.PortalRequest{{Name: p.model.remote, Offset: offset, Limit: limit}},
		}
		resp, err := p.mgr.client.GetRecord(ctx, p.layout, p.parent.id, params)
		if err != nil {
			return nil, err
		}
		page := &client.RecordsResponse{ScriptOutcome: resp.ScriptOutcome, DataInfo: resp.DataInfo}
		if len(resp.Data) > 0 {
			for _, row := range resp.Data[0].PortalData[p.model.remote] {
				page.Data = append(page.Data, client.RecordData{
					RecordID:  row.RecordID(),
					ModID:     row.ModID(),
					FieldData: map[string]any(row),
				})
			}
		}
		return page, nil
	}

	pager := newPaginator(fetch, spec.window, spec.chunk, p.mgr.logger)
	rows := cache.New(decodeSource(p.mgr, p.model.rows, pager.source(ctx)))
	return &FoundSet{records: rows, pager: pager}, nil
}

// Records returns all rows: the prefetched cache when the query asked
// for one, otherwise a full on-demand fetch.
func (p *PortalSet) Records(ctx context.Context) ([]*Record, error) {
	if p.eager != nil {
		return p.eager.Records()
	}
	fs, err := p.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return fs.Records()
}
