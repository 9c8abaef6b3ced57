package orm

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/fmdata/pkg/cache"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

// pageFetch issues one page request. offset is 0-based; limit is always
// at least 1.
type pageFetch func(ctx context.Context, offset, limit int) (*client.RecordsResponse, error)

// paginator walks a record window as a sequence of bounded page
// requests. The remote found set can shift underneath it (records
// created or deleted between pages), so it drops any record id it has
// already yielded rather than trusting offsets to be stable.
//
// A page shorter than its limit, an empty page, or error 401 (no
// records match) all mark the walk as exhausted. When the window is
// unbounded and the set's size is an exact multiple of the chunk size,
// detecting the end costs one extra empty probe request.
type paginator struct {
	fetch  pageFetch
	window window
	chunk  int
	logger *slog.Logger

	offset  int
	done    bool
	pages   int
	seen    map[string]bool
	outcome *client.ScriptOutcome
	info    *client.DataInfo
}

func newPaginator(fetch pageFetch, w window, chunk int, logger *slog.Logger) *paginator {
	return &paginator{
		fetch:  fetch,
		window: w,
		chunk:  chunk,
		logger: logger,
		offset: w.start,
		seen:   make(map[string]bool),
	}
}

// source adapts the paginator to a cache source. ctx governs every page
// request made on behalf of the returned func.
func (p *paginator) source(ctx context.Context) cache.NextFunc[client.RecordData] {
	var buf []client.RecordData
	return func() (client.RecordData, bool, error) {
		for {
			if len(buf) > 0 {
				r := buf[0]
				buf = buf[1:]
				return r, true, nil
			}
			if p.done {
				return client.RecordData{}, false, nil
			}
			page, err := p.nextPage(ctx)
			if err != nil {
				return client.RecordData{}, false, err
			}
			buf = page
		}
	}
}

// nextPage issues one request and applies the window and dedup rules.
// It returns an empty page exactly when the walk is exhausted.
func (p *paginator) nextPage(ctx context.Context) ([]client.RecordData, error) {
	limit := p.chunk
	if p.window.bounded {
		remaining := p.window.stop - p.offset
		if remaining <= 0 {
			p.done = true
			return nil, nil
		}
		limit = min(p.chunk, remaining)
	}

	resp, err := p.fetch(ctx, p.offset, limit)
	if err != nil {
		if core.HasCode(err, core.CodeNoRecordsMatch) {
			p.pages++
			p.done = true
			p.logger.Debug("page walk exhausted", "offset", p.offset, "pages", p.pages)
			return nil, nil
		}
		return nil, err
	}
	p.pages++
	if p.pages == 1 {
		p.outcome = &resp.ScriptOutcome
		p.info = resp.DataInfo
	}

	if len(resp.Data) < limit {
		p.done = true
	}
	p.offset += len(resp.Data)

	out := make([]client.RecordData, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.RecordID != "" && p.seen[r.RecordID] {
			p.logger.Debug("dropping shifted duplicate record", "recordId", r.RecordID)
			continue
		}
		p.seen[r.RecordID] = true
		out = append(out, r)
	}
	p.logger.Debug("fetched page",
		"page", p.pages, "requested", limit, "returned", len(resp.Data), "kept", len(out))
	return out, nil
}
