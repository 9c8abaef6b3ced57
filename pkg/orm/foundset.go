package orm

import (
	"errors"
	"fmt"
	"iter"

	"github.com/leapstack-labs/fmdata/pkg/cache"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

// FoundSet is the lazily-read result of an executed query. Reading an
// index pulls just enough pages to reach it; everything pulled once is
// cached and never re-fetched.
type FoundSet struct {
	records *cache.Iterator[*Record]
	pager   *paginator
}

// decodeSource decodes raw wire records into model records as they are
// pulled from a page source.
func decodeSource(mgr *Manager, m *Model, next cache.NextFunc[client.RecordData]) cache.NextFunc[*Record] {
	return func() (*Record, bool, error) {
		raw, ok, err := next()
		if err != nil || !ok {
			return nil, false, err
		}
		rec, err := mgr.decodeAs(m, raw)
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	}
}

// Len reads the whole set and returns its size.
func (fs *FoundSet) Len() (int, error) {
	return fs.records.Len()
}

// Get returns the record at index i, fetching only as many pages as
// needed to reach it. Indexing from the end is not supported against a
// remote found set; read Len first if you need it.
func (fs *FoundSet) Get(i int) (*Record, error) {
	if i < 0 {
		return nil, core.Validationf("negative index %d", i)
	}
	rec, err := fs.records.Get(i)
	if err != nil {
		if errors.Is(err, cache.ErrOutOfRange) {
			n, _ := fs.records.Len()
			return nil, fmt.Errorf("index %d out of range, found set has %d records: %w", i, n, err)
		}
		return nil, err
	}
	return rec, nil
}

// Slice returns the records in [start, stop).
func (fs *FoundSet) Slice(start, stop int) ([]*Record, error) {
	if start < 0 || stop < 0 {
		return nil, core.Validationf("slice bounds must be non-negative, got [%d, %d)", start, stop)
	}
	return fs.records.Slice(start, stop, 1)
}

// Records reads and returns the whole set.
func (fs *FoundSet) Records() ([]*Record, error) {
	return fs.records.Values()
}

// All returns a restartable cursor over the set. Every restart replays
// the cached prefix before pulling further pages.
func (fs *FoundSet) All() iter.Seq2[*Record, error] {
	return fs.records.All()
}

// First returns the first record, or nil when the set is empty.
func (fs *FoundSet) First() (*Record, error) {
	rec, err := fs.records.Get(0)
	if errors.Is(err, cache.ErrOutOfRange) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Empty reports whether the set has no records, reading at most one.
func (fs *FoundSet) Empty() (bool, error) {
	return fs.records.Empty()
}

// Pages returns how many page requests have been issued so far. An
// unbounded walk that ends exactly on a chunk boundary includes one
// trailing empty probe request.
func (fs *FoundSet) Pages() int {
	if fs.pager == nil {
		return 0
	}
	return fs.pager.pages
}

// Scripts returns the script outcomes that rode the first page, or nil
// before any page has been read.
func (fs *FoundSet) Scripts() *client.ScriptOutcome {
	if fs.pager == nil {
		return nil
	}
	return fs.pager.outcome
}

// Info returns the first page's data info (found and total counts), or
// nil before any page has been read.
func (fs *FoundSet) Info() *client.DataInfo {
	if fs.pager == nil {
		return nil
	}
	return fs.pager.info
}
