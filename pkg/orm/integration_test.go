//go:build integration

// Integration tests for the query pagination behavior, run against an
// in-process fake Data API server.
// Run with: go test -tags=integration ./pkg/orm/
package orm_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fmdata/internal/fmtest"
	"github.com/leapstack-labs/fmdata/internal/testutil"
	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/orm"
)

func newIntegrationManager(t *testing.T, s *fmtest.Server, chunk int) *orm.Manager {
	t.Helper()

	transport, err := client.NewHTTPTransport(s.URL())
	require.NoError(t, err)
	c := client.New(transport, "crm",
		client.UsernamePassword{Username: "dev", Password: "dev"},
		client.WithLogger(testutil.NewTestLogger(t)),
	)
	t.Cleanup(func() { _ = c.Logout(context.Background()) })

	model, err := orm.Define("contacts", orm.Fields{
		"name": orm.Text("name"),
		"age":  orm.Int("age"),
	})
	require.NoError(t, err)

	return orm.NewManager(c, model,
		orm.WithChunkSize(chunk),
		orm.WithLogger(testutil.NewTestLogger(t)),
	)
}

func seedFive(s *fmtest.Server) {
	rows := make([]map[string]any, 0, 5)
	for i := 1; i <= 5; i++ {
		rows = append(rows, map[string]any{
			"name": fmt.Sprintf("contact-%d", i),
			"age":  20 + i,
		})
	}
	s.Seed("contacts", rows)
}

func collectNames(t *testing.T, fs *orm.FoundSet) []string {
	t.Helper()
	var names []string
	for rec, err := range fs.All() {
		require.NoError(t, err)
		name, err := rec.String("name")
		require.NoError(t, err)
		names = append(names, name)
	}
	return names
}

func TestIntegration_UnboundedWalkChunkOne(t *testing.T) {
	s := fmtest.New("crm")
	defer s.Close()
	seedFive(s)

	mgr := newIntegrationManager(t, s, 1)
	fs, err := mgr.Query().Execute(context.Background())
	require.NoError(t, err)

	names := collectNames(t, fs)
	assert.Len(t, names, 5)

	// Five single-record pages, plus the empty page that signals the
	// end of the found set.
	assert.Equal(t, 6, s.PageRequests())
}

func TestIntegration_UnboundedWalkChunkTwo(t *testing.T) {
	s := fmtest.New("crm")
	defer s.Close()
	seedFive(s)

	mgr := newIntegrationManager(t, s, 2)
	fs, err := mgr.Query().Execute(context.Background())
	require.NoError(t, err)

	names := collectNames(t, fs)
	assert.Len(t, names, 5)

	// Pages of 2, 2 and 1; the short page ends the walk.
	assert.Equal(t, 3, s.PageRequests())
}

func TestIntegration_ComposedSliceNarrows(t *testing.T) {
	s := fmtest.New("crm")
	defer s.Close()
	seedFive(s)

	mgr := newIntegrationManager(t, s, 2)
	fs, err := mgr.Query().Slice(0, 3).Slice(0, 2).Execute(context.Background())
	require.NoError(t, err)

	names := collectNames(t, fs)
	assert.Equal(t, []string{"contact-1", "contact-2"}, names)
	assert.Equal(t, 1, s.PageRequests())
}

func TestIntegration_SliceCapsWiderReslice(t *testing.T) {
	s := fmtest.New("crm")
	defer s.Close()
	seedFive(s)

	mgr := newIntegrationManager(t, s, 2)
	fs, err := mgr.Query().Slice(0, 3).Slice(0, 1000).Execute(context.Background())
	require.NoError(t, err)

	names := collectNames(t, fs)
	assert.Equal(t, []string{"contact-1", "contact-2", "contact-3"}, names)
	assert.Equal(t, 2, s.PageRequests())
}

func TestIntegration_SortedWindow(t *testing.T) {
	s := fmtest.New("crm")
	defer s.Close()
	seedFive(s)

	mgr := newIntegrationManager(t, s, 10)
	fs, err := mgr.Query().
		Find(orm.GTE("age", 22)).
		OrderBy("-age").
		Slice(0, 2).
		Execute(context.Background())
	require.NoError(t, err)

	names := collectNames(t, fs)
	assert.Equal(t, []string{"contact-5", "contact-4"}, names)
}

func TestIntegration_NoDuplicatesUnderMutation(t *testing.T) {
	s := fmtest.New("crm")
	defer s.Close()
	seedFive(s)

	// Delete the first record between the first and second page,
	// shifting every later record one slot forward.
	fired := false
	s.OnBeforePage = func(s *fmtest.Server) {
		if s.PageRequests() == 2 && !fired {
			fired = true
			s.RemoveRecord("contacts", "1")
		}
	}

	mgr := newIntegrationManager(t, s, 2)
	fs, err := mgr.Query().Execute(context.Background())
	require.NoError(t, err)

	seen := map[string]bool{}
	for rec, err := range fs.All() {
		require.NoError(t, err)
		assert.False(t, seen[rec.RecordID()], "record %s served twice", rec.RecordID())
		seen[rec.RecordID()] = true
	}
}

func TestIntegration_NoDuplicatesUnderInsertion(t *testing.T) {
	s := fmtest.New("crm")
	defer s.Close()
	seedFive(s)

	// Insert a record that sorts before every seeded one between the
	// first and second page. The sorted set shifts one slot back, so the
	// server re-serves the last record of page one on page two; the walk
	// must drop it.
	fired := false
	s.OnBeforePage = func(s *fmtest.Server) {
		if s.PageRequests() == 2 && !fired {
			fired = true
			s.AddRecord("contacts", map[string]any{"name": "contact-0", "age": 1})
		}
	}

	mgr := newIntegrationManager(t, s, 2)
	fs, err := mgr.Query().
		Find(orm.GTE("age", 0)).
		OrderBy("age").
		Execute(context.Background())
	require.NoError(t, err)

	seen := map[string]bool{}
	var names []string
	for rec, err := range fs.All() {
		require.NoError(t, err)
		require.False(t, seen[rec.RecordID()], "record %s served twice", rec.RecordID())
		seen[rec.RecordID()] = true
		name, err := rec.String("name")
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.Equal(t,
		[]string{"contact-1", "contact-2", "contact-3", "contact-4", "contact-5"},
		names)
}
