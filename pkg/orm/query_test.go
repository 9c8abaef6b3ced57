package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fmdata/pkg/client"
	"github.com/leapstack-labs/fmdata/pkg/core"
)

func newBuildManager() *Manager {
	return NewManager(nil, searchModel)
}

func TestQuery_Immutable(t *testing.T) {
	base := newBuildManager().Query().Find(Exact("name", "Bob"))

	aged := base.OrderBy("age")
	named := base.OrderBy("-name")
	wider := base.Find(GTE("age", 18))

	assert.Empty(t, base.sortKeys, "base must not see branch sorts")
	assert.Equal(t, []string{"age"}, aged.sortKeys)
	assert.Equal(t, []string{"-name"}, named.sortKeys)
	assert.Len(t, base.clauses, 1, "base must not see branch clauses")
	assert.Len(t, wider.clauses, 2)
}

func TestQuery_WindowComposition(t *testing.T) {
	tests := []struct {
		name   string
		slices [][2]int
		want   window
	}{
		{"single", [][2]int{{3, 7}}, window{start: 3, stop: 7, bounded: true}},
		{"narrowing", [][2]int{{0, 10}, {2, 5}}, window{start: 2, stop: 5, bounded: true}},
		{"first of tail", [][2]int{{5, 100}, {0, 1}}, window{start: 5, stop: 6, bounded: true}},
		{"clamped to outer stop", [][2]int{{2, 8}, {3, 100}}, window{start: 5, stop: 8, bounded: true}},
		{"wide inner keeps outer", [][2]int{{0, 3}, {0, 1000}}, window{start: 0, stop: 3, bounded: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newBuildManager().Query()
			for _, s := range tt.slices {
				q = q.Slice(s[0], s[1])
			}
			require.NoError(t, q.err)
			assert.Equal(t, tt.want, q.window)
		})
	}
}

func TestQuery_SliceValidation(t *testing.T) {
	mgr := newBuildManager()

	_, err := mgr.Query().Slice(-1, 5).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	_, err = mgr.Query().Slice(5, 5).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	_, err = mgr.Query().Slice(5, 3).Execute(context.Background())
	require.Error(t, err)
}

func TestQuery_SliceFreezesShape(t *testing.T) {
	mgr := newBuildManager()
	sliced := mgr.Query().Find(NotEmpty("name")).Slice(0, 5)

	frozen := []struct {
		name  string
		query *Query
	}{
		{"find", sliced.Find(Exact("name", "Bob"))},
		{"omit", sliced.Omit(Exact("name", "Bob"))},
		{"order by", sliced.OrderBy("age")},
		{"prefetch", sliced.Prefetch("orders", 0, 5)},
	}
	for _, tt := range frozen {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.query.Execute(context.Background())
			require.Error(t, err)
			assert.True(t, core.IsValidation(err), "want validation error, got %v", err)
			assert.ErrorContains(t, err, "after Slice")
		})
	}

	// Presentation settings stay open after slicing.
	open := sliced.
		ChunkSize(10).
		ResponseLayout("PeopleSlim").
		PrerequestScript("Audit", "1").
		DateFormat(client.DateFormatISO8601)
	assert.NoError(t, open.err)
	assert.Equal(t, 10, open.chunk)
	assert.Equal(t, "PeopleSlim", open.respLayout)
}

func TestQuery_BuildQuery(t *testing.T) {
	q := newBuildManager().Query().
		Find(Exact("name", "Bob"), GTE("age", 18)).
		Find(Prefix("name", "Al")).
		Omit(LT("age", 12))

	got, err := q.buildQuery()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"FullName": "==Bob", "Age": ">=18"},
		{"FullName": "==Al*"},
		{"Age": "<12", "omit": "true"},
	}, got)
}

func TestQuery_BuildQueryErrors(t *testing.T) {
	mgr := newBuildManager()

	// Same field twice in one clause.
	_, err := mgr.Query().Find(GTE("age", 18), LT("age", 65)).buildQuery()
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	// The same field across clauses is fine.
	q := mgr.Query().Find(GTE("age", 18)).Omit(GTE("age", 65))
	_, err = q.buildQuery()
	assert.NoError(t, err)

	// Unknown field.
	_, err = mgr.Query().Find(Exact("nickname", "x")).buildQuery()
	require.Error(t, err)

	// Criteria errors carry the field name.
	_, err = mgr.Query().Find(Term("age__near", 30)).buildQuery()
	require.Error(t, err)
	assert.ErrorContains(t, err, `"age"`)
}

func TestQuery_BuildSort(t *testing.T) {
	q := newBuildManager().Query().OrderBy("name").OrderBy("-age")

	got, err := q.buildSort()
	require.NoError(t, err)
	assert.Equal(t, []client.SortField{
		{FieldName: "FullName", SortOrder: "ascend"},
		{FieldName: "Age", SortOrder: "descend"},
	}, got)

	_, err = newBuildManager().Query().OrderBy("-nickname").buildSort()
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestQuery_Validation(t *testing.T) {
	mgr := newBuildManager()

	_, err := mgr.Query().Find().Execute(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "at least one criterion")

	_, err = mgr.Query().ChunkSize(0).Execute(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "chunk size")

	_, err = mgr.Query().Prefetch("orders", -1, 5).Execute(context.Background())
	require.Error(t, err)

	// searchModel has no portals at all.
	_, err = mgr.Query().Prefetch("orders", 0, 5).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestQuery_ErrorShortCircuits(t *testing.T) {
	// The first construction error sticks; terminals surface it without
	// any request going out (the manager has no client to call).
	q := newBuildManager().Query().ChunkSize(-1).Find(Exact("name", "x")).OrderBy("age")

	_, err := q.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "chunk size")

	_, err = q.Count(context.Background())
	require.Error(t, err)

	_, err = q.First(context.Background())
	require.Error(t, err)

	_, err = q.Update(context.Background(), map[string]any{"name": "y"})
	require.Error(t, err)

	_, err = q.DeleteAll(context.Background())
	require.Error(t, err)
}
