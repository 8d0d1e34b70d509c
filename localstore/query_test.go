package localstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuery_MatchesCollection(t *testing.T) {
	t.Parallel()

	t.Run("direct collection", func(t *testing.T) {
		t.Parallel()
		q := Query{Path: "users"}
		require.True(t, q.MatchesCollection("users"))
		require.False(t, q.MatchesCollection("rooms"))
	})

	t.Run("collection group matches any depth", func(t *testing.T) {
		t.Parallel()
		q := Query{Path: "messages", CollectionGroup: true}
		require.True(t, q.MatchesCollection("messages"))
		require.True(t, q.MatchesCollection("rooms/42/messages"))
		require.False(t, q.MatchesCollection("rooms/42/participants"))
	})
}

func TestQuery_Matches_Filters(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	doc := NewDocument(key, SnapshotVersion{Seconds: 1}, map[string]any{"age": 30.0, "tags": []any{"a", "b"}}, false)

	t.Run("equal", func(t *testing.T) {
		t.Parallel()
		q := Query{Filters: []Filter{{Field: "age", Op: FilterEqual, Value: 30.0}}}
		require.True(t, q.Matches(doc))
	})

	t.Run("greater than", func(t *testing.T) {
		t.Parallel()
		q := Query{Filters: []Filter{{Field: "age", Op: FilterGreaterThan, Value: 40.0}}}
		require.False(t, q.Matches(doc))
	})

	t.Run("array contains", func(t *testing.T) {
		t.Parallel()
		q := Query{Filters: []Filter{{Field: "tags", Op: FilterArrayContains, Value: "a"}}}
		require.True(t, q.Matches(doc))

		q2 := Query{Filters: []Filter{{Field: "tags", Op: FilterArrayContains, Value: "z"}}}
		require.False(t, q2.Matches(doc))
	})

	t.Run("missing field never matches", func(t *testing.T) {
		t.Parallel()
		q := Query{Filters: []Filter{{Field: "missing", Op: FilterEqual, Value: 1.0}}}
		require.False(t, q.Matches(doc))
	})

	t.Run("no-document never matches", func(t *testing.T) {
		t.Parallel()
		q := Query{}
		require.False(t, q.Matches(NewManufacturedNoDocument(key)))
	})
}

func TestSimpleQueryEngine_RunQuery_FiltersSortsAndLimits(t *testing.T) {
	t.Parallel()

	docs := map[DocumentKey]MaybeDocument{
		MustDocumentKey("users/a"): NewDocument(MustDocumentKey("users/a"), SnapshotVersion{Seconds: 1}, map[string]any{"age": 30.0}, false),
		MustDocumentKey("users/b"): NewDocument(MustDocumentKey("users/b"), SnapshotVersion{Seconds: 1}, map[string]any{"age": 20.0}, false),
		MustDocumentKey("users/c"): NewDocument(MustDocumentKey("users/c"), SnapshotVersion{Seconds: 1}, map[string]any{"age": 40.0}, false),
	}

	query := Query{
		Path:    "users",
		OrderBy: []OrderBy{{Field: "age", Direction: Ascending}},
		Limit:   2,
	}

	engine := SimpleQueryEngine{}

	results, err := engine.RunQuery(query, docs, SnapshotVersionMin, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 20.0, results[0].Fields["age"])
	require.Equal(t, 30.0, results[1].Fields["age"])
}

func TestSimpleQueryEngine_RunQuery_DescendingOrder(t *testing.T) {
	t.Parallel()

	docs := map[DocumentKey]MaybeDocument{
		MustDocumentKey("users/a"): NewDocument(MustDocumentKey("users/a"), SnapshotVersion{Seconds: 1}, map[string]any{"age": 30.0}, false),
		MustDocumentKey("users/b"): NewDocument(MustDocumentKey("users/b"), SnapshotVersion{Seconds: 1}, map[string]any{"age": 20.0}, false),
	}

	query := Query{Path: "users", OrderBy: []OrderBy{{Field: "age", Direction: Descending}}}

	results, err := SimpleQueryEngine{}.RunQuery(query, docs, SnapshotVersionMin, nil)
	require.NoError(t, err)
	require.Equal(t, 30.0, results[0].Fields["age"])
	require.Equal(t, 20.0, results[1].Fields["age"])
}

func TestSimpleQueryEngine_RunQuery_TieBreaksByKey(t *testing.T) {
	t.Parallel()

	docs := map[DocumentKey]MaybeDocument{
		MustDocumentKey("users/b"): NewDocument(MustDocumentKey("users/b"), SnapshotVersion{Seconds: 1}, map[string]any{"age": 20.0}, false),
		MustDocumentKey("users/a"): NewDocument(MustDocumentKey("users/a"), SnapshotVersion{Seconds: 1}, map[string]any{"age": 20.0}, false),
	}

	results, err := SimpleQueryEngine{}.RunQuery(Query{Path: "users"}, docs, SnapshotVersionMin, nil)
	require.NoError(t, err)
	require.Equal(t, "users/a", results[0].Key.Path())
	require.Equal(t, "users/b", results[1].Key.Path())
}
