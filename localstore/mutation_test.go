package localstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrecondition_IsValid(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	existing := NewDocument(key, SnapshotVersion{Seconds: 10}, nil, false)
	missing := NewNoDocument(key, SnapshotVersion{Seconds: 10})

	t.Run("none always valid", func(t *testing.T) {
		t.Parallel()
		require.True(t, Precondition{}.IsValid(existing))
		require.True(t, Precondition{}.IsValid(missing))
	})

	t.Run("exists", func(t *testing.T) {
		t.Parallel()
		p := Precondition{Kind: PreconditionExists}
		require.True(t, p.IsValid(existing))
		require.False(t, p.IsValid(missing))
	})

	t.Run("not exists", func(t *testing.T) {
		t.Parallel()
		p := Precondition{Kind: PreconditionNotExists}
		require.False(t, p.IsValid(existing))
		require.True(t, p.IsValid(missing))
	})

	t.Run("update time less or equal", func(t *testing.T) {
		t.Parallel()
		p := Precondition{Kind: PreconditionUpdateTimeLessOrEqual, UpdateTime: SnapshotVersion{Seconds: 10}}
		require.True(t, p.IsValid(existing))

		stale := Precondition{Kind: PreconditionUpdateTimeLessOrEqual, UpdateTime: SnapshotVersion{Seconds: 5}}
		require.False(t, stale.IsValid(existing))

		require.False(t, p.IsValid(missing))
	})
}

func TestMutation_Apply_Set(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	m := NewSetMutation(key, map[string]any{"name": "alice"}, Precondition{})

	result := m.apply(NewManufacturedNoDocument(key), time.Time{}, SnapshotVersion{Seconds: 1}, true)

	require.True(t, result.IsDocument())
	require.Equal(t, "alice", result.Fields["name"])
	require.True(t, result.HasPendingWrites)
}

func TestMutation_Apply_Patch_PreservesUntouchedFields(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	base := NewDocument(key, SnapshotVersion{Seconds: 1}, map[string]any{"name": "alice", "age": 30}, false)

	m := NewPatchMutation(key, []string{"age"}, map[string]any{"age": 31}, Precondition{})
	result := m.apply(base, time.Time{}, SnapshotVersion{Seconds: 2}, false)

	require.Equal(t, "alice", result.Fields["name"])
	require.Equal(t, 31, result.Fields["age"])
}

func TestMutation_Apply_Patch_ClearsFieldAbsentFromValue(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	base := NewDocument(key, SnapshotVersion{Seconds: 1}, map[string]any{"name": "alice", "age": 30}, false)

	m := NewPatchMutation(key, []string{"age"}, map[string]any{}, Precondition{})
	result := m.apply(base, time.Time{}, SnapshotVersion{Seconds: 2}, false)

	_, hasAge := result.Fields["age"]
	require.False(t, hasAge)
	require.Equal(t, "alice", result.Fields["name"])
}

func TestMutation_Apply_Delete(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	base := NewDocument(key, SnapshotVersion{Seconds: 1}, map[string]any{"name": "alice"}, false)

	m := NewDeleteMutation(key, Precondition{})
	result := m.apply(base, time.Time{}, SnapshotVersion{Seconds: 2}, false)

	require.False(t, result.IsDocument())
}

func TestMutation_Apply_PreconditionViolation_IsNoOp(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	base := NewManufacturedNoDocument(key)

	m := NewSetMutation(key, map[string]any{"name": "alice"}, Precondition{Kind: PreconditionExists})
	result := m.apply(base, time.Time{}, SnapshotVersion{Seconds: 2}, false)

	require.Equal(t, base, result)
}

func TestMutation_Apply_Transform(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("counters/hits")
	base := NewDocument(key, SnapshotVersion{Seconds: 1}, map[string]any{"count": 5.0}, false)

	m := NewTransformMutation(key, []FieldTransform{{Field: "count", Op: Increment{Delta: 3}}}, Precondition{})
	result := m.apply(base, time.Time{}, SnapshotVersion{Seconds: 2}, false)

	require.Equal(t, 8.0, result.Fields["count"])
}

func TestMutation_TransformFieldMask(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("counters/hits")
	m := NewTransformMutation(key, []FieldTransform{{Field: "count", Op: Increment{Delta: 1}}, {Field: "seen", Op: ServerTimestamp{}}}, Precondition{})

	require.Equal(t, []string{"count", "seen"}, m.TransformFieldMask())
	require.Nil(t, NewSetMutation(key, nil, Precondition{}).TransformFieldMask())
}

func TestIncrement_Apply_NonNumericPreviousDefaultsToZero(t *testing.T) {
	t.Parallel()

	op := Increment{Delta: 5}
	require.InDelta(t, 5.0, op.Apply(nil, time.Time{}).(float64), 0)
	require.InDelta(t, 5.0, op.Apply("not-a-number", time.Time{}).(float64), 0)
}

func TestArrayUnion_Apply_DedupesAndPreservesOrder(t *testing.T) {
	t.Parallel()

	op := ArrayUnion{Values: []any{"b", "c"}}
	result := op.Apply([]any{"a", "b"}, time.Time{})

	require.Equal(t, []any{"a", "b", "c"}, result)
}

func TestArrayRemove_Apply_RemovesEveryOccurrence(t *testing.T) {
	t.Parallel()

	op := ArrayRemove{Values: []any{"b"}}
	result := op.Apply([]any{"a", "b", "b", "c"}, time.Time{})

	require.Equal(t, []any{"a", "c"}, result)
}

func TestServerTimestamp_Apply_ReturnsWriteTime(t *testing.T) {
	t.Parallel()

	writeTime := time.Unix(1700000000, 0)
	require.Equal(t, writeTime, ServerTimestamp{}.Apply("anything", writeTime))
}
