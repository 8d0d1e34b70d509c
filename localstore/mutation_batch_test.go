package localstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutationBatch_Keys_Deduplicates(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	batch := MutationBatch{
		Mutations: []Mutation{
			NewSetMutation(key, map[string]any{"name": "alice"}, Precondition{}),
			NewSetMutation(key, map[string]any{"name": "alice2"}, Precondition{}),
		},
	}

	require.Equal(t, []DocumentKey{key}, batch.Keys())
}

func TestMutationBatch_ApplyToLocalView_Untouched(t *testing.T) {
	t.Parallel()

	other := MustDocumentKey("users/bob")
	doc := NewManufacturedNoDocument(other)

	batch := MutationBatch{
		Mutations: []Mutation{NewSetMutation(MustDocumentKey("users/alice"), map[string]any{"name": "alice"}, Precondition{})},
	}

	require.Equal(t, doc, batch.ApplyToLocalView(doc))
}

func TestMutationBatch_ApplyToLocalView_StampsPending(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("users/alice")
	doc := NewManufacturedNoDocument(key)

	batch := MutationBatch{
		LocalWriteTime: time.Unix(1700000000, 0),
		Mutations:      []Mutation{NewSetMutation(key, map[string]any{"name": "alice"}, Precondition{})},
	}

	result := batch.ApplyToLocalView(doc)
	require.True(t, result.IsDocument())
	require.True(t, result.HasPendingWrites)
	require.Equal(t, "alice", result.Fields["name"])
}

func TestSynthesizeBaseMutations_PinsPreImageForTransform(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("counters/hits")
	existing := NewDocument(key, SnapshotVersion{Seconds: 1}, map[string]any{"count": 5.0, "label": "x"}, false)

	mutations := []Mutation{
		NewTransformMutation(key, []FieldTransform{{Field: "count", Op: Increment{Delta: 1}}}, Precondition{}),
	}

	base := SynthesizeBaseMutations(mutations, map[DocumentKey]MaybeDocument{key: existing})

	require.Len(t, base, 1)
	require.Equal(t, MutationPatch, base[0].Kind)
	require.Equal(t, []string{"count"}, base[0].Mask)
	require.Equal(t, 5.0, base[0].Value["count"])
	require.Equal(t, PreconditionExists, base[0].Precondition.Kind)
}

func TestSynthesizeBaseMutations_SkipsNonTransformAndMissingDocs(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("counters/hits")
	missingKey := MustDocumentKey("counters/misses")

	mutations := []Mutation{
		NewSetMutation(key, map[string]any{"count": 1.0}, Precondition{}),
		NewTransformMutation(missingKey, []FieldTransform{{Field: "count", Op: Increment{Delta: 1}}}, Precondition{}),
	}

	base := SynthesizeBaseMutations(mutations, map[DocumentKey]MaybeDocument{})
	require.Empty(t, base)
}

func TestMutationBatch_ApplyToRemoteDocument_ReplaysBaseThenMutations(t *testing.T) {
	t.Parallel()

	key := MustDocumentKey("counters/hits")
	remote := NewDocument(key, SnapshotVersion{Seconds: 1}, map[string]any{"count": 5.0}, false)

	// Simulate a batch that already captured the base mutation at write time,
	// then replay it against a remote document that moved on in the meantime
	// (count is now 9 server-side, but the base mutation should still pin 5).
	movedOn := NewDocument(key, SnapshotVersion{Seconds: 2}, map[string]any{"count": 9.0}, false)

	batch := MutationBatch{
		BaseMutations: []Mutation{
			NewPatchMutation(key, []string{"count"}, map[string]any{"count": 5.0}, Precondition{Kind: PreconditionExists}),
		},
		Mutations: []Mutation{
			NewTransformMutation(key, []FieldTransform{{Field: "count", Op: Increment{Delta: 1}}}, Precondition{}),
		},
	}

	result := batch.ApplyToRemoteDocument(key, movedOn, SnapshotVersion{Seconds: 3})

	require.Equal(t, 6.0, result.Fields["count"])
	require.False(t, result.HasPendingWrites)
	require.Equal(t, remote.Key, result.Key)
}
