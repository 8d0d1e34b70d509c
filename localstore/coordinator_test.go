package localstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncdoc/localstore/internal/engine/enginemem"
	"github.com/syncdoc/localstore/localstore"
)

func newTestStore() *localstore.LocalStore {
	return localstore.NewLocalStore(enginemem.New(), localstore.SimpleQueryEngine{}, "test-client")
}

func TestLocalStore_LocalWrite_ReadYourWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	key := localstore.MustDocumentKey("users/alice")
	mutation := localstore.NewSetMutation(key, map[string]any{"name": "alice"}, localstore.Precondition{})

	result, err := store.LocalWrite(ctx, []localstore.Mutation{mutation})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.BatchID)

	doc, err := store.ReadLocalDocument(ctx, key)
	require.NoError(t, err)
	require.True(t, doc.IsDocument())
	require.True(t, doc.HasPendingWrites)
	require.Equal(t, "alice", doc.Fields["name"])
}

func TestLocalStore_RejectBatch_RevertsLocalView(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	key := localstore.MustDocumentKey("users/alice")
	mutation := localstore.NewSetMutation(key, map[string]any{"name": "alice"}, localstore.Precondition{})

	result, err := store.LocalWrite(ctx, []localstore.Mutation{mutation})
	require.NoError(t, err)

	changes, err := store.RejectBatch(ctx, result.BatchID)
	require.NoError(t, err)
	require.False(t, changes[key].IsDocument())

	doc, err := store.ReadLocalDocument(ctx, key)
	require.NoError(t, err)
	require.False(t, doc.IsDocument())
}

func TestLocalStore_AcknowledgeBatch_PromotesToRemoteCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	key := localstore.MustDocumentKey("users/alice")
	mutation := localstore.NewSetMutation(key, map[string]any{"name": "alice"}, localstore.Precondition{})

	result, err := store.LocalWrite(ctx, []localstore.Mutation{mutation})
	require.NoError(t, err)

	batch, ok, err := store.NextMutationBatch(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, result.BatchID, batch.BatchID)

	commitVersion := localstore.SnapshotVersion{Seconds: 100}

	changes, err := store.AcknowledgeBatch(ctx, localstore.MutationBatchResult{
		Batch:         batch,
		CommitVersion: commitVersion,
		DocVersions:   map[localstore.DocumentKey]localstore.SnapshotVersion{key: commitVersion},
	})
	require.NoError(t, err)

	doc := changes[key]
	require.True(t, doc.IsDocument())
	require.False(t, doc.HasPendingWrites)
	require.Equal(t, commitVersion, doc.Version)

	_, ok, err = store.NextMutationBatch(ctx, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalStore_AllocateTarget_IsIdempotentPerQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	query := localstore.Query{Path: "users"}

	first, err := store.AllocateTarget(ctx, query)
	require.NoError(t, err)

	second, err := store.AllocateTarget(ctx, query)
	require.NoError(t, err)

	require.Equal(t, first.TargetID, second.TargetID)
}

func TestLocalStore_ExecuteQuery_SeesLocalAndQueuedDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	alice := localstore.MustDocumentKey("users/alice")
	bob := localstore.MustDocumentKey("users/bob")

	_, err := store.LocalWrite(ctx, []localstore.Mutation{
		localstore.NewSetMutation(alice, map[string]any{"age": 30.0}, localstore.Precondition{}),
		localstore.NewSetMutation(bob, map[string]any{"age": 25.0}, localstore.Precondition{}),
	})
	require.NoError(t, err)

	result, err := store.ExecuteQuery(ctx, localstore.Query{Path: "users"}, false)
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)
}

func TestLocalStore_CollectGarbage_EvictsUnreferencedDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	key := localstore.MustDocumentKey("users/alice")

	_, err := store.LocalWrite(ctx, []localstore.Mutation{
		localstore.NewSetMutation(key, map[string]any{"name": "alice"}, localstore.Precondition{}),
	})
	require.NoError(t, err)

	batch, ok, err := store.NextMutationBatch(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.AcknowledgeBatch(ctx, localstore.MutationBatchResult{
		Batch:         batch,
		CommitVersion: localstore.SnapshotVersion{Seconds: 1},
		DocVersions:   map[localstore.DocumentKey]localstore.SnapshotVersion{key: {Seconds: 1}},
	})
	require.NoError(t, err)

	evictAll := evictAllGC{}

	evicted, err := store.CollectGarbage(ctx, evictAll, []localstore.DocumentKey{key})
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	doc, err := store.ReadLocalDocument(ctx, key)
	require.NoError(t, err)
	require.False(t, doc.IsDocument())
}

type evictAllGC struct{}

func (evictAllGC) SelectDocumentsToEvict(_ context.Context, candidates []localstore.DocumentKey, _ int64) []localstore.DocumentKey {
	return candidates
}

func TestLocalStore_ExecuteQuery_UsePreviousResults_MergesSinceScanWithPreviousKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	query := localstore.Query{Path: "users"}
	target, err := store.AllocateTarget(ctx, query)
	require.NoError(t, err)

	alice := localstore.MustDocumentKey("users/alice")
	bob := localstore.MustDocumentKey("users/bob")
	v1 := localstore.SnapshotVersion{Seconds: 100}

	_, err = store.ApplyRemoteEventToLocalCache(ctx, localstore.RemoteEvent{
		SnapshotVersion: v1,
		TargetChanges: map[int32]localstore.TargetChange{
			target.TargetID: {
				DocumentChanges: []localstore.DocumentViewChange{
					{Kind: localstore.DocumentViewChangeAdded, Key: alice},
					{Kind: localstore.DocumentViewChangeAdded, Key: bob},
				},
				ResumeToken: []byte("token-1"),
			},
		},
		DocumentUpdates: map[localstore.DocumentKey]localstore.MaybeDocument{
			alice: localstore.NewDocument(alice, v1, map[string]any{"name": "alice"}, false),
			bob:   localstore.NewDocument(bob, v1, map[string]any{"name": "bob"}, false),
		},
	})
	require.NoError(t, err)

	// Advances the in-memory target's LastLimboFreeSnapshotVersion to v1;
	// ExecuteQuery's since-scan below must pick this up from the in-memory
	// index, not the persisted target cache row (which AllocateTarget left
	// at the zero version).
	err = store.NotifyLocalViewChanges(ctx, []localstore.LocalViewChange{
		{TargetID: target.TargetID, Source: localstore.ViewChangeFromRemote, AddedKeys: []localstore.DocumentKey{alice, bob}},
	})
	require.NoError(t, err)

	v2 := localstore.SnapshotVersion{Seconds: 200}

	_, err = store.ApplyRemoteEventToLocalCache(ctx, localstore.RemoteEvent{
		SnapshotVersion: v2,
		DocumentUpdates: map[localstore.DocumentKey]localstore.MaybeDocument{
			alice: localstore.NewDocument(alice, v2, map[string]any{"name": "alice", "age": 31.0}, false),
		},
	})
	require.NoError(t, err)

	// bob never changed after v1, so a since-v1 collection scan alone would
	// miss him; ExecuteQuery must still return him via the direct by-key
	// fetch of the previously matched remoteKeys.
	result, err := store.ExecuteQuery(ctx, query, true)
	require.NoError(t, err)
	require.ElementsMatch(t, []localstore.DocumentKey{alice, bob}, result.RemoteKeys)
	require.Len(t, result.Documents, 2)

	byKey := make(map[localstore.DocumentKey]localstore.MaybeDocument, len(result.Documents))
	for _, doc := range result.Documents {
		byKey[doc.Key] = doc
	}

	require.Equal(t, 31.0, byKey[alice].Fields["age"])
	require.Equal(t, "bob", byKey[bob].Fields["name"])
}

// fakePersistence wraps a real Persistence but swaps in a reference
// delegate that fails, to exercise NotifyLocalViewChanges's error-kind
// preservation without needing a real disk failure.
type fakePersistence struct {
	localstore.Persistence
	refDelegate localstore.ReferenceDelegate
}

func (f *fakePersistence) ReferenceDelegate() localstore.ReferenceDelegate { return f.refDelegate }

type failingReferenceDelegate struct {
	localstore.ReferenceDelegate
}

func (failingReferenceDelegate) AddReference(_ localstore.Transaction, _ int32, _ localstore.DocumentKey) error {
	return &localstore.Error{Kind: localstore.ErrKindFatal, Op: "reference_delegate.add_reference", Err: errors.New("disk corrupt")}
}

func TestLocalStore_NotifyLocalViewChanges_PropagatesFatalError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := enginemem.New()
	fake := &fakePersistence{Persistence: base, refDelegate: failingReferenceDelegate{ReferenceDelegate: base.ReferenceDelegate()}}
	store := localstore.NewLocalStore(fake, localstore.SimpleQueryEngine{}, "test-client")

	// AddReference fails with an already-classified Fatal error; it must
	// propagate as Fatal rather than being downgraded to transient
	// bookkeeping and swallowed.
	err := store.NotifyLocalViewChanges(ctx, []localstore.LocalViewChange{
		{TargetID: 1, Source: localstore.ViewChangeFromRemote, AddedKeys: []localstore.DocumentKey{localstore.MustDocumentKey("users/alice")}},
	})
	require.Error(t, err)
	require.False(t, localstore.IsTransientBookkeeping(err))
}

func TestLocalStore_AcknowledgeBatch_ConsistencyCheckPassesOnCleanDrain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	key := localstore.MustDocumentKey("users/alice")

	result, err := store.LocalWrite(ctx, []localstore.Mutation{
		localstore.NewSetMutation(key, map[string]any{"name": "alice"}, localstore.Precondition{}),
	})
	require.NoError(t, err)

	batch, ok, err := store.NextMutationBatch(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, result.BatchID, batch.BatchID)

	commitVersion := localstore.SnapshotVersion{Seconds: 1}

	// PerformConsistencyCheck runs inside AcknowledgeBatch right after the
	// batch is removed; a clean drain (no batch references left behind)
	// must not fail the operation.
	_, err = store.AcknowledgeBatch(ctx, localstore.MutationBatchResult{
		Batch:         batch,
		CommitVersion: commitVersion,
		DocVersions:   map[localstore.DocumentKey]localstore.SnapshotVersion{key: commitVersion},
	})
	require.NoError(t, err)
}
