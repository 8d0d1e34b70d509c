package enginemem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncdoc/localstore/localstore"
)

func TestEngine_RunTransaction_DiscardsStateOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New()

	err := e.RunTransaction(ctx, "add_target", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		cache := e.TargetCache(txn)

		return cache.AddTargetData(txn, localstore.TargetData{TargetID: 1, Target: localstore.Query{Path: "users"}})
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "add_then_fail", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		if err := e.TargetCache(txn).AddTargetData(txn, localstore.TargetData{TargetID: 2, Target: localstore.Query{Path: "rooms"}}); err != nil {
			return err
		}

		return errors.New("abort after write")
	})
	require.Error(t, err)

	count := -1

	err = e.RunTransaction(ctx, "count", localstore.TransactionReadOnly, func(ctx context.Context, txn localstore.Transaction) error {
		var err error
		count, err = e.TargetCache(txn).TargetCount(txn)

		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMutationQueue_AddAndRemoveBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New()

	key := localstore.MustDocumentKey("users/alice")
	mutation := localstore.NewSetMutation(key, map[string]any{"name": "alice"}, localstore.Precondition{})

	var batch localstore.MutationBatch

	err := e.RunTransaction(ctx, "add_batch", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		var err error
		batch, err = e.MutationQueue(txn).AddMutationBatch(txn, nil, nil, []localstore.Mutation{mutation})

		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), batch.BatchID)

	err = e.RunTransaction(ctx, "check_referenced", localstore.TransactionReadOnly, func(ctx context.Context, txn localstore.Transaction) error {
		referenced, err := e.ReferenceDelegate().IsReferenced(txn, key)
		require.NoError(t, err)
		require.True(t, referenced)

		return nil
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "remove_batch", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		q := e.MutationQueue(txn)

		looked, err := q.LookupMutationBatch(txn, batch.BatchID)
		require.NoError(t, err)

		if err := q.RemoveMutationBatch(txn, looked); err != nil {
			return err
		}

		return e.ReferenceDelegate().RemoveMutationReference(txn, looked.BatchID, key)
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "lookup_removed", localstore.TransactionReadOnly, func(ctx context.Context, txn localstore.Transaction) error {
		_, err := e.MutationQueue(txn).LookupMutationBatch(txn, batch.BatchID)
		require.ErrorIs(t, err, localstore.ErrBatchNotFound)

		referenced, err := e.ReferenceDelegate().IsReferenced(txn, key)
		require.NoError(t, err)
		require.False(t, referenced)

		return nil
	})
	require.NoError(t, err)
}

func TestReferenceDelegate_RemoveTarget_ClearsKeysAndRefs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New()

	key := localstore.MustDocumentKey("users/alice")

	err := e.RunTransaction(ctx, "setup", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		cache := e.TargetCache(txn)
		if err := cache.AddTargetData(txn, localstore.TargetData{TargetID: 5, Target: localstore.Query{Path: "users"}}); err != nil {
			return err
		}

		if err := cache.AddMatchingKeys(txn, []localstore.DocumentKey{key}, 5); err != nil {
			return err
		}

		return e.ReferenceDelegate().AddReference(txn, 5, key)
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "remove_target", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		return e.ReferenceDelegate().RemoveTarget(txn, 5)
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "verify", localstore.TransactionReadOnly, func(ctx context.Context, txn localstore.Transaction) error {
		_, ok, err := e.TargetCache(txn).GetTargetDataByID(txn, 5)
		require.NoError(t, err)
		require.False(t, ok)

		referenced, err := e.ReferenceDelegate().IsReferenced(txn, key)
		require.NoError(t, err)
		require.False(t, referenced)

		return nil
	})
	require.NoError(t, err)
}

func TestTargetCache_MatchingKeysRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New()

	alice := localstore.MustDocumentKey("users/alice")
	bob := localstore.MustDocumentKey("users/bob")

	err := e.RunTransaction(ctx, "populate", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		cache := e.TargetCache(txn)
		if err := cache.AddTargetData(txn, localstore.TargetData{TargetID: 1, Target: localstore.Query{Path: "users"}}); err != nil {
			return err
		}

		return cache.AddMatchingKeys(txn, []localstore.DocumentKey{alice, bob}, 1)
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "remove_one", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		return e.TargetCache(txn).RemoveMatchingKeys(txn, []localstore.DocumentKey{alice}, 1)
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "verify", localstore.TransactionReadOnly, func(ctx context.Context, txn localstore.Transaction) error {
		keys, err := e.TargetCache(txn).GetMatchingKeys(txn, 1)
		require.NoError(t, err)
		require.ElementsMatch(t, []localstore.DocumentKey{bob}, keys)

		contains, err := e.TargetCache(txn).ContainsKey(txn, bob)
		require.NoError(t, err)
		require.True(t, contains)

		contains, err = e.TargetCache(txn).ContainsKey(txn, alice)
		require.NoError(t, err)
		require.False(t, contains)

		return nil
	})
	require.NoError(t, err)
}

func TestBundleCache_SaveAndGetNamedQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New()

	query := localstore.NamedQuery{Name: "active-users", Query: localstore.Query{Path: "users"}, ReadTime: localstore.SnapshotVersion{Seconds: 1}}

	err := e.RunTransaction(ctx, "save", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		return e.BundleCache(txn).SaveNamedQuery(txn, query)
	})
	require.NoError(t, err)

	err = e.RunTransaction(ctx, "get", localstore.TransactionReadOnly, func(ctx context.Context, txn localstore.Transaction) error {
		got, ok, err := e.BundleCache(txn).GetNamedQuery(txn, "active-users")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, query.ReadTime, got.ReadTime)

		_, ok, err = e.BundleCache(txn).GetNamedQuery(txn, "missing")
		require.NoError(t, err)
		require.False(t, ok)

		return nil
	})
	require.NoError(t, err)
}

func TestMutationQueue_PerformConsistencyCheck_PassesOnCleanDrainAndCatchesLeakedReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New()

	key := localstore.MustDocumentKey("users/alice")
	mutation := localstore.NewSetMutation(key, map[string]any{"name": "alice"}, localstore.Precondition{})

	var batch localstore.MutationBatch

	err := e.RunTransaction(ctx, "add_batch", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		var err error
		batch, err = e.MutationQueue(txn).AddMutationBatch(txn, nil, nil, []localstore.Mutation{mutation})

		return err
	})
	require.NoError(t, err)

	// Removing the batch but leaving its reference behind (skipping the
	// RemoveMutationReference call AcknowledgeBatch/RejectBatch normally
	// make) must fail the consistency check.
	err = e.RunTransaction(ctx, "remove_without_clearing_reference", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		q := e.MutationQueue(txn)
		if err := q.RemoveMutationBatch(txn, batch); err != nil {
			return err
		}

		return q.PerformConsistencyCheck(txn)
	})
	require.Error(t, err)

	err = e.RunTransaction(ctx, "clear_reference_and_recheck", localstore.TransactionReadWrite, func(ctx context.Context, txn localstore.Transaction) error {
		if err := e.ReferenceDelegate().RemoveMutationReference(txn, batch.BatchID, key); err != nil {
			return err
		}

		return e.MutationQueue(txn).PerformConsistencyCheck(txn)
	})
	require.NoError(t, err)
}
