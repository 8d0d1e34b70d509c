package localstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncdoc/localstore/localstore"
)

func TestLocalStore_ApplyRemoteEventToLocalCache_AddsDocumentAndTargetKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	query := localstore.Query{Path: "users"}
	target, err := store.AllocateTarget(ctx, query)
	require.NoError(t, err)

	key := localstore.MustDocumentKey("users/alice")
	version := localstore.SnapshotVersion{Seconds: 100}

	event := localstore.RemoteEvent{
		SnapshotVersion: version,
		TargetChanges: map[int32]localstore.TargetChange{
			target.TargetID: {
				DocumentChanges: []localstore.DocumentViewChange{
					{Kind: localstore.DocumentViewChangeAdded, Key: key},
				},
				ResumeToken: []byte("token-1"),
			},
		},
		DocumentUpdates: map[localstore.DocumentKey]localstore.MaybeDocument{
			key: localstore.NewDocument(key, version, map[string]any{"name": "alice"}, false),
		},
	}

	changes, err := store.ApplyRemoteEventToLocalCache(ctx, event)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.True(t, changes[0].IsDocument())

	doc, err := store.ReadLocalDocument(ctx, key)
	require.NoError(t, err)
	require.True(t, doc.IsDocument())
	require.Equal(t, "alice", doc.Fields["name"])

	remoteVersion, err := store.GetLastRemoteSnapshotVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, version, remoteVersion)
}

func TestLocalStore_ApplyRemoteEventToLocalCache_RejectsRegression(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	later := localstore.SnapshotVersion{Seconds: 100}
	earlier := localstore.SnapshotVersion{Seconds: 50}

	_, err := store.ApplyRemoteEventToLocalCache(ctx, localstore.RemoteEvent{SnapshotVersion: later})
	require.NoError(t, err)

	_, err = store.ApplyRemoteEventToLocalCache(ctx, localstore.RemoteEvent{SnapshotVersion: earlier})
	require.Error(t, err)
}
