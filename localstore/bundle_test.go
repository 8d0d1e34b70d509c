package localstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncdoc/localstore/localstore"
)

func TestBundleLoader_LoadsDocumentAndNamedQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	key := localstore.MustDocumentKey("users/alice")
	readTime := localstore.SnapshotVersion{Seconds: 100}

	loader := localstore.NewBundleLoader(store, 0, 1)

	_, err := loader.AddElement(localstore.BundleElement{
		Kind:     localstore.BundleElementMetadata,
		Metadata: localstore.BundleMetadata{BundleID: "bundle-1", Version: 1},
	}, 10)
	require.NoError(t, err)

	_, err = loader.AddElement(localstore.BundleElement{
		Kind: localstore.BundleElementNamedQuery,
		NamedQuery: localstore.NamedQuery{
			Name:     "active-users",
			Query:    localstore.Query{Path: "users"},
			ReadTime: readTime,
		},
	}, 10)
	require.NoError(t, err)

	progress, err := loader.AddElement(localstore.BundleElement{
		Kind:             localstore.BundleElementDocumentMetadata,
		DocumentMetadata: localstore.DocumentMetadata{Key: key, ReadTime: readTime, Exists: true},
	}, 10)
	require.NoError(t, err)
	require.Nil(t, progress)

	progress, err = loader.AddElement(localstore.BundleElement{
		Kind:     localstore.BundleElementDocument,
		Document: localstore.NewDocument(key, readTime, map[string]any{"name": "alice"}, false),
	}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, progress.DocumentsLoaded)

	result, err := loader.Complete(ctx)
	require.NoError(t, err)
	require.Equal(t, localstore.BundleTaskSuccess, result.Progress.TaskState)
	require.True(t, result.ChangedDocs[key].IsDocument())

	doc, err := store.ReadLocalDocument(ctx, key)
	require.NoError(t, err)
	require.True(t, doc.IsDocument())
	require.Equal(t, "alice", doc.Fields["name"])

	named, ok, err := store.GetNamedQuery(ctx, "active-users")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, readTime, named.ReadTime)
}

func TestBundleLoader_DocumentWithoutMetadata_Fails(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	loader := localstore.NewBundleLoader(store, 0, 1)

	key := localstore.MustDocumentKey("users/alice")

	_, err := loader.AddElement(localstore.BundleElement{
		Kind:     localstore.BundleElementDocument,
		Document: localstore.NewDocument(key, localstore.SnapshotVersion{Seconds: 1}, nil, false),
	}, 10)
	require.Error(t, err)
}

func TestBundleLoader_MissingDocumentDefaultsToNoDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()
	loader := localstore.NewBundleLoader(store, 0, 1)

	key := localstore.MustDocumentKey("users/deleted")

	progress, err := loader.AddElement(localstore.BundleElement{
		Kind:             localstore.BundleElementDocumentMetadata,
		DocumentMetadata: localstore.DocumentMetadata{Key: key, ReadTime: localstore.SnapshotVersion{Seconds: 1}, Exists: false},
	}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, progress.DocumentsLoaded)

	result, err := loader.Complete(ctx)
	require.NoError(t, err)
	require.False(t, result.ChangedDocs[key].IsDocument())
}
