package localstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldPersistTargetData(t *testing.T) {
	t.Parallel()

	baseTime := time.Unix(1700000000, 0).UTC()
	oldVersion := SnapshotVersionFromTime(baseTime)

	t.Run("empty resume token always persists", func(t *testing.T) {
		t.Parallel()

		old := TargetData{SnapshotVersion: oldVersion}
		require.True(t, shouldPersistTargetData(old, TargetChange{}, baseTime))
	})

	t.Run("document changes always persist", func(t *testing.T) {
		t.Parallel()

		old := TargetData{ResumeToken: []byte("tok"), SnapshotVersion: oldVersion}
		change := TargetChange{DocumentChanges: []DocumentViewChange{{Key: MustDocumentKey("users/alice")}}}

		require.True(t, shouldPersistTargetData(old, change, baseTime))
	})

	t.Run("fresh resume-token-only change does not persist", func(t *testing.T) {
		t.Parallel()

		old := TargetData{ResumeToken: []byte("tok"), SnapshotVersion: oldVersion}
		now := baseTime.Add(1 * time.Minute)

		require.False(t, shouldPersistTargetData(old, TargetChange{}, now))
	})

	t.Run("stale resume-token-only change persists", func(t *testing.T) {
		t.Parallel()

		old := TargetData{ResumeToken: []byte("tok"), SnapshotVersion: oldVersion}
		now := baseTime.Add(targetDataPersistStaleness)

		require.True(t, shouldPersistTargetData(old, TargetChange{}, now))
	})
}
