package localstore

import "time"

// targetDataPersistStaleness is the minimum age a target's previously
// persisted resume token must reach before a new resume token alone (with
// no document changes) justifies a rewrite.
const targetDataPersistStaleness = 5 * time.Minute

// shouldPersistTargetData decides whether a TargetChange warrants
// rewriting the owning TargetData to durable storage: an empty previous
// resume token, staleness of at least targetDataPersistStaleness since the
// target's last persisted snapshot, or any document change in the delta.
func shouldPersistTargetData(old TargetData, change TargetChange, now time.Time) bool {
	if len(old.ResumeToken) == 0 {
		return true
	}

	if len(change.DocumentChanges) > 0 {
		return true
	}

	age := now.Sub(old.SnapshotVersion.ToTime())

	return age >= targetDataPersistStaleness
}

// TargetCache is the collaborator holding the target registry: the mapping
// from server-side listen targets to local TargetData, plus the key sets
// each target currently matches.
type TargetCache interface {
	AddTargetData(tx Transaction, data TargetData) error
	UpdateTargetData(tx Transaction, data TargetData) error
	RemoveTargetData(tx Transaction, targetID int32) error

	GetTargetData(tx Transaction, target Query) (TargetData, bool, error)
	GetTargetDataByID(tx Transaction, targetID int32) (TargetData, bool, error)

	AddMatchingKeys(tx Transaction, keys []DocumentKey, targetID int32) error
	RemoveMatchingKeys(tx Transaction, keys []DocumentKey, targetID int32) error
	GetMatchingKeys(tx Transaction, targetID int32) ([]DocumentKey, error)

	// ContainsKey reports whether any target currently references key,
	// consulted by the garbage collector before evicting a cached document.
	ContainsKey(tx Transaction, key DocumentKey) (bool, error)

	HighestTargetID(tx Transaction) (int32, error)
	HighestSequenceNumber(tx Transaction) (int64, error)
	TargetCount(tx Transaction) (int, error)

	// GetLastRemoteSnapshotVersion returns the highest SnapshotVersion ever
	// passed to SetTargetsMetadata.
	GetLastRemoteSnapshotVersion(tx Transaction) (SnapshotVersion, error)

	// SetTargetsMetadata records the global watermark reached by
	// applyRemoteEventToLocalCache: the sequence number assigned to the
	// triggering transaction and the event's snapshot version.
	SetTargetsMetadata(tx Transaction, sequenceNumber int64, version SnapshotVersion) error
}
