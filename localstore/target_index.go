package localstore

import "sync/atomic"

// targetIndex is the in-memory, copy-on-write map from targetId to
// TargetData that every transaction reads as its starting working set and
// that the coordinator atomically swaps in after a successful commit. It is
// the only mutable state the coordinator holds outside the durable engine
// (besides lastDocumentChangeReadTime); see package doc for the
// copy-on-write / atomic-swap discipline this follows.
type targetIndex struct {
	ptr atomic.Pointer[map[int32]TargetData]
}

func newTargetIndex() *targetIndex {
	idx := &targetIndex{}
	empty := map[int32]TargetData{}
	idx.ptr.Store(&empty)

	return idx
}

// snapshot returns a fresh copy safe for a transaction to mutate without
// affecting concurrently-running readers or a retried attempt's prior copy.
func (idx *targetIndex) snapshot() map[int32]TargetData {
	current := *idx.ptr.Load()
	working := make(map[int32]TargetData, len(current))

	for k, v := range current {
		working[k] = v
	}

	return working
}

// swap atomically installs working as the new root, called only after the
// transaction that produced it has committed successfully.
func (idx *targetIndex) swap(working map[int32]TargetData) {
	idx.ptr.Store(&working)
}

// get reads a single entry from the current root without taking a snapshot.
func (idx *targetIndex) get(targetID int32) (TargetData, bool) {
	current := *idx.ptr.Load()
	data, ok := current[targetID]

	return data, ok
}

// insertIfNewer installs data iff no current entry exists for its TargetID
// or the current entry's SnapshotVersion is older, handling the multi-tab
// race where another tab already allocated a newer view of the same target.
func (idx *targetIndex) insertIfNewer(data TargetData) {
	for {
		currentPtr := idx.ptr.Load()
		current := *currentPtr

		if existing, ok := current[data.TargetID]; ok && !existing.SnapshotVersion.Less(data.SnapshotVersion) {
			return
		}

		working := make(map[int32]TargetData, len(current)+1)
		for k, v := range current {
			working[k] = v
		}

		working[data.TargetID] = data

		if idx.ptr.CompareAndSwap(currentPtr, &working) {
			return
		}
	}
}

// update unconditionally replaces the entry for data.TargetID, used when the
// caller (not a concurrent tab) is the sole source of truth for the change,
// e.g. advancing lastLimboFreeSnapshotVersion after notifyLocalViewChanges.
func (idx *targetIndex) update(data TargetData) {
	for {
		currentPtr := idx.ptr.Load()
		current := *currentPtr

		working := make(map[int32]TargetData, len(current)+1)
		for k, v := range current {
			working[k] = v
		}

		working[data.TargetID] = data

		if idx.ptr.CompareAndSwap(currentPtr, &working) {
			return
		}
	}
}

// remove atomically deletes targetID from the current root.
func (idx *targetIndex) remove(targetID int32) {
	for {
		currentPtr := idx.ptr.Load()
		current := *currentPtr

		if _, ok := current[targetID]; !ok {
			return
		}

		working := make(map[int32]TargetData, len(current))
		for k, v := range current {
			if k != targetID {
				working[k] = v
			}
		}

		if idx.ptr.CompareAndSwap(currentPtr, &working) {
			return
		}
	}
}
