package localstore

import (
	"context"
	"fmt"
)

// RemoteEvent is one batch of server-delivered changes: a global snapshot
// version, the per-target deltas observed at that version, the documents
// whose state the server reports, and the set of keys whose limbo status
// this event resolves.
type RemoteEvent struct {
	SnapshotVersion        SnapshotVersion
	TargetChanges          map[int32]TargetChange
	DocumentUpdates        map[DocumentKey]MaybeDocument
	ResolvedLimboDocuments map[DocumentKey]struct{}
}

// ApplyRemoteEventToLocalCache implements §4.2: reconcile target deltas and
// document updates against persisted state, starting from a copy-on-write
// snapshot of the in-memory target index so the whole operation is safely
// re-derivable if the enclosing transaction retries. The snapshot is
// installed as the new root only after the transaction commits.
func (s *LocalStore) ApplyRemoteEventToLocalCache(ctx context.Context, event RemoteEvent) ([]MaybeDocument, error) {
	var (
		working map[int32]TargetData
		changes []MaybeDocument
	)

	err := s.persistence.RunTransaction(ctx, "apply_remote_event", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		working = s.targets.snapshot()

		targetCache := s.persistence.TargetCache(tx)
		remoteCache := s.persistence.RemoteDocumentCache(tx)
		buffer := remoteCache.NewChangeBuffer(ChangeBufferOptions{TrackRemovals: true})

		for targetID, change := range event.TargetChanges {
			data, ok := working[targetID]
			if !ok {
				continue
			}

			if err := s.applyTargetChange(tx, targetCache, working, data, targetID, change, event.SnapshotVersion); err != nil {
				return err
			}
		}

		for key := range event.ResolvedLimboDocuments {
			if _, ok := event.DocumentUpdates[key]; !ok {
				continue
			}

			if err := s.referenceDelegate.UpdateLimboDocument(tx, key); err != nil {
				return err
			}
		}

		if err := populateChangeBuffer(tx, buffer, event.DocumentUpdates, event.SnapshotVersion, nil); err != nil {
			return err
		}

		if !event.SnapshotVersion.IsMin() {
			lastVersion, err := targetCache.GetLastRemoteSnapshotVersion(tx)
			if err != nil {
				return fatalf("remote_event.apply", err)
			}

			if event.SnapshotVersion.Less(lastVersion) {
				return fatalf("remote_event.apply", fmt.Errorf(
					"snapshot version went backwards: got %s, last was %s", event.SnapshotVersion, lastVersion))
			}

			seq, err := s.nextSequenceNumber(tx)
			if err != nil {
				return err
			}

			if err := targetCache.SetTargetsMetadata(tx, seq, event.SnapshotVersion); err != nil {
				return fatalf("remote_event.apply", err)
			}
		}

		if err := buffer.Apply(tx); err != nil {
			return err
		}

		changedKeys := make([]DocumentKey, 0, len(event.DocumentUpdates))
		for key := range event.DocumentUpdates {
			changedKeys = append(changedKeys, key)
		}

		result, err := s.localDocuments(tx).GetDocuments(tx, changedKeys)
		if err != nil {
			return err
		}

		changes = make([]MaybeDocument, 0, len(result))
		for _, doc := range result {
			changes = append(changes, doc)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.targets.swap(working)

	return changes, nil
}

func (s *LocalStore) applyTargetChange(tx Transaction, targetCache TargetCache, working map[int32]TargetData, data TargetData, targetID int32, change TargetChange, globalSnapshotVersion SnapshotVersion) error {
	removed := make([]DocumentKey, 0)
	added := make([]DocumentKey, 0)

	for _, dvc := range change.DocumentChanges {
		switch dvc.Kind {
		case DocumentViewChangeRemoved:
			removed = append(removed, dvc.Key)
		case DocumentViewChangeAdded:
			added = append(added, dvc.Key)
		}
	}

	if len(removed) > 0 {
		if err := targetCache.RemoveMatchingKeys(tx, removed, targetID); err != nil {
			return fatalf("remote_event.apply_target_change", err)
		}
	}

	if len(added) > 0 {
		if err := targetCache.AddMatchingKeys(tx, added, targetID); err != nil {
			return fatalf("remote_event.apply_target_change", err)
		}
	}

	if len(change.ResumeToken) == 0 {
		return nil
	}

	seq, err := s.nextSequenceNumber(tx)
	if err != nil {
		return err
	}

	updated := data.withResumeInfo(globalSnapshotVersion, change.ResumeToken, seq)
	working[targetID] = updated

	if shouldPersistTargetData(data, change, updated.SnapshotVersion.ToTime()) {
		if err := targetCache.UpdateTargetData(tx, updated); err != nil {
			return fatalf("remote_event.apply_target_change", err)
		}
	}

	return nil
}

// populateChangeBuffer implements §4.3: stage each incoming document update
// into buffer, applying the manufactured-tombstone removal rule and the
// "equal-version with pending writes" replacement rule. documentVersions,
// if non-nil, supplies a per-key read time in preference to globalVersion
// (used by bundle application); a resulting min() read time is a fatal
// invariant violation.
func populateChangeBuffer(tx Transaction, buffer *RemoteDocumentChangeBuffer, docs map[DocumentKey]MaybeDocument, globalVersion SnapshotVersion, documentVersions map[DocumentKey]SnapshotVersion) error {
	for key, incoming := range docs {
		if incoming.IsManufacturedNoDocument() {
			buffer.AddEntry(incoming, SnapshotVersionMin)
			continue
		}

		existing, hasExisting, err := buffer.GetEntry(tx, key)
		if err != nil {
			return fatalf("remote_event.populate_change_buffer", err)
		}

		readTime := globalVersion
		if documentVersions != nil {
			if v, ok := documentVersions[key]; ok {
				readTime = v
			}
		}

		if readTime.IsMin() {
			return fatalf("remote_event.populate_change_buffer", fmt.Errorf("read time for %s resolved to min()", key))
		}

		shouldWrite := !hasExisting ||
			existing.Version.Less(incoming.Version) ||
			(existing.Version == incoming.Version && existing.HasPendingWrites)

		if !shouldWrite {
			continue
		}

		buffer.AddEntry(incoming, readTime)
	}

	return nil
}
