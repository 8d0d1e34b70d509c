package localstore

import (
	"context"

	"github.com/syncdoc/localstore/internal/logx"
)

// LocalStore is the coordinator: it owns the in-memory target index,
// exposes every operation in §4.1 as a method, and runs each inside
// exactly one persistence transaction of the stated mode.
type LocalStore struct {
	persistence       Persistence
	queryEngine       QueryEngine
	referenceDelegate ReferenceDelegate
	targets           *targetIndex
	changeTracker     *documentChangeTracker
	log               *logx.Logger
}

// NewLocalStore constructs a coordinator over the given collaborators.
// queryEngine defaults to [SimpleQueryEngine] when nil. clientID identifies
// this process to the multi-tab presence surface (see multi_tab.go).
func NewLocalStore(persistence Persistence, queryEngine QueryEngine, clientID string) *LocalStore {
	if queryEngine == nil {
		queryEngine = SimpleQueryEngine{}
	}

	return &LocalStore{
		persistence:       persistence,
		queryEngine:       queryEngine,
		referenceDelegate: persistence.ReferenceDelegate(),
		targets:           newTargetIndex(),
		changeTracker:     newDocumentChangeTracker(clientID),
		log:               logx.New("localstore"),
	}
}

func (s *LocalStore) localDocuments(tx Transaction) *LocalDocumentsView {
	return NewLocalDocumentsView(s.persistence.RemoteDocumentCache(tx), s.persistence.MutationQueue(tx))
}

func (s *LocalStore) nextSequenceNumber(tx Transaction) (int64, error) {
	highest, err := s.persistence.TargetCache(tx).HighestSequenceNumber(tx)
	if err != nil {
		return 0, fatalf("localstore.next_sequence_number", err)
	}

	return highest + 1, nil
}

// LocalWriteResult is the return value of [LocalStore.LocalWrite].
type LocalWriteResult struct {
	BatchID int64
	Changes map[DocumentKey]MaybeDocument
}

// LocalWrite implements §4.1 localWrite: applies mutations optimistically,
// synthesizing base mutations for any non-idempotent transform whose target
// document currently exists.
func (s *LocalStore) LocalWrite(ctx context.Context, mutations []Mutation) (LocalWriteResult, error) {
	var result LocalWriteResult

	err := s.persistence.RunTransaction(ctx, "local_write", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		keys := make([]DocumentKey, 0, len(mutations))
		seen := make(map[DocumentKey]bool, len(mutations))

		for _, m := range mutations {
			if !seen[m.Key] {
				seen[m.Key] = true
				keys = append(keys, m.Key)
			}
		}

		existing, err := s.localDocuments(tx).GetDocuments(tx, keys)
		if err != nil {
			return err
		}

		baseMutations := SynthesizeBaseMutations(mutations, existing)

		batch, err := s.persistence.MutationQueue(tx).AddMutationBatch(tx, nil, baseMutations, mutations)
		if err != nil {
			return fatalf("localstore.local_write", err)
		}

		changes := make(map[DocumentKey]MaybeDocument, len(keys))
		for _, key := range keys {
			changes[key] = batch.ApplyToLocalView(existing[key])
		}

		result = LocalWriteResult{BatchID: batch.BatchID, Changes: changes}

		return nil
	})

	return result, err
}

// AcknowledgeBatch implements §4.1 acknowledgeBatch.
func (s *LocalStore) AcknowledgeBatch(ctx context.Context, res MutationBatchResult) (map[DocumentKey]MaybeDocument, error) {
	var changes map[DocumentKey]MaybeDocument

	err := s.persistence.RunTransaction(ctx, "acknowledge_batch", TransactionReadWritePrimary, func(ctx context.Context, tx Transaction) error {
		remoteCache := s.persistence.RemoteDocumentCache(tx)
		queue := s.persistence.MutationQueue(tx)
		buffer := remoteCache.NewChangeBuffer(ChangeBufferOptions{TrackRemovals: true})

		keys := res.Batch.Keys()

		for _, key := range keys {
			if err := s.referenceDelegate.RemoveMutationReference(tx, res.Batch.BatchID, key); err != nil {
				return fatalf("localstore.acknowledge_batch", err)
			}

			current, ok, err := remoteCache.Get(tx, key)
			if err != nil {
				return fatalf("localstore.acknowledge_batch", err)
			}

			docVersion, hasDocVersion := res.DocVersions[key]

			if ok && hasDocVersion && !current.Version.Less(docVersion) {
				continue
			}

			updated := res.Batch.ApplyToRemoteDocument(key, current, res.CommitVersion)
			buffer.AddEntry(updated, res.CommitVersion)
		}

		if err := buffer.Apply(tx); err != nil {
			return err
		}

		if err := queue.RemoveMutationBatch(tx, res.Batch); err != nil {
			return fatalf("localstore.acknowledge_batch", err)
		}

		if err := queue.PerformConsistencyCheck(tx); err != nil {
			return fatalf("localstore.acknowledge_batch", err)
		}

		result, err := s.localDocuments(tx).GetDocuments(tx, keys)
		if err != nil {
			return err
		}

		changes = result

		return nil
	})

	return changes, err
}

// RejectBatch implements §4.1 rejectBatch.
func (s *LocalStore) RejectBatch(ctx context.Context, batchID int64) (map[DocumentKey]MaybeDocument, error) {
	var changes map[DocumentKey]MaybeDocument

	err := s.persistence.RunTransaction(ctx, "reject_batch", TransactionReadWritePrimary, func(ctx context.Context, tx Transaction) error {
		queue := s.persistence.MutationQueue(tx)

		batch, err := queue.LookupMutationBatch(tx, batchID)
		if err != nil {
			return notFoundf("localstore.reject_batch", ErrBatchNotFound)
		}

		keys := batch.Keys()

		if err := queue.RemoveMutationBatch(tx, batch); err != nil {
			return fatalf("localstore.reject_batch", err)
		}

		for _, key := range keys {
			if err := s.referenceDelegate.RemoveMutationReference(tx, batchID, key); err != nil {
				return fatalf("localstore.reject_batch", err)
			}
		}

		if err := queue.PerformConsistencyCheck(tx); err != nil {
			return fatalf("localstore.reject_batch", err)
		}

		result, err := s.localDocuments(tx).GetDocuments(tx, keys)
		if err != nil {
			return err
		}

		changes = result

		return nil
	})

	return changes, err
}

// AllocateTarget implements §4.1 allocateTarget.
func (s *LocalStore) AllocateTarget(ctx context.Context, query Query) (TargetData, error) {
	var data TargetData

	err := s.persistence.RunTransaction(ctx, "allocate_target", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		targetCache := s.persistence.TargetCache(tx)

		existing, ok, err := targetCache.GetTargetData(tx, query)
		if err != nil {
			return fatalf("localstore.allocate_target", err)
		}

		if ok {
			data = existing
			return nil
		}

		highest, err := targetCache.HighestTargetID(tx)
		if err != nil {
			return fatalf("localstore.allocate_target", err)
		}

		seq, err := s.nextSequenceNumber(tx)
		if err != nil {
			return err
		}

		data = TargetData{
			Target:         query,
			TargetID:       highest + 1,
			Purpose:        TargetPurposeListen,
			SequenceNumber: seq,
		}

		if err := targetCache.AddTargetData(tx, data); err != nil {
			return fatalf("localstore.allocate_target", err)
		}

		return nil
	})
	if err != nil {
		return TargetData{}, err
	}

	s.targets.insertIfNewer(data)

	return data, nil
}

// ReleaseTarget implements §4.1 releaseTarget. Transient transaction errors
// are logged and swallowed: the periodic target metadata flush makes them
// recoverable, matching the transient-error-swallowing policy documented in
// §5 and §9.
func (s *LocalStore) ReleaseTarget(ctx context.Context, targetID int32, keepPersistedTargetData bool) {
	if !keepPersistedTargetData {
		mode := TransactionReadWritePrimary

		err := s.persistence.RunTransaction(ctx, "release_target", mode, func(ctx context.Context, tx Transaction) error {
			return s.referenceDelegate.RemoveTarget(tx, targetID)
		})
		if err != nil {
			if IsTransientBookkeeping(err) || IsRetryable(err) {
				s.log.Warningf("release_target", err, logx.F("target_id", targetID))
			} else {
				s.log.Errorf("release_target", err, logx.F("target_id", targetID))
			}
		}
	}

	s.targets.remove(targetID)
}

// ExecuteQueryResult is the return value of [LocalStore.ExecuteQuery].
type ExecuteQueryResult struct {
	Documents  []MaybeDocument
	RemoteKeys []DocumentKey
}

// ExecuteQuery implements §4.1 executeQuery: look up local TargetData for
// the query's target in-memory then cache, preferring the in-memory entry
// when present since notifyLocalViewChanges only advances
// lastLimboFreeSnapshotVersion there.
func (s *LocalStore) ExecuteQuery(ctx context.Context, query Query, usePreviousResults bool) (ExecuteQueryResult, error) {
	var result ExecuteQueryResult

	err := s.persistence.RunTransaction(ctx, "execute_query", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		targetCache := s.persistence.TargetCache(tx)

		target, found, err := targetCache.GetTargetData(tx, query)
		if err != nil {
			return fatalf("localstore.execute_query", err)
		}

		if found {
			if inMemory, ok := s.targets.get(target.TargetID); ok {
				target = inMemory
			}
		}

		var (
			remoteKeys   []DocumentKey
			sinceVersion = SnapshotVersionMin
		)

		if usePreviousResults && found {
			sinceVersion = target.LastLimboFreeSnapshotVersion

			remoteKeys, err = targetCache.GetMatchingKeys(tx, target.TargetID)
			if err != nil {
				return fatalf("localstore.execute_query", err)
			}
		}

		docs, err := s.localDocuments(tx).GetDocumentsMatchingQuery(tx, query, sinceVersion, remoteKeys, s.queryEngine)
		if err != nil {
			return err
		}

		result = ExecuteQueryResult{Documents: docs, RemoteKeys: remoteKeys}

		return nil
	})

	return result, err
}

// ViewChangeSource distinguishes a document view change produced from a
// live remote event versus one replayed from cache during listen restart.
type ViewChangeSource uint8

const (
	ViewChangeFromRemote ViewChangeSource = iota
	ViewChangeFromCache
)

// LocalViewChange is one target's observed delta, passed to
// [LocalStore.NotifyLocalViewChanges].
type LocalViewChange struct {
	TargetID    int32
	Source      ViewChangeSource
	AddedKeys   []DocumentKey
	RemovedKeys []DocumentKey
}

// NotifyLocalViewChanges implements §4.1 notifyLocalViewChanges. A missed
// sequence-number bump is swallowed (logged): it only accelerates eventual
// GC of still-live documents by a negligible amount. A genuinely Fatal
// error from the underlying persistence engine is not a missed bump, so it
// keeps its classification and is returned to the caller.
func (s *LocalStore) NotifyLocalViewChanges(ctx context.Context, viewChanges []LocalViewChange) error {
	err := s.persistence.RunTransaction(ctx, "notify_local_view_changes", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		for _, vc := range viewChanges {
			for _, key := range vc.AddedKeys {
				if err := s.referenceDelegate.AddReference(tx, vc.TargetID, key); err != nil {
					return wrapPreservingKind("localstore.notify_local_view_changes", err, ErrKindTransientBookkeeping)
				}
			}

			for _, key := range vc.RemovedKeys {
				if err := s.referenceDelegate.RemoveReference(tx, vc.TargetID, key); err != nil {
					return wrapPreservingKind("localstore.notify_local_view_changes", err, ErrKindTransientBookkeeping)
				}
			}
		}

		return nil
	})
	if err != nil {
		if !IsTransientBookkeeping(err) {
			return err
		}

		s.log.Warningf("notify_local_view_changes", err)

		return nil
	}

	for _, vc := range viewChanges {
		if vc.Source == ViewChangeFromCache {
			continue
		}

		if data, ok := s.targets.get(vc.TargetID); ok {
			data.LastLimboFreeSnapshotVersion = data.SnapshotVersion
			s.targets.update(data)
		}
	}

	return nil
}

// ReadLocalDocument implements §4.1 readLocalDocument.
func (s *LocalStore) ReadLocalDocument(ctx context.Context, key DocumentKey) (MaybeDocument, error) {
	var doc MaybeDocument

	err := s.persistence.RunTransaction(ctx, "read_local_document", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		var err error
		doc, err = s.localDocuments(tx).GetDocument(tx, key)

		return err
	})

	return doc, err
}

// GetHighestUnacknowledgedBatchID implements §4.1
// getHighestUnacknowledgedBatchId.
func (s *LocalStore) GetHighestUnacknowledgedBatchID(ctx context.Context) (int64, error) {
	var id int64

	err := s.persistence.RunTransaction(ctx, "get_highest_unacknowledged_batch_id", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		var err error
		id, err = s.persistence.MutationQueue(tx).HighestUnacknowledgedBatchID(tx)

		return err
	})

	return id, err
}

// GetLastRemoteSnapshotVersion implements §4.1 getLastRemoteSnapshotVersion.
func (s *LocalStore) GetLastRemoteSnapshotVersion(ctx context.Context) (SnapshotVersion, error) {
	var version SnapshotVersion

	err := s.persistence.RunTransaction(ctx, "get_last_remote_snapshot_version", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		var err error
		version, err = s.persistence.TargetCache(tx).GetLastRemoteSnapshotVersion(tx)

		return err
	})

	return version, err
}

// NextMutationBatch implements §4.1 nextMutationBatch(afterId?).
func (s *LocalStore) NextMutationBatch(ctx context.Context, afterBatchID int64) (batch MutationBatch, ok bool, err error) {
	err = s.persistence.RunTransaction(ctx, "next_mutation_batch", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		var innerErr error
		batch, ok, innerErr = s.persistence.MutationQueue(tx).NextMutationBatchAfterBatchID(tx, afterBatchID)

		return innerErr
	})

	return batch, ok, err
}

// GetLocalTargetData implements §4.1 getLocalTargetData.
func (s *LocalStore) GetLocalTargetData(ctx context.Context, targetID int32) (TargetData, bool, error) {
	if data, ok := s.targets.get(targetID); ok {
		return data, true, nil
	}

	var (
		data TargetData
		ok   bool
	)

	err := s.persistence.RunTransaction(ctx, "get_local_target_data", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		var err error
		data, ok, err = s.persistence.TargetCache(tx).GetTargetDataByID(tx, targetID)

		return err
	})

	return data, ok, err
}

// LookupMutationDocuments implements §4.1 lookupMutationDocuments. It
// assumes a shared durable engine across processes; single-process
// implementations return the local view for the batch's own keys.
func (s *LocalStore) LookupMutationDocuments(ctx context.Context, batchID int64) (map[DocumentKey]MaybeDocument, error) {
	var docs map[DocumentKey]MaybeDocument

	err := s.persistence.RunTransaction(ctx, "lookup_mutation_documents", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		batch, err := s.persistence.MutationQueue(tx).LookupMutationBatch(tx, batchID)
		if err != nil {
			return notFoundf("localstore.lookup_mutation_documents", ErrBatchNotFound)
		}

		docs, err = s.localDocuments(tx).GetDocuments(tx, batch.Keys())

		return err
	})

	return docs, err
}
