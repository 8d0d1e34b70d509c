package localstore

import "context"

// UserChangeResult is the return value of [LocalStore.HandleUserChange].
type UserChangeResult struct {
	AffectedDocuments map[DocumentKey]MaybeDocument
	RemovedBatchIDs   []int64
	AddedBatchIDs     []int64
}

// HandleUserChange implements §4.6: reconcile the mutation queue when the
// authenticated principal changes. oldQueue is whatever queue backed the
// previous principal; newQueue backs the incoming one. Both are read within
// one readonly transaction before the coordinator switches its active
// queue.
func (s *LocalStore) HandleUserChange(ctx context.Context, oldQueue, newQueue MutationQueue) (UserChangeResult, error) {
	var result UserChangeResult

	err := s.persistence.RunTransaction(ctx, "handle_user_change", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		oldBatches, err := oldQueue.AllMutationBatches(tx)
		if err != nil {
			return fatalf("localstore.handle_user_change", err)
		}

		newBatches, err := newQueue.AllMutationBatches(tx)
		if err != nil {
			return fatalf("localstore.handle_user_change", err)
		}

		removed := make([]int64, 0, len(oldBatches))
		added := make([]int64, 0, len(newBatches))

		keySet := make(map[DocumentKey]bool)

		for _, b := range oldBatches {
			removed = append(removed, b.BatchID)

			for _, k := range b.Keys() {
				keySet[k] = true
			}
		}

		for _, b := range newBatches {
			added = append(added, b.BatchID)

			for _, k := range b.Keys() {
				keySet[k] = true
			}
		}

		keys := make([]DocumentKey, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}

		affected, err := NewLocalDocumentsView(s.persistence.RemoteDocumentCache(tx), newQueue).GetDocuments(tx, keys)
		if err != nil {
			return err
		}

		result = UserChangeResult{
			AffectedDocuments: affected,
			RemovedBatchIDs:   removed,
			AddedBatchIDs:     added,
		}

		return nil
	})

	return result, err
}
