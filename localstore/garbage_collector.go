package localstore

import "context"

// GarbageCollector decides which unreferenced remote documents to evict and
// in what order. §1 places the actual LRU policy out of scope ("the LRU
// reference-counting garbage collector (invoked; policy specified
// elsewhere)"); collectGarbage is the thin pass-through that invokes it
// inside a transaction and applies its decision.
type GarbageCollector interface {
	// SelectDocumentsToEvict receives every candidate key that is neither
	// referenced (per ReferenceDelegate.IsReferenced) nor in any target's
	// matching-key set (per TargetCache.ContainsKey), and the target
	// sequence-number watermark, and returns the subset to evict now.
	SelectDocumentsToEvict(ctx context.Context, candidates []DocumentKey, highestSequenceNumber int64) []DocumentKey
}

// CollectGarbage implements the collectGarbage(lru) operation named in §6's
// public surface: gather every remote document no longer referenced by a
// target or a queued mutation batch, ask gc which of those to evict, and
// remove them from the remote document cache.
func (s *LocalStore) CollectGarbage(ctx context.Context, gc GarbageCollector, allKeys []DocumentKey) (int, error) {
	evicted := 0

	err := s.persistence.RunTransaction(ctx, "collect_garbage", TransactionReadWritePrimary, func(ctx context.Context, tx Transaction) error {
		var candidates []DocumentKey

		targetCache := s.persistence.TargetCache(tx)

		for _, key := range allKeys {
			referenced, err := s.referenceDelegate.IsReferenced(tx, key)
			if err != nil {
				return fatalf("localstore.collect_garbage", err)
			}

			if !referenced {
				referenced, err = targetCache.ContainsKey(tx, key)
				if err != nil {
					return fatalf("localstore.collect_garbage", err)
				}
			}

			if !referenced {
				candidates = append(candidates, key)
			}
		}

		highest, err := s.persistence.TargetCache(tx).HighestSequenceNumber(tx)
		if err != nil {
			return fatalf("localstore.collect_garbage", err)
		}

		toEvict := gc.SelectDocumentsToEvict(ctx, candidates, highest)
		remoteCache := s.persistence.RemoteDocumentCache(tx)

		for _, key := range toEvict {
			if err := remoteCache.Remove(tx, key); err != nil {
				return fatalf("localstore.collect_garbage", err)
			}
		}

		evicted = len(toEvict)

		return nil
	})

	return evicted, err
}
