package enginemem

import (
	"fmt"
	"time"

	"github.com/syncdoc/localstore/localstore"
)

type mutationQueue struct {
	working *state
}

func (q *mutationQueue) AddMutationBatch(_ localstore.Transaction, _ []int64, baseMutations, mutations []localstore.Mutation) (localstore.MutationBatch, error) {
	batch := localstore.MutationBatch{
		BatchID:        q.working.nextBatchID,
		LocalWriteTime: time.Now().UTC(),
		BaseMutations:  baseMutations,
		Mutations:      mutations,
	}

	q.working.nextBatchID++
	q.working.batches = append(q.working.batches, batch)

	for _, key := range batch.Keys() {
		addRef(q.working, key, refKey{batchID: batch.BatchID, isBatch: true})
	}

	return batch, nil
}

func (q *mutationQueue) LookupMutationBatch(_ localstore.Transaction, batchID int64) (localstore.MutationBatch, error) {
	for _, b := range q.working.batches {
		if b.BatchID == batchID {
			return b, nil
		}
	}

	return localstore.MutationBatch{}, localstore.ErrBatchNotFound
}

func (q *mutationQueue) NextMutationBatchAfterBatchID(_ localstore.Transaction, batchID int64) (localstore.MutationBatch, bool, error) {
	for _, b := range q.working.batches {
		if b.BatchID > batchID {
			return b, true, nil
		}
	}

	return localstore.MutationBatch{}, false, nil
}

func (q *mutationQueue) AllMutationBatches(_ localstore.Transaction) ([]localstore.MutationBatch, error) {
	out := make([]localstore.MutationBatch, len(q.working.batches))
	copy(out, q.working.batches)

	return out, nil
}

func (q *mutationQueue) AllMutationBatchesAffectingDocumentKey(_ localstore.Transaction, key localstore.DocumentKey) ([]localstore.MutationBatch, error) {
	var out []localstore.MutationBatch

	for _, b := range q.working.batches {
		for _, k := range b.Keys() {
			if k == key {
				out = append(out, b)
				break
			}
		}
	}

	return out, nil
}

func (q *mutationQueue) AllMutationBatchesAffectingDocumentKeys(_ localstore.Transaction, keys []localstore.DocumentKey) ([]localstore.MutationBatch, error) {
	want := make(map[localstore.DocumentKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	var out []localstore.MutationBatch

	for _, b := range q.working.batches {
		for _, k := range b.Keys() {
			if want[k] {
				out = append(out, b)
				break
			}
		}
	}

	return out, nil
}

func (q *mutationQueue) RemoveMutationBatch(_ localstore.Transaction, batch localstore.MutationBatch) error {
	for i, b := range q.working.batches {
		if b.BatchID == batch.BatchID {
			q.working.batches = append(q.working.batches[:i], q.working.batches[i+1:]...)
			return nil
		}
	}

	return localstore.ErrBatchNotFound
}

func (q *mutationQueue) HighestUnacknowledgedBatchID(_ localstore.Transaction) (int64, error) {
	if len(q.working.batches) == 0 {
		return -1, nil
	}

	return q.working.batches[len(q.working.batches)-1].BatchID, nil
}

// PerformConsistencyCheck asserts that no batch reference survives once the
// queue has drained, since a lingering reference would pin a document
// against garbage collection forever.
func (q *mutationQueue) PerformConsistencyCheck(_ localstore.Transaction) error {
	if len(q.working.batches) > 0 {
		return nil
	}

	for key, refs := range q.working.refCounts {
		for rk := range refs {
			if rk.isBatch {
				return fmt.Errorf("document %s still has a batch reference with an empty mutation queue", key)
			}
		}
	}

	return nil
}
