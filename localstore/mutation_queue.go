package localstore

// MutationBatchResult is the outcome of the server acknowledging a batch:
// the commit version assigned to the whole batch, and the per-document
// version the server resolved each mutated key to (absent for a key whose
// mutation resulted in a delete, which the caller resolves via
// [MutationBatch.ApplyToRemoteDocument] instead).
type MutationBatchResult struct {
	Batch         MutationBatch
	CommitVersion SnapshotVersion
	DocVersions   map[DocumentKey]SnapshotVersion
	StreamToken   []byte
}

// MutationQueue is the collaborator holding locally-applied writes awaiting
// server acknowledgement, ordered by BatchID.
type MutationQueue interface {
	// AddMutationBatch appends a new batch at the tail of the queue and
	// returns it with BatchID assigned.
	AddMutationBatch(tx Transaction, localWriteTime []int64, baseMutations, mutations []Mutation) (MutationBatch, error)

	// LookupMutationBatch returns the batch with the given id, or a NotFound
	// error if it has already been acknowledged/removed.
	LookupMutationBatch(tx Transaction, batchID int64) (MutationBatch, error)

	// NextMutationBatchAfterBatchID returns the first queued batch with an
	// id strictly greater than batchID, or ok=false if none remain.
	NextMutationBatchAfterBatchID(tx Transaction, batchID int64) (batch MutationBatch, ok bool, err error)

	// AllMutationBatches returns every queued batch in BatchID order.
	AllMutationBatches(tx Transaction) ([]MutationBatch, error)

	// AllMutationBatchesAffectingDocumentKey returns every queued batch, in
	// order, that contains a mutation for key.
	AllMutationBatchesAffectingDocumentKey(tx Transaction, key DocumentKey) ([]MutationBatch, error)

	// AllMutationBatchesAffectingDocumentKeys returns every queued batch, in
	// order, that contains a mutation for any key in keys.
	AllMutationBatchesAffectingDocumentKeys(tx Transaction, keys []DocumentKey) ([]MutationBatch, error)

	// RemoveMutationBatch removes batch from the queue; it must be the
	// oldest batch still queued (batches acknowledge strictly in order).
	RemoveMutationBatch(tx Transaction, batch MutationBatch) error

	// HighestUnacknowledgedBatchID returns the id of the most recently added
	// batch, or -1 if the queue is empty. Used to fence late stream acks.
	HighestUnacknowledgedBatchID(tx Transaction) (int64, error)

	// PerformConsistencyCheck asserts that the queue's invariants still hold
	// after a removal: in particular, once the queue is empty no batch
	// reference may remain pinning a document against garbage collection.
	// Called by [LocalStore.AcknowledgeBatch] and [LocalStore.RejectBatch]
	// right after removing a batch.
	PerformConsistencyCheck(tx Transaction) error
}
