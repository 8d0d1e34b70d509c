package localstore

// ReferenceDelegate tracks which documents are eligible for garbage
// collection: a document is safe to evict only once no target references
// it and no mutation batch touches it. Implementations back the actual
// reference counts with durable storage (enginesql) or an in-memory set
// (enginemem).
type ReferenceDelegate interface {
	AddReference(tx Transaction, targetID int32, key DocumentKey) error
	RemoveReference(tx Transaction, targetID int32, key DocumentKey) error

	// RemoveTarget drops every reference held under targetID and may
	// trigger eager GC of documents that become unpinned as a result,
	// called when a target is released without keeping persisted data.
	RemoveTarget(tx Transaction, targetID int32) error

	// RemoveMutationReference drops the mutation-queue reference batchID
	// held for key, called once a batch acknowledges or is rejected.
	RemoveMutationReference(tx Transaction, batchID int64, key DocumentKey) error

	// UpdateLimboDocument records that key's limbo status was resolved by
	// the given document update. ApplyRemoteEventToLocalCache calls it once
	// for each key in ResolvedLimboDocuments that also has an entry in
	// DocumentUpdates, whether or not that update changes the cached value.
	UpdateLimboDocument(tx Transaction, key DocumentKey) error

	// IsReferenced reports whether key is still referenced by any target or
	// queued mutation batch.
	IsReferenced(tx Transaction, key DocumentKey) (bool, error)

	OnTransactionStarted()
	OnTransactionCommitted(tx Transaction) error
}
