package localstore

import "context"

// TransactionMode selects the isolation/lock discipline a transaction runs
// under. readwrite-primary marks operations that mutate the remote cache or
// target lifecycle; the engines in this module run it like readwrite and do
// not check a primary lease.
type TransactionMode uint8

const (
	TransactionReadOnly TransactionMode = iota
	TransactionReadWrite
	TransactionReadWritePrimary
)

func (m TransactionMode) String() string {
	switch m {
	case TransactionReadOnly:
		return "readonly"
	case TransactionReadWrite:
		return "readwrite"
	case TransactionReadWritePrimary:
		return "readwrite-primary"
	default:
		return "unknown"
	}
}

// Transaction is the unit of work every LocalStore operation runs inside.
// A Transaction is bound to exactly one RunTransaction call: collaborators
// reach mutable state only through the Transaction handed to them, never by
// holding a reference across calls.
type Transaction interface {
	Mode() TransactionMode
}

// Persistence is the durable-storage collaborator. Implementations: package
// enginesql (SQLite-backed) and package enginemem (in-memory, for tests).
type Persistence interface {
	// RunTransaction runs fn inside a transaction of the given mode and
	// commits atomically on success. enginesql retries an attempt that fails
	// with SQLITE_BUSY or SQLITE_LOCKED up to its MaxRetries budget;
	// enginemem serializes transactions and never retries. Any other error,
	// including every error fn returns, aborts the transaction without retry.
	RunTransaction(ctx context.Context, name string, mode TransactionMode, fn func(ctx context.Context, tx Transaction) error) error

	MutationQueue(tx Transaction) MutationQueue
	RemoteDocumentCache(tx Transaction) RemoteDocumentCache
	TargetCache(tx Transaction) TargetCache
	BundleCache(tx Transaction) BundleCache
	IndexManager(tx Transaction) IndexManager
	ReferenceDelegate() ReferenceDelegate

	Shutdown(ctx context.Context) error
}

// BundleCache is the collaborator holding loaded bundle metadata (for
// freshness checks) and saved named queries.
type BundleCache interface {
	GetBundleMetadata(tx Transaction, bundleID string) (BundleMetadata, bool, error)
	SaveBundleMetadata(tx Transaction, metadata BundleMetadata) error

	GetNamedQuery(tx Transaction, name string) (NamedQuery, bool, error)
	SaveNamedQuery(tx Transaction, query NamedQuery) error
}

// IndexManager maintains whatever derived indexes QueryEngine needs to plan
// and execute Query lookups without a full collection scan.
type IndexManager interface {
	// CollectionParents returns every distinct parent path indexed for a
	// given collection id, used to support collection-group queries.
	CollectionParents(tx Transaction, collectionID string) []string
}
