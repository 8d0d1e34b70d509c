// Package enginemem is an in-memory localstore.Persistence implementation:
// plain Go maps guarded by one mutex, copied on write per transaction so
// unit tests can exercise the coordinator's transaction-retry assumptions
// without SQLite. See package enginesql for the durable implementation.
package enginemem

import (
	"context"
	"sync"

	"github.com/syncdoc/localstore/localstore"
)

// Engine is the in-memory localstore.Persistence implementation.
type Engine struct {
	mu    sync.Mutex
	state state

	referenceDelegate *referenceDelegate
}

// state is the canonical, persisted-equivalent data every transaction reads
// a working copy of and, on success, replaces wholesale. Because Engine
// serializes all transactions behind one mutex, a transaction never
// actually conflicts with another; RunTransaction still follows the
// begin/mutate-copy/commit-or-discard shape so the same coordinator code
// runs unmodified against enginesql.
type state struct {
	remoteDocs      map[localstore.DocumentKey]docEntry
	batches         []localstore.MutationBatch
	nextBatchID     int64
	targets         map[int32]localstore.TargetData
	targetKeys      map[int32]map[localstore.DocumentKey]bool
	nextTargetID    int32
	lastSnapshot    localstore.SnapshotVersion
	highestSequence int64
	bundles         map[string]localstore.BundleMetadata
	namedQueries    map[string]localstore.NamedQuery
	refCounts       map[localstore.DocumentKey]map[refKey]bool
}

type refKey struct {
	targetID int32
	batchID  int64
	isBatch  bool
}

type docEntry struct {
	doc      localstore.MaybeDocument
	readTime localstore.SnapshotVersion
}

// New constructs an empty in-memory engine.
func New() *Engine {
	e := &Engine{
		state: state{
			remoteDocs:   make(map[localstore.DocumentKey]docEntry),
			nextBatchID:  1,
			targets:      make(map[int32]localstore.TargetData),
			targetKeys:   make(map[int32]map[localstore.DocumentKey]bool),
			bundles:      make(map[string]localstore.BundleMetadata),
			namedQueries: make(map[string]localstore.NamedQuery),
			refCounts:    make(map[localstore.DocumentKey]map[refKey]bool),
		},
	}
	e.referenceDelegate = &referenceDelegate{engine: e}

	return e
}

// tx is the localstore.Transaction handle: a pointer to the working copy
// this transaction mutates.
type tx struct {
	mode    localstore.TransactionMode
	working *state
}

func (t *tx) Mode() localstore.TransactionMode { return t.mode }

func (e *Engine) RunTransaction(ctx context.Context, name string, mode localstore.TransactionMode, fn func(ctx context.Context, txn localstore.Transaction) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.state.clone()
	txn := &tx{mode: mode, working: &working}

	e.referenceDelegate.OnTransactionStarted()

	if err := fn(ctx, txn); err != nil {
		return err
	}

	e.state = working

	return nil
}

func (s state) clone() state {
	remoteDocs := make(map[localstore.DocumentKey]docEntry, len(s.remoteDocs))
	for k, v := range s.remoteDocs {
		remoteDocs[k] = v
	}

	batches := make([]localstore.MutationBatch, len(s.batches))
	copy(batches, s.batches)

	targets := make(map[int32]localstore.TargetData, len(s.targets))
	for k, v := range s.targets {
		targets[k] = v
	}

	targetKeys := make(map[int32]map[localstore.DocumentKey]bool, len(s.targetKeys))
	for k, v := range s.targetKeys {
		inner := make(map[localstore.DocumentKey]bool, len(v))
		for dk, b := range v {
			inner[dk] = b
		}

		targetKeys[k] = inner
	}

	bundles := make(map[string]localstore.BundleMetadata, len(s.bundles))
	for k, v := range s.bundles {
		bundles[k] = v
	}

	namedQueries := make(map[string]localstore.NamedQuery, len(s.namedQueries))
	for k, v := range s.namedQueries {
		namedQueries[k] = v
	}

	refCounts := make(map[localstore.DocumentKey]map[refKey]bool, len(s.refCounts))
	for k, v := range s.refCounts {
		inner := make(map[refKey]bool, len(v))
		for rk, b := range v {
			inner[rk] = b
		}

		refCounts[k] = inner
	}

	return state{
		remoteDocs:      remoteDocs,
		batches:         batches,
		nextBatchID:     s.nextBatchID,
		targets:         targets,
		targetKeys:      targetKeys,
		nextTargetID:    s.nextTargetID,
		lastSnapshot:    s.lastSnapshot,
		highestSequence: s.highestSequence,
		bundles:         bundles,
		namedQueries:    namedQueries,
		refCounts:       refCounts,
	}
}

func (e *Engine) MutationQueue(t localstore.Transaction) localstore.MutationQueue {
	return &mutationQueue{working: t.(*tx).working}
}

func (e *Engine) RemoteDocumentCache(t localstore.Transaction) localstore.RemoteDocumentCache {
	return &remoteDocumentCache{working: t.(*tx).working}
}

func (e *Engine) TargetCache(t localstore.Transaction) localstore.TargetCache {
	return &targetCache{working: t.(*tx).working}
}

func (e *Engine) BundleCache(t localstore.Transaction) localstore.BundleCache {
	return &bundleCache{working: t.(*tx).working}
}

func (e *Engine) IndexManager(t localstore.Transaction) localstore.IndexManager {
	return &indexManager{working: t.(*tx).working}
}

func (e *Engine) ReferenceDelegate() localstore.ReferenceDelegate { return e.referenceDelegate }

func (e *Engine) Shutdown(ctx context.Context) error { return nil }
