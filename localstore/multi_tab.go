package localstore

import (
	"context"
	"sync"
	"time"
)

// ClientMetadata is the multi-tab presence record read by getActiveClients.
// In a single-process engine there is always exactly one active client:
// this process.
type ClientMetadata struct {
	ClientID       string
	UpdateTime     time.Time
	NetworkEnabled bool
}

// documentChangeTracker implements the multi-tab document-change-log reads
// (getNewDocumentChanges, synchronizeLastDocumentChangeReadTime) against a
// single-process engine, per the Design Notes: implementations without
// multi-tab may implement these against a single-process engine rather than
// stubbing them out entirely.
type documentChangeTracker struct {
	mu           sync.Mutex
	lastReadTime SnapshotVersion
	clientID     string
}

func newDocumentChangeTracker(clientID string) *documentChangeTracker {
	return &documentChangeTracker{clientID: clientID}
}

// GetActiveClients returns the set of clients sharing this engine. A
// single-process engine reports only itself.
func (s *LocalStore) GetActiveClients(ctx context.Context) ([]ClientMetadata, error) {
	return []ClientMetadata{{ClientID: s.changeTracker.clientID, UpdateTime: time.Now().UTC(), NetworkEnabled: true}}, nil
}

// GetCachedTarget implements §4.1 getCachedTarget: an alias for
// GetLocalTargetData kept as a distinct name to match the multi-tab surface
// other clients of this engine would call.
func (s *LocalStore) GetCachedTarget(ctx context.Context, targetID int32) (TargetData, bool, error) {
	return s.GetLocalTargetData(ctx, targetID)
}

// GetNewDocumentChanges returns every remote document touched since the
// last synchronized read time, for a would-be sibling tab catching up on
// documents this engine already applied.
func (s *LocalStore) GetNewDocumentChanges(ctx context.Context) (map[DocumentKey]MaybeDocument, error) {
	s.changeTracker.mu.Lock()
	since := s.changeTracker.lastReadTime
	s.changeTracker.mu.Unlock()

	var changes map[DocumentKey]MaybeDocument

	err := s.persistence.RunTransaction(ctx, "get_new_document_changes", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		var err error
		changes, err = s.persistence.RemoteDocumentCache(tx).GetAllByCollection(tx, "", since)

		return err
	})

	return changes, err
}

// SynchronizeLastDocumentChangeReadTime advances the local watermark used
// by GetNewDocumentChanges.
func (s *LocalStore) SynchronizeLastDocumentChangeReadTime(ctx context.Context, readTime SnapshotVersion) {
	s.changeTracker.mu.Lock()
	defer s.changeTracker.mu.Unlock()

	if s.changeTracker.lastReadTime.Less(readTime) {
		s.changeTracker.lastReadTime = readTime
	}
}
