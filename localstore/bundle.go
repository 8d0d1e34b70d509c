package localstore

import (
	"context"
	"fmt"
	"time"
)

// BundleElementKind tags the variant carried by a wire BundleElement.
type BundleElementKind uint8

const (
	BundleElementMetadata BundleElementKind = iota
	BundleElementNamedQuery
	BundleElementDocumentMetadata
	BundleElementDocument
)

// BundleMetadata is the single required header element of a bundle stream.
type BundleMetadata struct {
	BundleID   string
	CreateTime time.Time
	Version    int
}

// NamedQuery is a saved query definition shipped inside a bundle, resumable
// from ReadTime once loaded.
type NamedQuery struct {
	Name     string
	Query    Query
	ReadTime SnapshotVersion
}

// DocumentMetadata describes one document's existence and version ahead of
// its optional Document payload.
type DocumentMetadata struct {
	Key      DocumentKey
	ReadTime SnapshotVersion
	Exists   bool
}

// BundleElement is one decoded unit of the bundle wire stream. Exactly one
// field matching Kind is populated.
type BundleElement struct {
	Kind             BundleElementKind
	Metadata         BundleMetadata
	NamedQuery       NamedQuery
	DocumentMetadata DocumentMetadata
	Document         MaybeDocument
}

// BundleLoadProgress reports ingestion progress; a snapshot is emitted by
// [BundleLoader.AddElement] only when DocumentsLoaded increments.
type BundleLoadProgress struct {
	DocumentsLoaded int
	TotalDocuments  int
	BytesLoaded     int64
	TotalBytes      int64
	TaskState       BundleTaskState
}

// BundleTaskState tags a BundleLoadProgress snapshot's terminal status.
type BundleTaskState uint8

const (
	BundleTaskRunning BundleTaskState = iota
	BundleTaskSuccess
	BundleTaskError
)

// BundleLoadResult is the return value of [BundleLoader.Complete].
type BundleLoadResult struct {
	Progress    BundleLoadProgress
	ChangedDocs map[DocumentKey]MaybeDocument
}

// BundleLoader implements §4.7: ingest a stream of typed bundle elements
// (one BundleMetadata header, then any order of NamedQuery/DocumentMetadata/
// Document elements, with a Document always immediately following its
// matching DocumentMetadata) into the store.
type BundleLoader struct {
	store *LocalStore

	metadata        BundleMetadata
	hasMetadata     bool
	pendingMetadata *DocumentMetadata
	documents       map[DocumentKey]MaybeDocument
	versions        map[DocumentKey]SnapshotVersion
	queries         []NamedQuery

	bytesLoaded     int64
	totalBytes      int64
	documentsLoaded int
	totalDocuments  int
}

// NewBundleLoader constructs a loader for one bundle stream bound to store.
func NewBundleLoader(store *LocalStore, totalBytes int64, totalDocuments int) *BundleLoader {
	return &BundleLoader{
		store:          store,
		documents:      make(map[DocumentKey]MaybeDocument),
		versions:       make(map[DocumentKey]SnapshotVersion),
		totalBytes:     totalBytes,
		totalDocuments: totalDocuments,
	}
}

// AddElement implements addSizedElement: accumulate bytesLoaded, buffer
// queries and documents, assert a Document follows its metadata with a
// matching key, and return a progress snapshot only when documentsLoaded
// increments.
func (l *BundleLoader) AddElement(element BundleElement, size int64) (*BundleLoadProgress, error) {
	l.bytesLoaded += size

	switch element.Kind {
	case BundleElementMetadata:
		if l.hasMetadata {
			return nil, fatalf("bundle.add_element", fmt.Errorf("duplicate bundle metadata header"))
		}

		l.metadata = element.Metadata
		l.hasMetadata = true

		return nil, nil

	case BundleElementNamedQuery:
		l.queries = append(l.queries, element.NamedQuery)

		return nil, nil

	case BundleElementDocumentMetadata:
		if l.pendingMetadata != nil {
			return nil, fatalf("bundle.add_element", fmt.Errorf(
				"document metadata for %s arrived before %s completed", element.DocumentMetadata.Key, l.pendingMetadata.Key))
		}

		meta := element.DocumentMetadata

		if !meta.Exists {
			l.documents[meta.Key] = NewNoDocument(meta.Key, meta.ReadTime)
			l.versions[meta.Key] = meta.ReadTime
			l.documentsLoaded++

			return l.progress(), nil
		}

		l.pendingMetadata = &meta

		return nil, nil

	case BundleElementDocument:
		if l.pendingMetadata == nil {
			return nil, fatalf("bundle.add_element", fmt.Errorf("document for %s arrived without metadata", element.Document.Key))
		}

		if l.pendingMetadata.Key != element.Document.Key {
			return nil, fatalf("bundle.add_element", fmt.Errorf(
				"document key %s does not match preceding metadata key %s", element.Document.Key, l.pendingMetadata.Key))
		}

		key := l.pendingMetadata.Key
		readTime := l.pendingMetadata.ReadTime
		l.pendingMetadata = nil

		l.documents[key] = element.Document
		l.versions[key] = readTime
		l.documentsLoaded++

		return l.progress(), nil

	default:
		return nil, fatalf("bundle.add_element", fmt.Errorf("unknown bundle element kind %d", element.Kind))
	}
}

func (l *BundleLoader) progress() *BundleLoadProgress {
	return &BundleLoadProgress{
		DocumentsLoaded: l.documentsLoaded,
		TotalDocuments:  l.totalDocuments,
		BytesLoaded:     l.bytesLoaded,
		TotalBytes:      l.totalBytes,
		TaskState:       BundleTaskRunning,
	}
}

// Complete implements complete(): apply all buffered documents, save every
// buffered named query against its matching key set, and return the final
// progress snapshot plus the changed documents' local view.
func (l *BundleLoader) Complete(ctx context.Context) (BundleLoadResult, error) {
	if l.pendingMetadata != nil {
		return BundleLoadResult{}, fatalf("bundle.complete", fmt.Errorf(
			"document metadata for %s never received its document", l.pendingMetadata.Key))
	}

	changed, err := l.store.applyBundleDocuments(ctx, l.documents, l.versions, l.metadata.BundleID)
	if err != nil {
		return BundleLoadResult{}, err
	}

	existingByQuery := make(map[string][]DocumentKey, len(l.queries))

	for _, q := range l.queries {
		keys := make([]DocumentKey, 0)

		for key, doc := range l.documents {
			if doc.IsDocument() && q.Query.MatchesCollection(key.CollectionPath()) {
				keys = append(keys, key)
			}
		}

		existingByQuery[q.Name] = keys
	}

	for _, q := range l.queries {
		if err := l.store.saveNamedQuery(ctx, q, existingByQuery[q.Name]); err != nil {
			return BundleLoadResult{}, err
		}
	}

	progress := l.progress()
	progress.TaskState = BundleTaskSuccess

	return BundleLoadResult{Progress: *progress, ChangedDocs: changed}, nil
}

func bundleUmbrellaTargetPath(bundleName string) string {
	return fmt.Sprintf("__bundle__/docs/%s", bundleName)
}

// applyBundleDocuments implements §4.8: stage docs into the remote change
// buffer keyed by their individual read times, then pin every existing
// document under the bundle's umbrella target so it survives GC until the
// umbrella target itself is released.
func (s *LocalStore) applyBundleDocuments(ctx context.Context, docs map[DocumentKey]MaybeDocument, versions map[DocumentKey]SnapshotVersion, bundleName string) (map[DocumentKey]MaybeDocument, error) {
	umbrella, err := s.AllocateTarget(ctx, Query{Path: bundleUmbrellaTargetPath(bundleName)})
	if err != nil {
		return nil, err
	}

	var changed map[DocumentKey]MaybeDocument

	err = s.persistence.RunTransaction(ctx, "apply_bundle_documents", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		targetCache := s.persistence.TargetCache(tx)
		remoteCache := s.persistence.RemoteDocumentCache(tx)
		buffer := remoteCache.NewChangeBuffer(ChangeBufferOptions{TrackRemovals: false})

		if err := populateChangeBuffer(tx, buffer, docs, SnapshotVersionMin, versions); err != nil {
			return err
		}

		if err := buffer.Apply(tx); err != nil {
			return err
		}

		existing, err := targetCache.GetMatchingKeys(tx, umbrella.TargetID)
		if err != nil {
			return fatalf("localstore.apply_bundle_documents", err)
		}

		if len(existing) > 0 {
			if err := targetCache.RemoveMatchingKeys(tx, existing, umbrella.TargetID); err != nil {
				return fatalf("localstore.apply_bundle_documents", err)
			}
		}

		documentKeys := make([]DocumentKey, 0, len(docs))
		for key, doc := range docs {
			if doc.IsDocument() {
				documentKeys = append(documentKeys, key)
			}
		}

		if err := targetCache.AddMatchingKeys(tx, documentKeys, umbrella.TargetID); err != nil {
			return fatalf("localstore.apply_bundle_documents", err)
		}

		changedKeys := make([]DocumentKey, 0, len(docs))
		for key := range docs {
			changedKeys = append(changedKeys, key)
		}

		changed, err = s.localDocuments(tx).GetDocuments(tx, changedKeys)

		return err
	})

	return changed, err
}

// saveNamedQuery implements §4.9: allocate the query's target if needed,
// rewind it to the bundle's read time when the bundle is fresher than what
// the target already observed, then persist the named query.
func (s *LocalStore) saveNamedQuery(ctx context.Context, query NamedQuery, docs []DocumentKey) error {
	target, err := s.AllocateTarget(ctx, query.Query)
	if err != nil {
		return err
	}

	if !target.SnapshotVersion.Less(query.ReadTime) {
		return s.persistNamedQuery(ctx, query)
	}

	updated := target
	updated.ResumeToken = nil
	updated.SnapshotVersion = query.ReadTime

	err = s.persistence.RunTransaction(ctx, "save_named_query", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		targetCache := s.persistence.TargetCache(tx)

		existing, err := targetCache.GetMatchingKeys(tx, target.TargetID)
		if err != nil {
			return fatalf("localstore.save_named_query", err)
		}

		if len(existing) > 0 {
			if err := targetCache.RemoveMatchingKeys(tx, existing, target.TargetID); err != nil {
				return fatalf("localstore.save_named_query", err)
			}
		}

		if err := targetCache.AddMatchingKeys(tx, docs, target.TargetID); err != nil {
			return fatalf("localstore.save_named_query", err)
		}

		return targetCache.UpdateTargetData(tx, updated)
	})
	if err != nil {
		return err
	}

	s.targets.update(updated)

	return s.persistNamedQuery(ctx, query)
}

func (s *LocalStore) persistNamedQuery(ctx context.Context, query NamedQuery) error {
	return s.persistence.RunTransaction(ctx, "persist_named_query", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		return s.persistence.BundleCache(tx).SaveNamedQuery(tx, query)
	})
}

// GetNamedQuery retrieves a previously saved named query by name.
func (s *LocalStore) GetNamedQuery(ctx context.Context, name string) (NamedQuery, bool, error) {
	var (
		query NamedQuery
		ok    bool
	)

	err := s.persistence.RunTransaction(ctx, "get_named_query", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		var err error
		query, ok, err = s.persistence.BundleCache(tx).GetNamedQuery(tx, name)

		return err
	})

	return query, ok, err
}

// HasNewerBundle implements hasNewerBundle: true iff a stored bundle with
// the same id has a CreateTime at or after metadata.CreateTime.
func (s *LocalStore) HasNewerBundle(ctx context.Context, metadata BundleMetadata) (bool, error) {
	var has bool

	err := s.persistence.RunTransaction(ctx, "has_newer_bundle", TransactionReadOnly, func(ctx context.Context, tx Transaction) error {
		stored, ok, err := s.persistence.BundleCache(tx).GetBundleMetadata(tx, metadata.BundleID)
		if err != nil {
			return fatalf("localstore.has_newer_bundle", err)
		}

		has = ok && !stored.CreateTime.Before(metadata.CreateTime)

		return nil
	})

	return has, err
}

// SaveBundleMetadata records metadata as the most recently loaded bundle
// under its id, consulted by future HasNewerBundle calls.
func (s *LocalStore) SaveBundleMetadata(ctx context.Context, metadata BundleMetadata) error {
	return s.persistence.RunTransaction(ctx, "save_bundle_metadata", TransactionReadWrite, func(ctx context.Context, tx Transaction) error {
		return s.persistence.BundleCache(tx).SaveBundleMetadata(tx, metadata)
	})
}
