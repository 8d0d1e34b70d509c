package localstore

// RemoteDocumentCache is the collaborator holding the last-known server
// state per document, independent of any pending local mutation.
type RemoteDocumentCache interface {
	Get(tx Transaction, key DocumentKey) (MaybeDocument, bool, error)
	GetAll(tx Transaction, keys []DocumentKey) (map[DocumentKey]MaybeDocument, error)

	// GetAllByCollection returns every document in collectionPath with a
	// ReadTime strictly greater than sinceReadTime, for collection-scoped
	// query execution against the cache.
	GetAllByCollection(tx Transaction, collectionPath string, sinceReadTime SnapshotVersion) (map[DocumentKey]MaybeDocument, error)

	// Add writes doc into the cache at readTime, the snapshot version the
	// document was read at (a remote event's version, a bundle document's
	// own read time, or an acknowledged batch's commit version), distinct
	// from doc.Version, the server's version.
	Add(tx Transaction, doc MaybeDocument, readTime SnapshotVersion) error

	// Remove deletes any cached entry for key. Used only for eviction by
	// the garbage collector; an acknowledged delete instead calls Add with
	// a NoDocument so readers can still distinguish "known deleted" from
	// "never seen."
	Remove(tx Transaction, key DocumentKey) error

	// NewChangeBuffer returns a buffer that batches writes for one
	// transaction and applies the manufactured-tombstone and
	// pending-write-precedence rules on Apply; see [ChangeBufferOptions].
	NewChangeBuffer(options ChangeBufferOptions) *RemoteDocumentChangeBuffer
}

// ChangeBufferOptions configures [RemoteDocumentChangeBuffer.Apply].
type ChangeBufferOptions struct {
	// TrackRemovals, when true, lets a manufactured NoDocument (permission
	// denied sentinel) evict an existing cache entry for the same key
	// instead of being skipped. Remote-event application and batch
	// acknowledgement set it true; bundle application leaves it false, so a
	// manufactured tombstone in a bundle is dropped without touching the
	// cache.
	TrackRemovals bool
}

// RemoteDocumentChangeBuffer accumulates per-document changes for a single
// transaction and applies them to the underlying cache as one batch,
// mirroring the teacher's WAL-style "stage then commit" discipline.
type RemoteDocumentChangeBuffer struct {
	cache         RemoteDocumentCache
	options       ChangeBufferOptions
	changes       map[DocumentKey]MaybeDocument
	readTimes     map[DocumentKey]SnapshotVersion
	pendingInView map[DocumentKey]bool
}

// NewRemoteDocumentChangeBuffer constructs a buffer bound to cache.
func NewRemoteDocumentChangeBuffer(cache RemoteDocumentCache, options ChangeBufferOptions) *RemoteDocumentChangeBuffer {
	return &RemoteDocumentChangeBuffer{
		cache:         cache,
		options:       options,
		changes:       make(map[DocumentKey]MaybeDocument),
		readTimes:     make(map[DocumentKey]SnapshotVersion),
		pendingInView: make(map[DocumentKey]bool),
	}
}

// SetPendingWritesFlag records whether key currently has a pending local
// write outstanding. Apply does not read this record; its equal-version
// rule compares the staged and cached documents' own HasPendingWrites flags.
func (b *RemoteDocumentChangeBuffer) SetPendingWritesFlag(key DocumentKey, hasPending bool) {
	b.pendingInView[key] = hasPending
}

// AddEntry stages doc to be written at readTime when Apply runs.
func (b *RemoteDocumentChangeBuffer) AddEntry(doc MaybeDocument, readTime SnapshotVersion) {
	b.changes[doc.Key] = doc
	b.readTimes[doc.Key] = readTime
}

// GetEntry returns a previously staged (not yet applied) change for key, if
// any, falling through to the underlying cache otherwise.
func (b *RemoteDocumentChangeBuffer) GetEntry(tx Transaction, key DocumentKey) (MaybeDocument, bool, error) {
	if doc, ok := b.changes[key]; ok {
		return doc, true, nil
	}

	return b.cache.Get(tx, key)
}

// Apply commits every staged change to the underlying cache. A manufactured
// NoDocument (permission-denied sentinel) is never cached: with TrackRemovals
// set it evicts the key, otherwise it is skipped. Any other change is skipped
// when the cached entry has the same version and the same HasPendingWrites
// flag, which keeps the existing readTime; every other change is written.
func (b *RemoteDocumentChangeBuffer) Apply(tx Transaction) error {
	for key, doc := range b.changes {
		if doc.IsManufacturedNoDocument() {
			if b.options.TrackRemovals {
				if err := b.cache.Remove(tx, key); err != nil {
					return fatalf("change_buffer.apply", err)
				}
			}

			continue
		}

		existing, ok, err := b.cache.Get(tx, key)
		if err != nil {
			return fatalf("change_buffer.apply", err)
		}

		if ok && existing.Version == doc.Version && existing.HasPendingWrites == doc.HasPendingWrites {
			continue
		}

		if err := b.cache.Add(tx, doc, b.readTimes[key]); err != nil {
			return fatalf("change_buffer.apply", err)
		}
	}

	return nil
}
