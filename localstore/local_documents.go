package localstore

import mapset "github.com/deckarep/golang-set/v2"

// LocalDocumentsView composes the remote document cache with the pending
// mutation queue to answer "what does the user see right now," enforcing
// read-your-writes: any locally applied mutation for a key is visible
// immediately, without waiting for server acknowledgement.
type LocalDocumentsView struct {
	remoteCache RemoteDocumentCache
	queue       MutationQueue
}

// NewLocalDocumentsView constructs a view over the given collaborators.
func NewLocalDocumentsView(remoteCache RemoteDocumentCache, queue MutationQueue) *LocalDocumentsView {
	return &LocalDocumentsView{remoteCache: remoteCache, queue: queue}
}

// GetDocument returns the local view of key: the remote cache entry (or a
// manufactured NoDocument if never seen) with every queued batch affecting
// key overlaid in batch order.
func (v *LocalDocumentsView) GetDocument(tx Transaction, key DocumentKey) (MaybeDocument, error) {
	remote, ok, err := v.remoteCache.Get(tx, key)
	if err != nil {
		return MaybeDocument{}, fatalf("local_documents.get_document", err)
	}

	if !ok {
		remote = NewManufacturedNoDocument(key)
	}

	batches, err := v.queue.AllMutationBatchesAffectingDocumentKey(tx, key)
	if err != nil {
		return MaybeDocument{}, fatalf("local_documents.get_document", err)
	}

	return applyBatches(remote, batches), nil
}

// GetDocuments returns the local view for every key, batched for
// efficiency; see [LocalDocumentsView.GetDocument].
func (v *LocalDocumentsView) GetDocuments(tx Transaction, keys []DocumentKey) (map[DocumentKey]MaybeDocument, error) {
	remoteDocs, err := v.remoteCache.GetAll(tx, keys)
	if err != nil {
		return nil, fatalf("local_documents.get_documents", err)
	}

	batches, err := v.queue.AllMutationBatchesAffectingDocumentKeys(tx, keys)
	if err != nil {
		return nil, fatalf("local_documents.get_documents", err)
	}

	result := make(map[DocumentKey]MaybeDocument, len(keys))

	for _, key := range keys {
		remote, ok := remoteDocs[key]
		if !ok {
			remote = NewManufacturedNoDocument(key)
		}

		result[key] = applyBatches(remote, batches)
	}

	return result, nil
}

// GetDocumentsMatchingQuery assembles the candidate set for query from the
// remote cache (by collection) plus any locally-mutated documents, then
// overlays pending batches before delegating to engine for filter/sort/limit.
// sinceVersion and remoteKeys, when the caller is reusing a previous
// listen's results, narrow the remote-cache scan to documents that changed
// since sinceVersion plus a direct by-key fetch of the previously matched
// remoteKeys, instead of a full collection scan; a cold query passes
// SnapshotVersionMin and a nil remoteKeys, which falls back to the full scan.
func (v *LocalDocumentsView) GetDocumentsMatchingQuery(tx Transaction, query Query, sinceVersion SnapshotVersion, remoteKeys []DocumentKey, engine QueryEngine) ([]MaybeDocument, error) {
	remoteDocs, err := v.remoteCache.GetAllByCollection(tx, query.Path, sinceVersion)
	if err != nil {
		return nil, fatalf("local_documents.get_documents_matching_query", err)
	}

	if len(remoteKeys) > 0 {
		missing := make([]DocumentKey, 0, len(remoteKeys))

		for _, key := range remoteKeys {
			if _, ok := remoteDocs[key]; !ok {
				missing = append(missing, key)
			}
		}

		if len(missing) > 0 {
			extra, err := v.remoteCache.GetAll(tx, missing)
			if err != nil {
				return nil, fatalf("local_documents.get_documents_matching_query", err)
			}

			for key, doc := range extra {
				remoteDocs[key] = doc
			}
		}
	}

	allBatches, err := v.queue.AllMutationBatches(tx)
	if err != nil {
		return nil, fatalf("local_documents.get_documents_matching_query", err)
	}

	// candidateKeys is the union of every remote-cached key fetched above,
	// every previously matched key, and every key any queued batch touches
	// within the collection; a set (rather than checking "seen" via the
	// overlaid map itself) keeps the membership test independent of
	// iteration order across batches.
	candidateKeys := mapset.NewThreadUnsafeSet[DocumentKey]()
	for key := range remoteDocs {
		candidateKeys.Add(key)
	}

	for _, key := range remoteKeys {
		candidateKeys.Add(key)
	}

	for _, batch := range allBatches {
		for _, key := range batch.Keys() {
			if query.MatchesCollection(key.CollectionPath()) {
				candidateKeys.Add(key)
			}
		}
	}

	overlaid := make(map[DocumentKey]MaybeDocument, candidateKeys.Cardinality())

	candidateKeys.Each(func(key DocumentKey) bool {
		base, ok := remoteDocs[key]
		if !ok {
			base = NewManufacturedNoDocument(key)
		}

		for _, batch := range allBatches {
			base = batch.ApplyToLocalView(base)
		}

		overlaid[key] = base

		return false
	})

	return engine.RunQuery(query, overlaid, sinceVersion, remoteKeys)
}

func applyBatches(doc MaybeDocument, batches []MutationBatch) MaybeDocument {
	result := doc
	for _, batch := range batches {
		result = batch.ApplyToLocalView(result)
	}

	return result
}
