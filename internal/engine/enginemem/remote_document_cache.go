package enginemem

import "github.com/syncdoc/localstore/localstore"

type remoteDocumentCache struct {
	working *state
}

func (c *remoteDocumentCache) Get(_ localstore.Transaction, key localstore.DocumentKey) (localstore.MaybeDocument, bool, error) {
	entry, ok := c.working.remoteDocs[key]
	if !ok {
		return localstore.MaybeDocument{}, false, nil
	}

	return entry.doc, true, nil
}

func (c *remoteDocumentCache) GetAll(_ localstore.Transaction, keys []localstore.DocumentKey) (map[localstore.DocumentKey]localstore.MaybeDocument, error) {
	out := make(map[localstore.DocumentKey]localstore.MaybeDocument, len(keys))

	for _, key := range keys {
		if entry, ok := c.working.remoteDocs[key]; ok {
			out[key] = entry.doc
		}
	}

	return out, nil
}

func (c *remoteDocumentCache) GetAllByCollection(_ localstore.Transaction, collectionPath string, sinceReadTime localstore.SnapshotVersion) (map[localstore.DocumentKey]localstore.MaybeDocument, error) {
	out := make(map[localstore.DocumentKey]localstore.MaybeDocument)

	for key, entry := range c.working.remoteDocs {
		if collectionPath != "" && key.CollectionPath() != collectionPath {
			continue
		}

		if !sinceReadTime.Less(entry.readTime) {
			continue
		}

		out[key] = entry.doc
	}

	return out, nil
}

func (c *remoteDocumentCache) Add(_ localstore.Transaction, doc localstore.MaybeDocument, readTime localstore.SnapshotVersion) error {
	c.working.remoteDocs[doc.Key] = docEntry{doc: doc, readTime: readTime}

	return nil
}

func (c *remoteDocumentCache) Remove(_ localstore.Transaction, key localstore.DocumentKey) error {
	delete(c.working.remoteDocs, key)

	return nil
}

func (c *remoteDocumentCache) NewChangeBuffer(options localstore.ChangeBufferOptions) *localstore.RemoteDocumentChangeBuffer {
	return localstore.NewRemoteDocumentChangeBuffer(c, options)
}
