package enginemem

import "github.com/syncdoc/localstore/localstore"

// indexManager has nothing to maintain: enginemem's RemoteDocumentCache is
// scanned directly, so collection-parent lookups are derived on demand
// rather than tracked incrementally.
type indexManager struct {
	working *state
}

func (m *indexManager) CollectionParents(_ localstore.Transaction, collectionID string) []string {
	seen := make(map[string]bool)

	for key := range m.working.remoteDocs {
		parents := collectionParentsOf(key, collectionID)
		for _, p := range parents {
			seen[p] = true
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}

	return out
}

func collectionParentsOf(key localstore.DocumentKey, collectionID string) []string {
	path := key.CollectionPath()
	if path == "" {
		return nil
	}

	// The collection path's last segment is its own id; the "parent" a
	// collection-group query cares about is everything before that.
	idx := lastSlashIdx(path)
	if idx < 0 {
		if path == collectionID {
			return []string{""}
		}

		return nil
	}

	if path[idx+1:] != collectionID {
		return nil
	}

	return []string{path[:idx]}
}

func lastSlashIdx(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}

	return -1
}
