package enginesql

import (
	"database/sql"

	"github.com/syncdoc/localstore/localstore"
)

// indexManager derives collection-parent lookups from remote_documents
// directly, same as enginemem; a real per-collection index table is future
// work once collection-group queries need to scale past a full scan.
type indexManager struct {
	tx *sql.Tx
}

func (m *indexManager) CollectionParents(_ localstore.Transaction, collectionID string) []string {
	rows, err := m.tx.Query(`SELECT doc_key FROM remote_documents`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	seen := make(map[string]bool)

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil
		}

		key, err := localstore.NewDocumentKey(path)
		if err != nil {
			continue
		}

		for _, p := range collectionParentsOf(key, collectionID) {
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
