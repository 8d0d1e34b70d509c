package enginesql

import (
	"database/sql"
	"fmt"

	"github.com/syncdoc/localstore/localstore"
)

type remoteDocumentCache struct {
	tx *sql.Tx
}

func scanDocument(row interface{ Scan(...any) error }, key localstore.DocumentKey) (localstore.MaybeDocument, error) {
	var (
		kind         uint8
		versionSecs  int64
		versionNanos int32
		fieldsJSON   string
	)

	if err := row.Scan(&kind, &versionSecs, &versionNanos, &fieldsJSON); err != nil {
		return localstore.MaybeDocument{}, err
	}

	version := localstore.SnapshotVersion{Seconds: versionSecs, Nanos: versionNanos}

	if localstore.DocKind(kind) == localstore.KindNoDocument {
		return localstore.NewNoDocument(key, version), nil
	}

	fields, err := decodeFields(fieldsJSON)
	if err != nil {
		return localstore.MaybeDocument{}, err
	}

	return localstore.NewDocument(key, version, fields, false), nil
}

func (c *remoteDocumentCache) Get(_ localstore.Transaction, key localstore.DocumentKey) (localstore.MaybeDocument, bool, error) {
	row := c.tx.QueryRow(
		`SELECT kind, version_seconds, version_nanos, fields FROM remote_documents WHERE doc_key = ?`,
		key.Path(),
	)

	doc, err := scanDocument(row, key)
	if err == sql.ErrNoRows {
		return localstore.MaybeDocument{}, false, nil
	}

	if err != nil {
		return localstore.MaybeDocument{}, false, fmt.Errorf("remote document cache get %s: %w", key, err)
	}

	return doc, true, nil
}

func (c *remoteDocumentCache) GetAll(tx localstore.Transaction, keys []localstore.DocumentKey) (map[localstore.DocumentKey]localstore.MaybeDocument, error) {
	out := make(map[localstore.DocumentKey]localstore.MaybeDocument, len(keys))

	for _, key := range keys {
		doc, ok, err := c.Get(tx, key)
		if err != nil {
			return nil, err
		}

		if ok {
			out[key] = doc
		}
	}

	return out, nil
}

func (c *remoteDocumentCache) GetAllByCollection(_ localstore.Transaction, collectionPath string, sinceReadTime localstore.SnapshotVersion) (map[localstore.DocumentKey]localstore.MaybeDocument, error) {
	rows, err := c.tx.Query(
		`SELECT doc_key, kind, version_seconds, version_nanos, fields, read_seconds, read_nanos FROM remote_documents`,
	)
	if err != nil {
		return nil, fmt.Errorf("remote document cache get all by collection: %w", err)
	}
	defer rows.Close()

	out := make(map[localstore.DocumentKey]localstore.MaybeDocument)

	for rows.Next() {
		var (
			path                    string
			kind                    uint8
			versionSecs, readSecs   int64
			versionNanos, readNanos int32
			fieldsJSON              string
		)

		if err := rows.Scan(&path, &kind, &versionSecs, &versionNanos, &fieldsJSON, &readSecs, &readNanos); err != nil {
			return nil, fmt.Errorf("remote document cache get all by collection: %w", err)
		}

		key, err := localstore.NewDocumentKey(path)
		if err != nil {
			return nil, fmt.Errorf("remote document cache get all by collection: %w", err)
		}

		if collectionPath != "" && key.CollectionPath() != collectionPath {
			continue
		}

		readTime := localstore.SnapshotVersion{Seconds: readSecs, Nanos: readNanos}
		if !sinceReadTime.Less(readTime) {
			continue
		}

		version := localstore.SnapshotVersion{Seconds: versionSecs, Nanos: versionNanos}

		var doc localstore.MaybeDocument
		if localstore.DocKind(kind) == localstore.KindNoDocument {
			doc = localstore.NewNoDocument(key, version)
		} else {
			fields, err := decodeFields(fieldsJSON)
			if err != nil {
				return nil, fmt.Errorf("remote document cache get all by collection: %w", err)
			}

			doc = localstore.NewDocument(key, version, fields, false)
		}

		out[key] = doc
	}

	return out, rows.Err()
}

func (c *remoteDocumentCache) Add(_ localstore.Transaction, doc localstore.MaybeDocument, readTime localstore.SnapshotVersion) error {
	fieldsJSON, err := encodeFields(doc.Fields)
	if err != nil {
		return fmt.Errorf("remote document cache add %s: %w", doc.Key, err)
	}

	_, err = c.tx.Exec(
		`INSERT INTO remote_documents (doc_key, kind, version_seconds, version_nanos, fields, read_seconds, read_nanos)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_key) DO UPDATE SET
		   kind=excluded.kind, version_seconds=excluded.version_seconds, version_nanos=excluded.version_nanos,
		   fields=excluded.fields, read_seconds=excluded.read_seconds, read_nanos=excluded.read_nanos`,
		doc.Key.Path(), uint8(doc.Kind), doc.Version.Seconds, doc.Version.Nanos, fieldsJSON, readTime.Seconds, readTime.Nanos,
	)
	if err != nil {
		return fmt.Errorf("remote document cache add %s: %w", doc.Key, err)
	}

	return nil
}

func (c *remoteDocumentCache) Remove(_ localstore.Transaction, key localstore.DocumentKey) error {
	if _, err := c.tx.Exec(`DELETE FROM remote_documents WHERE doc_key = ?`, key.Path()); err != nil {
		return fmt.Errorf("remote document cache remove %s: %w", key, err)
	}

	return nil
}

func (c *remoteDocumentCache) NewChangeBuffer(options localstore.ChangeBufferOptions) *localstore.RemoteDocumentChangeBuffer {
	return localstore.NewRemoteDocumentChangeBuffer(c, options)
}
