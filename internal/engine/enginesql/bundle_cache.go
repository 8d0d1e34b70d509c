package enginesql

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/syncdoc/localstore/localstore"
)

type bundleCache struct {
	tx *sql.Tx
}

func (c *bundleCache) GetBundleMetadata(_ localstore.Transaction, bundleID string) (localstore.BundleMetadata, bool, error) {
	var createNanos int64
	var version int

	err := c.tx.QueryRow(`SELECT create_time, version FROM bundles WHERE bundle_id = ?`, bundleID).Scan(&createNanos, &version)
	if err == sql.ErrNoRows {
		return localstore.BundleMetadata{}, false, nil
	}

	if err != nil {
		return localstore.BundleMetadata{}, false, fmt.Errorf("get bundle metadata %s: %w", bundleID, err)
	}

	return localstore.BundleMetadata{
		BundleID:   bundleID,
		CreateTime: time.Unix(0, createNanos).UTC(),
		Version:    version,
	}, true, nil
}

func (c *bundleCache) SaveBundleMetadata(_ localstore.Transaction, metadata localstore.BundleMetadata) error {
	_, err := c.tx.Exec(
		`INSERT INTO bundles (bundle_id, create_time, version) VALUES (?, ?, ?)
		 ON CONFLICT(bundle_id) DO UPDATE SET create_time=excluded.create_time, version=excluded.version`,
		metadata.BundleID, metadata.CreateTime.UnixNano(), metadata.Version,
	)
	if err != nil {
		return fmt.Errorf("save bundle metadata %s: %w", metadata.BundleID, err)
	}

	return nil
}

func (c *bundleCache) GetNamedQuery(_ localstore.Transaction, name string) (localstore.NamedQuery, bool, error) {
	var (
		queryJSON string
		readSecs  int64
		readNanos int32
	)

	err := c.tx.QueryRow(`SELECT query, read_seconds, read_nanos FROM named_queries WHERE name = ?`, name).Scan(&queryJSON, &readSecs, &readNanos)
	if err == sql.ErrNoRows {
		return localstore.NamedQuery{}, false, nil
	}

	if err != nil {
		return localstore.NamedQuery{}, false, fmt.Errorf("get named query %s: %w", name, err)
	}

	query, err := decodeQuery(queryJSON)
	if err != nil {
		return localstore.NamedQuery{}, false, fmt.Errorf("get named query %s: %w", name, err)
	}

	return localstore.NamedQuery{
		Name:     name,
		Query:    query,
		ReadTime: localstore.SnapshotVersion{Seconds: readSecs, Nanos: readNanos},
	}, true, nil
}

func (c *bundleCache) SaveNamedQuery(_ localstore.Transaction, query localstore.NamedQuery) error {
	queryJSON, err := encodeQuery(query.Query)
	if err != nil {
		return fmt.Errorf("save named query %s: %w", query.Name, err)
	}

	_, err = c.tx.Exec(
		`INSERT INTO named_queries (name, query, read_seconds, read_nanos) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET query=excluded.query, read_seconds=excluded.read_seconds, read_nanos=excluded.read_nanos`,
		query.Name, queryJSON, query.ReadTime.Seconds, query.ReadTime.Nanos,
	)
	if err != nil {
		return fmt.Errorf("save named query %s: %w", query.Name, err)
	}

	return nil
}
