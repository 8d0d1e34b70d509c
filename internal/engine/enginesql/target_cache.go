package enginesql

import (
	"database/sql"
	"fmt"

	"github.com/syncdoc/localstore/localstore"
)

type targetCache struct {
	tx *sql.Tx
}

func scanTargetData(row interface{ Scan(...any) error }) (localstore.TargetData, error) {
	var (
		targetID                      int32
		purpose                       uint8
		queryJSON                     string
		snapshotSecs, limboFreeSecs   int64
		snapshotNanos, limboFreeNanos int32
		resumeToken                   []byte
		sequenceNumber                int64
	)

	if err := row.Scan(&targetID, &purpose, &queryJSON, &snapshotSecs, &snapshotNanos, &limboFreeSecs, &limboFreeNanos, &resumeToken, &sequenceNumber); err != nil {
		return localstore.TargetData{}, err
	}

	query, err := decodeQuery(queryJSON)
	if err != nil {
		return localstore.TargetData{}, err
	}

	return localstore.TargetData{
		Target:                       query,
		TargetID:                     targetID,
		Purpose:                      localstore.TargetPurpose(purpose),
		SnapshotVersion:              localstore.SnapshotVersion{Seconds: snapshotSecs, Nanos: snapshotNanos},
		LastLimboFreeSnapshotVersion: localstore.SnapshotVersion{Seconds: limboFreeSecs, Nanos: limboFreeNanos},
		ResumeToken:                  resumeToken,
		SequenceNumber:               sequenceNumber,
	}, nil
}

func (c *targetCache) upsert(data localstore.TargetData) error {
	queryJSON, err := encodeQuery(data.Target)
	if err != nil {
		return fmt.Errorf("target cache upsert: %w", err)
	}

	_, err = c.tx.Exec(
		`INSERT INTO targets (target_id, purpose, query, snapshot_seconds, snapshot_nanos, limbo_free_seconds, limbo_free_nanos, resume_token, sequence_number)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(target_id) DO UPDATE SET
		   purpose=excluded.purpose, query=excluded.query,
		   snapshot_seconds=excluded.snapshot_seconds, snapshot_nanos=excluded.snapshot_nanos,
		   limbo_free_seconds=excluded.limbo_free_seconds, limbo_free_nanos=excluded.limbo_free_nanos,
		   resume_token=excluded.resume_token, sequence_number=excluded.sequence_number`,
		data.TargetID, uint8(data.Purpose), queryJSON,
		data.SnapshotVersion.Seconds, data.SnapshotVersion.Nanos,
		data.LastLimboFreeSnapshotVersion.Seconds, data.LastLimboFreeSnapshotVersion.Nanos,
		data.ResumeToken, data.SequenceNumber,
	)
	if err != nil {
		return fmt.Errorf("target cache upsert: %w", err)
	}

	return nil
}

func (c *targetCache) AddTargetData(_ localstore.Transaction, data localstore.TargetData) error {
	return c.upsert(data)
}

func (c *targetCache) UpdateTargetData(_ localstore.Transaction, data localstore.TargetData) error {
	return c.upsert(data)
}

func (c *targetCache) RemoveTargetData(_ localstore.Transaction, targetID int32) error {
	if _, err := c.tx.Exec(`DELETE FROM targets WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("remove target data: %w", err)
	}

	if _, err := c.tx.Exec(`DELETE FROM target_documents WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("remove target data: matching keys: %w", err)
	}

	return nil
}

func (c *targetCache) GetTargetData(_ localstore.Transaction, target localstore.Query) (localstore.TargetData, bool, error) {
	rows, err := c.tx.Query(
		`SELECT target_id, purpose, query, snapshot_seconds, snapshot_nanos, limbo_free_seconds, limbo_free_nanos, resume_token, sequence_number FROM targets`,
	)
	if err != nil {
		return localstore.TargetData{}, false, fmt.Errorf("get target data: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		data, err := scanTargetData(rows)
		if err != nil {
			return localstore.TargetData{}, false, fmt.Errorf("get target data: %w", err)
		}

		if queriesEqual(data.Target, target) {
			return data, true, nil
		}
	}

	return localstore.TargetData{}, false, rows.Err()
}

func (c *targetCache) GetTargetDataByID(_ localstore.Transaction, targetID int32) (localstore.TargetData, bool, error) {
	row := c.tx.QueryRow(
		`SELECT target_id, purpose, query, snapshot_seconds, snapshot_nanos, limbo_free_seconds, limbo_free_nanos, resume_token, sequence_number FROM targets WHERE target_id = ?`,
		targetID,
	)

	data, err := scanTargetData(row)
	if err == sql.ErrNoRows {
		return localstore.TargetData{}, false, nil
	}

	if err != nil {
		return localstore.TargetData{}, false, fmt.Errorf("get target data by id: %w", err)
	}

	return data, true, nil
}

func (c *targetCache) AddMatchingKeys(_ localstore.Transaction, keys []localstore.DocumentKey, targetID int32) error {
	for _, key := range keys {
		if _, err := c.tx.Exec(`INSERT OR IGNORE INTO target_documents (target_id, doc_key) VALUES (?, ?)`, targetID, key.Path()); err != nil {
			return fmt.Errorf("add matching keys: %w", err)
		}
	}

	return nil
}

func (c *targetCache) RemoveMatchingKeys(_ localstore.Transaction, keys []localstore.DocumentKey, targetID int32) error {
	for _, key := range keys {
		if _, err := c.tx.Exec(`DELETE FROM target_documents WHERE target_id = ? AND doc_key = ?`, targetID, key.Path()); err != nil {
			return fmt.Errorf("remove matching keys: %w", err)
		}
	}

	return nil
}

func (c *targetCache) GetMatchingKeys(_ localstore.Transaction, targetID int32) ([]localstore.DocumentKey, error) {
	rows, err := c.tx.Query(`SELECT doc_key FROM target_documents WHERE target_id = ?`, targetID)
	if err != nil {
		return nil, fmt.Errorf("get matching keys: %w", err)
	}
	defer rows.Close()

	var out []localstore.DocumentKey

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("get matching keys: %w", err)
		}

		key, err := localstore.NewDocumentKey(path)
		if err != nil {
			return nil, fmt.Errorf("get matching keys: %w", err)
		}

		out = append(out, key)
	}

	return out, rows.Err()
}

func (c *targetCache) ContainsKey(_ localstore.Transaction, key localstore.DocumentKey) (bool, error) {
	var count int

	err := c.tx.QueryRow(`SELECT COUNT(*) FROM target_documents WHERE doc_key = ?`, key.Path()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("contains key: %w", err)
	}

	return count > 0, nil
}

func (c *targetCache) HighestTargetID(_ localstore.Transaction) (int32, error) {
	var id sql.NullInt64

	if err := c.tx.QueryRow(`SELECT MAX(target_id) FROM targets`).Scan(&id); err != nil {
		return 0, fmt.Errorf("highest target id: %w", err)
	}

	if !id.Valid {
		return 0, nil
	}

	return int32(id.Int64), nil
}

func (c *targetCache) HighestSequenceNumber(_ localstore.Transaction) (int64, error) {
	var value string

	err := c.tx.QueryRow(`SELECT value FROM store_meta WHERE key = 'highest_sequence_number'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("highest sequence number: %w", err)
	}

	var n int64
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return 0, fmt.Errorf("highest sequence number: %w", err)
	}

	return n, nil
}

func (c *targetCache) TargetCount(_ localstore.Transaction) (int, error) {
	var n int

	if err := c.tx.QueryRow(`SELECT COUNT(*) FROM targets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("target count: %w", err)
	}

	return n, nil
}

func (c *targetCache) GetLastRemoteSnapshotVersion(_ localstore.Transaction) (localstore.SnapshotVersion, error) {
	var secs, nanos sql.NullInt64

	err := c.tx.QueryRow(`SELECT value FROM store_meta WHERE key = 'last_snapshot_seconds'`).Scan(&secs)
	if err != nil && err != sql.ErrNoRows {
		return localstore.SnapshotVersion{}, fmt.Errorf("get last remote snapshot version: %w", err)
	}

	err = c.tx.QueryRow(`SELECT value FROM store_meta WHERE key = 'last_snapshot_nanos'`).Scan(&nanos)
	if err != nil && err != sql.ErrNoRows {
		return localstore.SnapshotVersion{}, fmt.Errorf("get last remote snapshot version: %w", err)
	}

	return localstore.SnapshotVersion{Seconds: secs.Int64, Nanos: int32(nanos.Int64)}, nil
}

func (c *targetCache) SetTargetsMetadata(tx localstore.Transaction, sequenceNumber int64, version localstore.SnapshotVersion) error {
	highest, err := c.HighestSequenceNumber(tx)
	if err != nil {
		return fmt.Errorf("set targets metadata: %w", err)
	}

	if sequenceNumber > highest {
		highest = sequenceNumber
	}

	stmts := [][2]any{
		{"last_snapshot_seconds", version.Seconds},
		{"last_snapshot_nanos", version.Nanos},
		{"highest_sequence_number", highest},
	}

	for _, kv := range stmts {
		if _, err := c.tx.Exec(
			`INSERT INTO store_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
			kv[0], fmt.Sprintf("%v", kv[1]),
		); err != nil {
			return fmt.Errorf("set targets metadata: %w", err)
		}
	}

	return nil
}

// queriesEqual compares two Query values field-by-field since Query carries
// slices and is not comparable with ==.
func queriesEqual(a, b localstore.Query) bool {
	if a.Path != b.Path || a.CollectionGroup != b.CollectionGroup || a.Limit != b.Limit {
		return false
	}

	if len(a.Filters) != len(b.Filters) || len(a.OrderBy) != len(b.OrderBy) {
		return false
	}

	for i := range a.Filters {
		if a.Filters[i] != b.Filters[i] {
			return false
		}
	}

	for i := range a.OrderBy {
		if a.OrderBy[i] != b.OrderBy[i] {
			return false
		}
	}

	return true
}
