package enginesql

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/syncdoc/localstore/localstore"
)

type mutationQueue struct {
	tx *sql.Tx
}

func (q *mutationQueue) AddMutationBatch(_ localstore.Transaction, _ []int64, baseMutations, mutations []localstore.Mutation) (localstore.MutationBatch, error) {
	baseJSON, err := encodeMutations(baseMutations)
	if err != nil {
		return localstore.MutationBatch{}, fmt.Errorf("add mutation batch: %w", err)
	}

	mutJSON, err := encodeMutations(mutations)
	if err != nil {
		return localstore.MutationBatch{}, fmt.Errorf("add mutation batch: %w", err)
	}

	writeTime := time.Now().UTC()

	res, err := q.tx.Exec(
		`INSERT INTO mutation_batches (local_write_time, base_mutations, mutations) VALUES (?, ?, ?)`,
		writeTime.UnixNano(), baseJSON, mutJSON,
	)
	if err != nil {
		return localstore.MutationBatch{}, fmt.Errorf("add mutation batch: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return localstore.MutationBatch{}, fmt.Errorf("add mutation batch: %w", err)
	}

	batch := localstore.MutationBatch{
		BatchID:        id,
		LocalWriteTime: writeTime,
		BaseMutations:  baseMutations,
		Mutations:      mutations,
	}

	for _, key := range batch.Keys() {
		if _, err := q.tx.Exec(
			`INSERT OR IGNORE INTO doc_references (doc_key, ref_kind, ref_id) VALUES (?, 1, ?)`,
			key.Path(), id,
		); err != nil {
			return localstore.MutationBatch{}, fmt.Errorf("add mutation batch: reference %s: %w", key, err)
		}
	}

	return batch, nil
}

func scanBatch(row interface{ Scan(...any) error }) (localstore.MutationBatch, error) {
	var (
		id         int64
		writeNanos int64
		baseJSON   string
		mutJSON    string
	)

	if err := row.Scan(&id, &writeNanos, &baseJSON, &mutJSON); err != nil {
		return localstore.MutationBatch{}, err
	}

	base, err := decodeMutations(baseJSON)
	if err != nil {
		return localstore.MutationBatch{}, err
	}

	mutations, err := decodeMutations(mutJSON)
	if err != nil {
		return localstore.MutationBatch{}, err
	}

	return localstore.MutationBatch{
		BatchID:        id,
		LocalWriteTime: time.Unix(0, writeNanos).UTC(),
		BaseMutations:  base,
		Mutations:      mutations,
	}, nil
}

func (q *mutationQueue) LookupMutationBatch(_ localstore.Transaction, batchID int64) (localstore.MutationBatch, error) {
	row := q.tx.QueryRow(
		`SELECT batch_id, local_write_time, base_mutations, mutations FROM mutation_batches WHERE batch_id = ?`,
		batchID,
	)

	batch, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return localstore.MutationBatch{}, localstore.ErrBatchNotFound
	}

	if err != nil {
		return localstore.MutationBatch{}, fmt.Errorf("lookup mutation batch: %w", err)
	}

	return batch, nil
}

func (q *mutationQueue) NextMutationBatchAfterBatchID(_ localstore.Transaction, batchID int64) (localstore.MutationBatch, bool, error) {
	row := q.tx.QueryRow(
		`SELECT batch_id, local_write_time, base_mutations, mutations FROM mutation_batches WHERE batch_id > ? ORDER BY batch_id ASC LIMIT 1`,
		batchID,
	)

	batch, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return localstore.MutationBatch{}, false, nil
	}

	if err != nil {
		return localstore.MutationBatch{}, false, fmt.Errorf("next mutation batch: %w", err)
	}

	return batch, true, nil
}

func (q *mutationQueue) AllMutationBatches(_ localstore.Transaction) ([]localstore.MutationBatch, error) {
	rows, err := q.tx.Query(`SELECT batch_id, local_write_time, base_mutations, mutations FROM mutation_batches ORDER BY batch_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("all mutation batches: %w", err)
	}
	defer rows.Close()

	var out []localstore.MutationBatch

	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("all mutation batches: %w", err)
		}

		out = append(out, batch)
	}

	return out, rows.Err()
}

func (q *mutationQueue) AllMutationBatchesAffectingDocumentKey(tx localstore.Transaction, key localstore.DocumentKey) ([]localstore.MutationBatch, error) {
	return q.AllMutationBatchesAffectingDocumentKeys(tx, []localstore.DocumentKey{key})
}

func (q *mutationQueue) AllMutationBatchesAffectingDocumentKeys(_ localstore.Transaction, keys []localstore.DocumentKey) ([]localstore.MutationBatch, error) {
	all, err := q.AllMutationBatches(nil)
	if err != nil {
		return nil, err
	}

	want := make(map[localstore.DocumentKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	var out []localstore.MutationBatch

	for _, b := range all {
		for _, k := range b.Keys() {
			if want[k] {
				out = append(out, b)
				break
			}
		}
	}

	return out, nil
}

func (q *mutationQueue) RemoveMutationBatch(_ localstore.Transaction, batch localstore.MutationBatch) error {
	res, err := q.tx.Exec(`DELETE FROM mutation_batches WHERE batch_id = ?`, batch.BatchID)
	if err != nil {
		return fmt.Errorf("remove mutation batch: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove mutation batch: %w", err)
	}

	if n == 0 {
		return localstore.ErrBatchNotFound
	}

	if _, err := q.tx.Exec(`DELETE FROM doc_references WHERE ref_kind = 1 AND ref_id = ?`, batch.BatchID); err != nil {
		return fmt.Errorf("remove mutation batch: references: %w", err)
	}

	return nil
}

func (q *mutationQueue) HighestUnacknowledgedBatchID(_ localstore.Transaction) (int64, error) {
	var id sql.NullInt64

	err := q.tx.QueryRow(`SELECT MAX(batch_id) FROM mutation_batches`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("highest unacknowledged batch id: %w", err)
	}

	if !id.Valid {
		return -1, nil
	}

	return id.Int64, nil
}

// PerformConsistencyCheck asserts that no batch reference survives once the
// queue has drained, since a lingering reference would pin a document
// against garbage collection forever.
func (q *mutationQueue) PerformConsistencyCheck(_ localstore.Transaction) error {
	var batchCount int

	if err := q.tx.QueryRow(`SELECT COUNT(*) FROM mutation_batches`).Scan(&batchCount); err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}

	if batchCount > 0 {
		return nil
	}

	var refCount int

	if err := q.tx.QueryRow(`SELECT COUNT(*) FROM doc_references WHERE ref_kind = ?`, refKindBatch).Scan(&refCount); err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}

	if refCount > 0 {
		return fmt.Errorf("%d document(s) still have a batch reference with an empty mutation queue", refCount)
	}

	return nil
}
