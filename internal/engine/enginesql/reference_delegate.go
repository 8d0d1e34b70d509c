package enginesql

import (
	"database/sql"
	"fmt"

	"github.com/syncdoc/localstore/localstore"
)

// refKindTarget and refKindBatch tag the ref_kind column of doc_references;
// a target reference and a mutation-batch reference share the table since
// both boil down to "something still needs this key."
const (
	refKindTarget = 0
	refKindBatch  = 1
)

// referenceDelegate is bound to the Engine, not a single transaction, since
// the localstore.Persistence interface vends it once via
// Persistence.ReferenceDelegate() and every call site threads its own
// Transaction through each method.
type referenceDelegate struct {
	engine *Engine
}

func sqlTxOf(t localstore.Transaction) *sql.Tx { return t.(*sqlTx).tx }

func (d *referenceDelegate) OnTransactionStarted() {}

func (d *referenceDelegate) AddReference(t localstore.Transaction, targetID int32, key localstore.DocumentKey) error {
	_, err := sqlTxOf(t).Exec(
		`INSERT OR IGNORE INTO doc_references (doc_key, ref_kind, ref_id) VALUES (?, ?, ?)`,
		key.Path(), refKindTarget, targetID,
	)
	if err != nil {
		return fmt.Errorf("add reference %s: %w", key, err)
	}

	return nil
}

func (d *referenceDelegate) RemoveReference(t localstore.Transaction, targetID int32, key localstore.DocumentKey) error {
	_, err := sqlTxOf(t).Exec(
		`DELETE FROM doc_references WHERE doc_key = ? AND ref_kind = ? AND ref_id = ?`,
		key.Path(), refKindTarget, targetID,
	)
	if err != nil {
		return fmt.Errorf("remove reference %s: %w", key, err)
	}

	return nil
}

func (d *referenceDelegate) RemoveTarget(t localstore.Transaction, targetID int32) error {
	tx := sqlTxOf(t)

	if _, err := tx.Exec(`DELETE FROM doc_references WHERE ref_kind = ? AND ref_id = ?`, refKindTarget, targetID); err != nil {
		return fmt.Errorf("remove target %d: %w", targetID, err)
	}

	if _, err := tx.Exec(`DELETE FROM targets WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("remove target %d: %w", targetID, err)
	}

	if _, err := tx.Exec(`DELETE FROM target_documents WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("remove target %d: %w", targetID, err)
	}

	return nil
}

func (d *referenceDelegate) RemoveMutationReference(t localstore.Transaction, batchID int64, key localstore.DocumentKey) error {
	_, err := sqlTxOf(t).Exec(
		`DELETE FROM doc_references WHERE doc_key = ? AND ref_kind = ? AND ref_id = ?`,
		key.Path(), refKindBatch, batchID,
	)
	if err != nil {
		return fmt.Errorf("remove mutation reference %s: %w", key, err)
	}

	return nil
}

func (d *referenceDelegate) UpdateLimboDocument(_ localstore.Transaction, _ localstore.DocumentKey) error {
	return nil
}

func (d *referenceDelegate) IsReferenced(t localstore.Transaction, key localstore.DocumentKey) (bool, error) {
	var count int

	err := sqlTxOf(t).QueryRow(`SELECT COUNT(*) FROM doc_references WHERE doc_key = ?`, key.Path()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is referenced %s: %w", key, err)
	}

	return count > 0, nil
}

func (d *referenceDelegate) OnTransactionCommitted(_ localstore.Transaction) error { return nil }
