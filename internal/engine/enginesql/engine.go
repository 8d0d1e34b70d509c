// Package enginesql is the SQLite-backed localstore.Persistence
// implementation: one database file holds every collection, opened in
// WAL journal mode so SQLite's own transaction log supplies the
// crash-atomicity the teacher's repo hand-rolls with a bespoke
// application-level WAL (internal/store/wal.go) — unneeded here because
// nothing in this store lives outside the database.
package enginesql

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/syncdoc/localstore/internal/logx"
	"github.com/syncdoc/localstore/localstore"
)

// EngineOptions configures [Open].
type EngineOptions struct {
	// MaxRetries bounds how many times RunTransaction retries a transaction
	// that fails with SQLITE_BUSY or SQLITE_LOCKED. Once the budget is spent
	// RunTransaction returns the last error wrapped as "exhausted retries";
	// that error is not a localstore Retryable error. The bound exists only
	// to avoid spinning forever under sustained external contention, e.g.
	// another process holding the write lock for an unusually long time.
	MaxRetries int
	// LockTimeout bounds acquisition of the advisory file lock that Open
	// holds while it opens the database and applies the schema.
	LockTimeout time.Duration
}

// DefaultEngineOptions mirrors the teacher's LockTimeout default
// (lock.go's LockTimeout) and caps retries generously since SQLITE_BUSY
// under WAL mode is expected to be transient.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{MaxRetries: 10, LockTimeout: 5 * time.Second}
}

// Engine is the SQLite-backed localstore.Persistence implementation.
type Engine struct {
	db                *sql.DB
	opts              EngineOptions
	referenceDelegate *referenceDelegate
	log               *logx.Logger
}

// Open creates (if needed) and opens the SQLite database at path, applies
// the schema, and returns a ready Engine.
func Open(path string, opts EngineOptions) (*Engine, error) {
	if opts.MaxRetries <= 0 {
		opts = DefaultEngineOptions()
	}

	lock, err := acquireLockWithTimeout(path, opts.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("enginesql.open: %w", err)
	}
	defer lock.release()

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("enginesql.open: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enginesql.open: %w", err)
	}

	e := &Engine{db: db, opts: opts, log: logx.New("enginesql")}
	e.referenceDelegate = &referenceDelegate{engine: e}

	return e, nil
}

func applySchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS remote_documents (
	doc_key TEXT PRIMARY KEY,
	kind INTEGER NOT NULL,
	version_seconds INTEGER NOT NULL,
	version_nanos INTEGER NOT NULL,
	fields TEXT NOT NULL,
	read_seconds INTEGER NOT NULL,
	read_nanos INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS mutation_batches (
	batch_id INTEGER PRIMARY KEY,
	local_write_time INTEGER NOT NULL,
	base_mutations TEXT NOT NULL,
	mutations TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS targets (
	target_id INTEGER PRIMARY KEY,
	purpose INTEGER NOT NULL,
	query TEXT NOT NULL,
	snapshot_seconds INTEGER NOT NULL,
	snapshot_nanos INTEGER NOT NULL,
	limbo_free_seconds INTEGER NOT NULL DEFAULT 0,
	limbo_free_nanos INTEGER NOT NULL DEFAULT 0,
	resume_token BLOB,
	sequence_number INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS target_documents (
	target_id INTEGER NOT NULL,
	doc_key TEXT NOT NULL,
	PRIMARY KEY (target_id, doc_key)
);
CREATE TABLE IF NOT EXISTS bundles (
	bundle_id TEXT PRIMARY KEY,
	create_time INTEGER NOT NULL,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS named_queries (
	name TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	read_seconds INTEGER NOT NULL,
	read_nanos INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS store_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS doc_references (
	doc_key TEXT NOT NULL,
	ref_kind INTEGER NOT NULL,
	ref_id INTEGER NOT NULL,
	PRIMARY KEY (doc_key, ref_kind, ref_id)
);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	return nil
}

// sqlTx is the localstore.Transaction handle wrapping a *sql.Tx.
type sqlTx struct {
	mode localstore.TransactionMode
	tx   *sql.Tx
}

func (t *sqlTx) Mode() localstore.TransactionMode { return t.mode }

func isRetryableSqliteError(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED")
}

// RunTransaction opens a serializable database/sql transaction, runs fn,
// and commits on success. A SQLITE_BUSY/SQLITE_LOCKED failure is retried
// with jittered backoff up to opts.MaxRetries, matching the teacher's
// begin/prepare/defer-rollback/commit shape in
// internal/store/wal.go's updateSqliteIndexFromOps, generalized with a
// retry loop since this engine's transactions (unlike the teacher's
// single-writer WAL apply) may race with another process's writer.
func (e *Engine) RunTransaction(ctx context.Context, name string, mode localstore.TransactionMode, fn func(ctx context.Context, txn localstore.Transaction) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 5 * time.Millisecond
			backoff += time.Duration(rand.Intn(5)) * time.Millisecond //nolint:gosec

			select {
			case <-ctx.Done():
				return fmt.Errorf("enginesql.run_transaction %s: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := e.runOnce(ctx, mode, fn)
		if err == nil {
			return nil
		}

		if !isRetryableSqliteError(err) {
			return err
		}

		e.log.Warningf("enginesql.run_transaction", err, logx.F("name", name), logx.F("attempt", attempt))

		lastErr = err
	}

	return fmt.Errorf("enginesql.run_transaction %s: exhausted retries: %w", name, lastErr)
}

func (e *Engine) runOnce(ctx context.Context, mode localstore.TransactionMode, fn func(ctx context.Context, txn localstore.Transaction) error) error {
	sqlOpts := &sql.TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  mode == localstore.TransactionReadOnly,
	}

	dbTx, err := e.db.BeginTx(ctx, sqlOpts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txn := &sqlTx{mode: mode, tx: dbTx}

	if err := fn(ctx, txn); err != nil {
		_ = dbTx.Rollback()

		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (e *Engine) MutationQueue(t localstore.Transaction) localstore.MutationQueue {
	return &mutationQueue{tx: t.(*sqlTx).tx}
}

func (e *Engine) RemoteDocumentCache(t localstore.Transaction) localstore.RemoteDocumentCache {
	return &remoteDocumentCache{tx: t.(*sqlTx).tx}
}

func (e *Engine) TargetCache(t localstore.Transaction) localstore.TargetCache {
	return &targetCache{tx: t.(*sqlTx).tx}
}

func (e *Engine) BundleCache(t localstore.Transaction) localstore.BundleCache {
	return &bundleCache{tx: t.(*sqlTx).tx}
}

func (e *Engine) IndexManager(t localstore.Transaction) localstore.IndexManager {
	return &indexManager{tx: t.(*sqlTx).tx}
}

func (e *Engine) ReferenceDelegate() localstore.ReferenceDelegate { return e.referenceDelegate }

func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("enginesql.shutdown: %w", err)
	}

	return nil
}
