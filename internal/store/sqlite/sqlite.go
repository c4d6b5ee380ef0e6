// Package sqlite is the concrete State Store (store.Store) backed by
// modernc.org/sqlite, a pure-Go driver that needs no cgo toolchain. Connection
// setup (WAL journal mode, a busy timeout, foreign keys on) is grounded on the
// teacher's internal/db/db.go pragma block; the query layer itself is
// hand-written database/sql rather than sqlc-generated, since this module has
// no code-generation step.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"colony/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting every CRUD method
// below be written once against an ops value and reused verbatim by the
// non-transactional Store and the transaction-bound txStore.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ops struct {
	q querier
}

// Store is the top-level, non-transactional handle. It owns the *sql.DB pool;
// WithTx opens a real transaction and hands callers a txStore wrapping it.
type Store struct {
	ops
	db *sql.DB
}

// txStore implements store.Store against an in-flight *sql.Tx. Nested WithTx
// calls reuse the same transaction rather than opening a new one, since
// SQLite does not support nested transactions.
type txStore struct {
	ops
	tx *sql.Tx
}

var _ store.Store = (*Store)(nil)
var _ store.Store = (*txStore)(nil)

// Open creates (if needed) the SQLite file at path, applies pragmas, and runs
// the schema. dsn pragmas mirror the teacher's db.go: WAL for concurrent
// readers, a busy_timeout so writer contention blocks instead of erroring,
// and foreign_keys on since the schema relies on them for cleanup ordering.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms under load

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{ops: ops{q: db}, db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn against a Store bound to a single transaction, committing on
// a nil return and rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txStore{ops: ops{q: tx}, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// WithTx on a txStore reuses the already-open transaction; SQLite has no
// nested transactions, and every cascade/expander call here is already
// inside one top-level WithTx from the engine.
func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}
