package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// txContextKey is an unexported key type to avoid context key collisions,
// grounded directly on integration/database/pg/context.go.
type txContextKey struct{}

// WithTx returns a new context carrying tx, so nested storage calls made
// within a TransactionManager.WithinTransaction closure participate in the
// same database transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext extracts a pgx.Tx previously stored with WithTx.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx, ok
}

// conn is satisfied by both *pgxpool.Pool and pgx.Tx, letting every adapter
// method run against either the pool directly or a transaction pulled from
// ctx without branching on the caller's intent.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// q returns the active transaction from ctx if one was stashed via WithTx,
// otherwise pool itself — the same "check context, fall back to pool"
// pattern integration/database/pg's usage doc demonstrates for repositories.
func q(ctx context.Context, pool *pgxpool.Pool) conn {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return pool
}

// TransactionManager implements storageport.TransactionManager over a
// pgxpool.Pool: it begins a pgx.Tx, stashes it in ctx via WithTx so every
// storageport adapter call made inside fn participates in the same unit of
// work, and commits on success or rolls back on error/panic — the pattern
// integration/database/pg's doc comment demonstrates manually, generalized
// into a reusable decorator-friendly helper for transaction/ to drive.
type TransactionManager struct {
	pool *pgxpool.Pool
}

// NewTransactionManager builds a TransactionManager over pool.
func NewTransactionManager(pool *pgxpool.Pool) *TransactionManager {
	return &TransactionManager{pool: pool}
}

func (m *TransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // safe no-op after Commit

	txCtx := WithTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

var _ storageport.TransactionManager = (*TransactionManager)(nil)
