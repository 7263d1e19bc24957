package storage

import (
	"context"
	"database/sql"
	"time"

	"boxoffice/internal/platform/postgres"
	dErrors "boxoffice/pkg/domain-errors"
	txcontext "boxoffice/pkg/platform/tx"
)

// PostgresTx runs each unit of work in one database transaction. The *sql.Tx
// travels in ctx so the postgres stores, and the audit outbox, join it.
type PostgresTx struct {
	db      *sql.DB
	stores  Stores
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB, stores Stores, timeout time.Duration) *PostgresTx {
	return &PostgresTx{db: db, stores: stores, timeout: timeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx, t.stores)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.stores); err != nil {
		// Deadlock victims and serialization failures are safe for the caller
		// to retry as a whole.
		if postgres.IsRetryable(err) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "transaction aborted by concurrent update")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "commit transaction")
	}
	return nil
}
