// Package tx carries the active *sql.Tx through context so every postgres
// store touched by one unit of work writes inside the same transaction. The
// in-memory unit of work leaves a marker instead.
package tx

import (
	"context"
	"database/sql"
)

type (
	ctxKey    struct{}
	memoryKey struct{}
)

// Executor is the query surface shared by *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx returns ctx carrying tx. A nil tx leaves ctx unchanged.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tx)
}

// From reports the transaction carried by ctx, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return tx, ok
}

// Conn returns the transaction in ctx, falling back to the pool so reads
// outside a unit of work still work.
func Conn(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

// WithMemoryUnit marks ctx as running inside an in-memory unit of work.
func WithMemoryUnit(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoryKey{}, true)
}

// InMemoryUnit reports whether ctx runs inside an in-memory unit of work.
// Writes made without the marker are outside any transaction and survive a
// rollback.
func InMemoryUnit(ctx context.Context) bool {
	v, _ := ctx.Value(memoryKey{}).(bool)
	return v
}
