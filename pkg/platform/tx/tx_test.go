package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	_, ok := From(ctx)
	assert.False(t, ok)

	assert.Equal(t, ctx, WithTx(ctx, nil), "nil tx leaves ctx unchanged")

	sqlTx := &sql.Tx{}
	got, ok := From(WithTx(ctx, sqlTx))
	assert.True(t, ok)
	assert.Same(t, sqlTx, got)
}

func TestConnPrefersTransaction(t *testing.T) {
	db := &sql.DB{}
	sqlTx := &sql.Tx{}

	assert.Same(t, db, Conn(context.Background(), db))
	assert.Same(t, sqlTx, Conn(WithTx(context.Background(), sqlTx), db))
}
