package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	invalid := &pgconn.PgError{Code: "22P02"}
	serialization := fmt.Errorf("update: %w", &pgconn.PgError{Code: "40001"})
	deadlock := &pgconn.PgError{Code: "40P01"}

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(invalid))
	assert.False(t, IsRetryable(invalid))
	assert.True(t, IsRetryable(serialization))
	assert.True(t, IsRetryable(deadlock))
	assert.False(t, IsRetryable(errors.New("plain")))
}
