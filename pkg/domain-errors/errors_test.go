package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "store unavailable")

	require.Error(t, err)
	assert.True(t, HasCode(err, CodeUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, CodeInternal, "nothing"))
}

func TestHasCode_OutermostWins(t *testing.T) {
	inner := New(CodeNotFound, "order not found")
	outer := Wrap(inner, CodeInternal, "load order")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.True(t, HasCode(fmt.Errorf("ctx: %w", inner), CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
}

func TestCodeClassification(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.True(t, CodeOutOfStock.IsClientError())
	assert.False(t, CodeInternal.IsClientError())
	assert.True(t, CodeUnavailable.IsRetryable())
	assert.False(t, CodeOutOfStock.IsRetryable())
}
