package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "boxoffice/pkg/platform/audit"
	txcontext "boxoffice/pkg/platform/tx"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.Append(ctx, audit.Event{Action: string(audit.EventOrderReserved), Subject: "o1"}))
	require.NoError(t, s.Append(ctx, audit.Event{Action: string(audit.EventOrderPaid), Subject: "o1"}))
	require.NoError(t, s.Append(ctx, audit.Event{Action: string(audit.EventOrderReserved), Subject: "o2"}))

	bySubject, err := s.ListBySubject(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, bySubject, 2)

	byAction, err := s.ListByAction(ctx, audit.EventOrderReserved)
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	t.Run("checkpoint rolls back later appends", func(t *testing.T) {
		restore := s.Checkpoint()
		require.NoError(t, s.Append(txcontext.WithMemoryUnit(ctx), audit.Event{Action: string(audit.EventOrderExpired), Subject: "o2"}))
		restore()

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("checkpoint keeps appends made outside the unit of work", func(t *testing.T) {
		restore := s.Checkpoint()
		require.NoError(t, s.Append(txcontext.WithMemoryUnit(ctx), audit.Event{Action: string(audit.EventOrderExpired), Subject: "o2"}))
		require.NoError(t, s.Append(ctx, audit.Event{Action: string(audit.EventCallbackRejected), Subject: "203.0.113.7"}))
		restore()

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, string(audit.EventCallbackRejected), all[3].Action)
	})

	s.Clear()
	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
