package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "boxoffice/pkg/platform/audit"
	"boxoffice/pkg/platform/audit/store/memory"
)

func TestPublisher_DrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store)

	for range 10 {
		pub.Emit(context.Background(), audit.Event{
			Action:   string(audit.EventCallbackRejected),
			Subject:  "10.0.0.9",
			SourceIP: "10.0.0.9",
		})
	}
	require.NoError(t, pub.Close())

	events, err := store.ListByAction(context.Background(), audit.EventCallbackRejected)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_CloseIsIdempotent(t *testing.T) {
	pub := New(memory.NewInMemoryStore())
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
}

func TestBacklog_EvictsOldestWhenFull(t *testing.T) {
	b := newBacklog(2)
	assert.Equal(t, 1, b.push(audit.Event{Subject: "a"}))
	assert.Equal(t, 2, b.push(audit.Event{Subject: "b"}))
	assert.Equal(t, 2, b.push(audit.Event{Subject: "c"}))
	assert.Equal(t, int64(1), b.dropped())

	batch := b.take(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "b", batch[0].Subject)
	assert.Equal(t, "c", batch[1].Subject)
	assert.Nil(t, b.take(10))
}

func TestBacklog_TakeInBatchesAcrossWrap(t *testing.T) {
	b := newBacklog(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.push(audit.Event{Subject: s})
	}

	first := b.take(2)
	require.Len(t, first, 2)
	assert.Equal(t, "c", first[0].Subject)
	assert.Equal(t, "d", first[1].Subject)
	b.push(audit.Event{Subject: "f"})

	rest := b.take(5)
	require.Len(t, rest, 2)
	assert.Equal(t, "e", rest[0].Subject)
	assert.Equal(t, "f", rest[1].Subject)
}

func TestPublisher_CountsDropsWhenFlooded(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithBufferSize(1), WithFlushInterval(time.Hour))
	// The default batch size exceeds the buffer, so nothing flushes before Close.
	for range 5 {
		pub.Emit(context.Background(), audit.Event{Action: string(audit.EventCallbackRejected), Subject: "x"})
	}
	assert.Equal(t, int64(4), pub.Dropped())
	require.NoError(t, pub.Close())

	events, err := store.ListByAction(context.Background(), audit.EventCallbackRejected)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
