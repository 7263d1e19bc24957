package security

import (
	"sync"

	audit "boxoffice/pkg/platform/audit"
)

// backlog holds pending security events up to a fixed size. Pushing onto a
// full backlog evicts the oldest event.
type backlog struct {
	mu      sync.Mutex
	pending []audit.Event
	start   int
	size    int
	limit   int
	evicted int64
}

func newBacklog(limit int) *backlog {
	if limit <= 0 {
		limit = defaultBufferSize
	}
	return &backlog{pending: make([]audit.Event, limit), limit: limit}
}

// push appends event and reports the backlog length afterwards.
func (b *backlog) push(event audit.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == b.limit {
		b.start = (b.start + 1) % b.limit
		b.size--
		b.evicted++
	}
	b.pending[(b.start+b.size)%b.limit] = event
	b.size++
	return b.size
}

// take removes up to max events, oldest first.
func (b *backlog) take(max int) []audit.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(max, b.size)
	if n <= 0 {
		return nil
	}
	out := make([]audit.Event, n)
	for i := range n {
		slot := (b.start + i) % b.limit
		out[i] = b.pending[slot]
		b.pending[slot] = audit.Event{}
	}
	b.start = (b.start + n) % b.limit
	b.size -= n
	return out
}

func (b *backlog) dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
