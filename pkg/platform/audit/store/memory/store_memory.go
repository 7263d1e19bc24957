package memory

import (
	"context"
	"sync"

	audit "boxoffice/pkg/platform/audit"
	txcontext "boxoffice/pkg/platform/tx"
)

// entry remembers whether an event was written inside a unit of work, which
// decides whether a rollback may remove it.
type entry struct {
	seq   uint64
	inTx  bool
	event audit.Event
}

// InMemoryStore keeps audit events in insertion order. Used by tests and the
// in-memory wiring of the server.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []entry
	seq     uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.entries = append(s.entries, entry{seq: s.seq, inTx: txcontext.InMemoryUnit(ctx), event: event})
	return nil
}

// ListBySubject returns events about one aggregate, oldest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.Subject == subject }), nil
}

// ListByAction returns events with the given action, oldest first.
func (s *InMemoryStore) ListByAction(_ context.Context, action audit.AuditEvent) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.Action == string(action) }), nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	return s.filter(func(audit.Event) bool { return true }), nil
}

func (s *InMemoryStore) filter(keep func(audit.Event) bool) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.Event{}
	for _, e := range s.entries {
		if keep(e.event) {
			out = append(out, e.event)
		}
	}
	return out
}

// Checkpoint returns a func that removes events the failed unit of work
// appended after this point. Events written outside it, such as security
// events flushed by the async publisher, are kept.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	mark := s.seq
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		kept := s.entries[:0]
		for _, e := range s.entries {
			if e.seq <= mark || !e.inTx {
				kept = append(kept, e)
			}
		}
		s.entries = kept
	}
}
