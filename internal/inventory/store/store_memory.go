package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"boxoffice/internal/inventory/models"
	id "boxoffice/pkg/domain"
	"boxoffice/pkg/platform/sentinel"
)

// InMemoryStore keeps tickets in process memory for tests and local runs.
// Each method is atomic on its own; multi-step atomicity comes from the
// in-memory unit of work in internal/storage, which serializes transactions and
// restores a Checkpoint on rollback.
type InMemoryStore struct {
	mu         sync.RWMutex
	tickets    map[id.TicketID]models.Ticket
	byCategory map[id.CategoryID][]id.TicketID
	nextID     int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		tickets:    make(map[id.TicketID]models.Ticket),
		byCategory: make(map[id.CategoryID][]id.TicketID),
	}
}

func (s *InMemoryStore) CountAvailable(_ context.Context, categoryID id.CategoryID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ticketID := range s.byCategory[categoryID] {
		if s.tickets[ticketID].Status == models.TicketAvailable {
			n++
		}
	}
	return n, nil
}

// Claim reserves the quantity lowest-id available tickets of the category, or
// none at all.
func (s *InMemoryStore) Claim(_ context.Context, categoryID id.CategoryID, quantity int, orderID id.OrderID, at time.Time) ([]id.TicketID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := make([]id.TicketID, 0, quantity)
	for _, ticketID := range s.byCategory[categoryID] {
		if len(claimed) == quantity {
			break
		}
		if s.tickets[ticketID].Status == models.TicketAvailable {
			claimed = append(claimed, ticketID)
		}
	}
	if len(claimed) < quantity {
		return nil, sentinel.ErrInsufficientInventory
	}
	for _, ticketID := range claimed {
		t := s.tickets[ticketID]
		t.Reserve(orderID, at)
		s.tickets[ticketID] = t
	}
	return claimed, nil
}

// ClaimSpecific reserves exactly the given tickets if every one is available.
func (s *InMemoryStore) ClaimSpecific(_ context.Context, ticketIDs []id.TicketID, orderID id.OrderID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ticketID := range ticketIDs {
		t, ok := s.tickets[ticketID]
		if !ok || !t.IsAvailable() {
			return false, nil
		}
	}
	for _, ticketID := range ticketIDs {
		t := s.tickets[ticketID]
		t.Reserve(orderID, at)
		s.tickets[ticketID] = t
	}
	return true, nil
}

func (s *InMemoryStore) Release(_ context.Context, ticketIDs []id.TicketID) error {
	return s.transition(ticketIDs, models.TicketReleased, func(t *models.Ticket) { t.Release() })
}

func (s *InMemoryStore) MarkSold(_ context.Context, ticketIDs []id.TicketID) error {
	return s.transition(ticketIDs, models.TicketSold, func(t *models.Ticket) { t.Status = models.TicketSold })
}

// transition applies fn to every ticket only if all of them may move to next.
func (s *InMemoryStore) transition(ticketIDs []id.TicketID, next models.TicketStatus, fn func(*models.Ticket)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ticketID := range ticketIDs {
		t, ok := s.tickets[ticketID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if !t.Status.CanTransitionTo(next) {
			return sentinel.ErrInvalidState
		}
	}
	for _, ticketID := range ticketIDs {
		t := s.tickets[ticketID]
		fn(&t)
		s.tickets[ticketID] = t
	}
	return nil
}

// Stock creates capacity new available tickets in the category.
func (s *InMemoryStore) Stock(_ context.Context, categoryID id.CategoryID, capacity int) ([]id.TicketID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := make([]id.TicketID, 0, capacity)
	for range capacity {
		s.nextID++
		ticketID := id.TicketID(s.nextID)
		s.tickets[ticketID] = models.Ticket{
			ID:         ticketID,
			CategoryID: categoryID,
			Status:     models.TicketAvailable,
		}
		s.byCategory[categoryID] = append(s.byCategory[categoryID], ticketID)
		created = append(created, ticketID)
	}
	return created, nil
}

func (s *InMemoryStore) ListByOrder(_ context.Context, orderID id.OrderID) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Ticket
	for _, ids := range s.byCategory {
		for _, ticketID := range ids {
			t := s.tickets[ticketID]
			if t.OrderID != nil && *t.OrderID == orderID {
				out = append(out, &t)
			}
		}
	}
	sortTickets(out)
	return out, nil
}

// Checkpoint snapshots the store and returns a func that restores it.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	tickets := maps.Clone(s.tickets)
	byCategory := make(map[id.CategoryID][]id.TicketID, len(s.byCategory))
	for k, v := range s.byCategory {
		byCategory[k] = append([]id.TicketID(nil), v...)
	}
	nextID := s.nextID
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tickets = tickets
		s.byCategory = byCategory
		s.nextID = nextID
	}
}
