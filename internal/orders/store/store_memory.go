// Package store is the order ledger: orders and callback idempotency records.
package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"boxoffice/internal/orders/models"
	id "boxoffice/pkg/domain"
	"boxoffice/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger in process memory. Returned orders are copies.
type InMemoryStore struct {
	mu        sync.RWMutex
	orders    map[id.OrderID]models.Order
	byToken   map[string]id.OrderID
	callbacks map[models.CallbackKey]models.CallbackRecord
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		orders:    make(map[id.OrderID]models.Order),
		byToken:   make(map[string]id.OrderID),
		callbacks: make(map[models.CallbackKey]models.CallbackRecord),
	}
}

func (s *InMemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byToken[order.CorrelationToken]; exists {
		return sentinel.ErrConflict
	}
	s.orders[order.ID] = cloneOrder(*order)
	s.byToken[order.CorrelationToken] = order.ID
	return nil
}

// UpdateStatus sets next only if the current status is expected.
func (s *InMemoryStore) UpdateStatus(_ context.Context, orderID id.OrderID, expected, next models.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if o.Status != expected {
		return false, nil
	}
	o.Status = next
	o.UpdatedAt = at
	s.orders[orderID] = o
	return true, nil
}

func (s *InMemoryStore) GetOrder(_ context.Context, orderID id.OrderID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *InMemoryStore) FindByCorrelationToken(_ context.Context, token string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderID, ok := s.byToken[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := cloneOrder(s.orders[orderID])
	return &c, nil
}

// RecordCallback inserts the record unless its key exists, in which case the
// stored record is returned with alreadyProcessed set.
func (s *InMemoryStore) RecordCallback(_ context.Context, record models.CallbackRecord) (bool, *models.CallbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.callbacks[record.Key()]; ok {
		return true, &prev, nil
	}
	s.callbacks[record.Key()] = record
	return false, nil, nil
}

func (s *InMemoryStore) SetCallbackOutcome(_ context.Context, key models.CallbackKey, outcome models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.callbacks[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	r.Outcome = outcome
	s.callbacks[key] = r
	return nil
}

func (s *InMemoryStore) GetCallback(_ context.Context, key models.CallbackKey) (*models.CallbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.callbacks[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemoryStore) SetLastCallback(_ context.Context, orderID id.OrderID, receiptID string, resultCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return sentinel.ErrNotFound
	}
	o.LastCallback = &models.LastCallback{ReceiptID: receiptID, ResultCode: resultCode}
	s.orders[orderID] = o
	return nil
}

// ListExpirable returns reserved orders created before cutoff, oldest first.
func (s *InMemoryStore) ListExpirable(_ context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Order
	for _, o := range s.orders {
		if o.Status == models.StatusReserved && o.CreatedAt.Before(cutoff) {
			c := cloneOrder(o)
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Checkpoint snapshots the ledger and returns a func that restores it.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	orders := maps.Clone(s.orders)
	byToken := maps.Clone(s.byToken)
	callbacks := maps.Clone(s.callbacks)
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.orders = orders
		s.byToken = byToken
		s.callbacks = callbacks
	}
}

func cloneOrder(o models.Order) models.Order {
	o.TicketIDs = slices.Clone(o.TicketIDs)
	if o.LastCallback != nil {
		lc := *o.LastCallback
		o.LastCallback = &lc
	}
	return o
}
