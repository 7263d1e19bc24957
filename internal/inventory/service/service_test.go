package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"boxoffice/internal/inventory/store"
	"boxoffice/internal/storage"
	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
	"boxoffice/pkg/platform/circuit"
)

type fakeCache struct {
	counts      map[id.CategoryID]int
	err         error
	gets        int
	invalidated []id.CategoryID
}

func newFakeCache() *fakeCache {
	return &fakeCache{counts: make(map[id.CategoryID]int)}
}

func (c *fakeCache) Get(_ context.Context, categoryID id.CategoryID) (int, bool, error) {
	c.gets++
	if c.err != nil {
		return 0, false, c.err
	}
	n, ok := c.counts[categoryID]
	return n, ok, nil
}

func (c *fakeCache) Set(_ context.Context, categoryID id.CategoryID, n int) error {
	if c.err != nil {
		return c.err
	}
	c.counts[categoryID] = n
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, categoryIDs ...id.CategoryID) error {
	if c.err != nil {
		return c.err
	}
	for _, categoryID := range categoryIDs {
		delete(c.counts, categoryID)
		c.invalidated = append(c.invalidated, categoryID)
	}
	return nil
}

type ServiceSuite struct {
	suite.Suite
	inv      *store.InMemoryStore
	cache    *fakeCache
	service  *Service
	category id.CategoryID
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.inv = store.NewInMemory()
	s.cache = newFakeCache()
	runner := storage.NewMemoryTx(storage.Stores{Inventory: s.inv}, s.inv)
	s.service = New(runner, s.inv,
		WithCache(s.cache),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2))),
	)
	s.category = id.CategoryID(uuid.New())
	s.ctx = context.Background()
}

func (s *ServiceSuite) TestStockThenAvailability() {
	created, err := s.service.Stock(s.ctx, s.category, 3)
	s.Require().NoError(err)
	s.Len(created, 3)
	s.Contains(s.cache.invalidated, s.category)

	got, err := s.service.Availability(s.ctx, s.category)
	s.Require().NoError(err)
	s.Equal(3, got.Available)
	s.Equal(3, s.cache.counts[s.category], "miss populates the cache")
}

func (s *ServiceSuite) TestAvailabilityServedFromCache() {
	s.cache.counts[s.category] = 7

	got, err := s.service.Availability(s.ctx, s.category)
	s.Require().NoError(err)
	s.Equal(7, got.Available)
}

func (s *ServiceSuite) TestCacheFailureFallsBackToStore() {
	_, err := s.service.Stock(s.ctx, s.category, 2)
	s.Require().NoError(err)
	s.cache.err = errors.New("connection refused")

	for range 3 {
		got, err := s.service.Availability(s.ctx, s.category)
		s.Require().NoError(err)
		s.Equal(2, got.Available)
	}
	s.Equal(1, s.cache.gets, "failed get and set open the breaker, later reads skip the cache")
}

func (s *ServiceSuite) TestStockValidation() {
	_, err := s.service.Stock(s.ctx, s.category, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.Stock(s.ctx, id.CategoryID{}, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestWithoutCache() {
	runner := storage.NewMemoryTx(storage.Stores{Inventory: s.inv}, s.inv)
	svc := New(runner, s.inv)
	_, err := svc.Stock(s.ctx, s.category, 1)
	s.Require().NoError(err)

	got, err := svc.Availability(s.ctx, s.category)
	s.Require().NoError(err)
	s.Equal(1, got.Available)
	svc.Invalidate(s.ctx, s.category)
}
