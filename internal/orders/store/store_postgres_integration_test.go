//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"boxoffice/internal/orders/models"
	"boxoffice/internal/orders/store"
	id "boxoffice/pkg/domain"
	"boxoffice/pkg/platform/sentinel"
	"boxoffice/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "orders", "callback_records")
	s.Require().NoError(err)
}

func newOrder(createdAt time.Time) *models.Order {
	return &models.Order{
		ID:               id.NewOrderID(),
		BuyerID:          id.BuyerID(uuid.New()),
		CategoryID:       id.CategoryID(uuid.New()),
		Quantity:         2,
		TicketIDs:        []id.TicketID{10, 11},
		Status:           models.StatusReserved,
		CorrelationToken: uuid.NewString(),
		CreatedAt:        createdAt.UTC().Truncate(time.Microsecond),
		UpdatedAt:        createdAt.UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	order := newOrder(time.Now())
	s.Require().NoError(s.store.CreateOrder(ctx, order))

	got, err := s.store.FindByCorrelationToken(ctx, order.CorrelationToken)
	s.Require().NoError(err)
	s.Equal(order.ID, got.ID)
	s.Equal(order.TicketIDs, got.TicketIDs)
	s.Equal(models.StatusReserved, got.Status)
	s.Nil(got.LastCallback)

	s.ErrorIs(s.store.CreateOrder(ctx, order), sentinel.ErrConflict)

	_, err = s.store.GetOrder(ctx, id.NewOrderID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentStatusCASHasOneWinner races paid against expired.
func (s *PostgresStoreSuite) TestConcurrentStatusCASHasOneWinner() {
	ctx := context.Background()
	order := newOrder(time.Now())
	s.Require().NoError(s.store.CreateOrder(ctx, order))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, next := range []models.Status{models.StatusPaid, models.StatusExpired, models.StatusFailed} {
		wg.Add(1)
		go func(next models.Status) {
			defer wg.Done()
			ok, err := s.store.UpdateStatus(ctx, order.ID, models.StatusReserved, next, time.Now())
			s.NoError(err)
			if ok {
				wins.Add(1)
			}
		}(next)
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *PostgresStoreSuite) TestRecordCallbackIdempotent() {
	ctx := context.Background()
	record := models.CallbackRecord{
		CorrelationToken: "ws_CO_191220191020363925",
		ReceiptID:        "NLJ7RT61SV",
		PayloadDigest:    "digest",
		ResultCode:       0,
		ProcessedAt:      time.Now().UTC(),
	}
	already, _, err := s.store.RecordCallback(ctx, record)
	s.Require().NoError(err)
	s.False(already)
	s.Require().NoError(s.store.SetCallbackOutcome(ctx, record.Key(), models.OutcomeApplied))

	already, prev, err := s.store.RecordCallback(ctx, record)
	s.Require().NoError(err)
	s.True(already)
	s.Equal(models.OutcomeApplied, prev.Outcome)
}

func (s *PostgresStoreSuite) TestLastCallbackAndExpirable() {
	ctx := context.Background()
	now := time.Now()
	stale := newOrder(now.Add(-time.Hour))
	fresh := newOrder(now)
	s.Require().NoError(s.store.CreateOrder(ctx, stale))
	s.Require().NoError(s.store.CreateOrder(ctx, fresh))
	s.Require().NoError(s.store.SetLastCallback(ctx, fresh.ID, "R9", 1032))

	got, err := s.store.GetOrder(ctx, fresh.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.LastCallback)
	s.Equal(1032, got.LastCallback.ResultCode)

	expirable, err := s.store.ListExpirable(ctx, now.Add(-10*time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(expirable, 1)
	s.Equal(stale.ID, expirable[0].ID)
}
