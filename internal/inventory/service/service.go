// Package service exposes category availability and stocking. Availability is
// read through an optional Redis cache guarded by a circuit breaker; stocking
// and every ticket write go through the storage unit of work.
package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/inventory/metrics"
	"boxoffice/internal/inventory/models"
	"boxoffice/internal/storage"
	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
	"boxoffice/pkg/platform/circuit"
	"boxoffice/pkg/requestcontext"
)

// MaxStockBatch bounds a single stocking call.
const MaxStockBatch = 100_000

// AvailabilityCache is the advisory count cache. RedisCache satisfies it.
type AvailabilityCache interface {
	Get(ctx context.Context, categoryID id.CategoryID) (int, bool, error)
	Set(ctx context.Context, categoryID id.CategoryID, available int) error
	Invalidate(ctx context.Context, categoryIDs ...id.CategoryID) error
}

type Service struct {
	tx        storage.TxRunner
	inventory storage.InventoryStore
	cache     AvailabilityCache
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache enables the availability cache.
func WithCache(cache AvailabilityCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func New(tx storage.TxRunner, inventory storage.InventoryStore, opts ...Option) *Service {
	s := &Service{
		tx:        tx,
		inventory: inventory,
		logger:    slog.Default(),
		tracer:    otel.Tracer("boxoffice/inventory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache != nil && s.breaker == nil {
		s.breaker = circuit.New("availability-cache")
	}
	return s
}

// Availability returns the number of claimable tickets. The count may be
// slightly stale when served from cache.
func (s *Service) Availability(ctx context.Context, categoryID id.CategoryID) (*models.Availability, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Availability",
		trace.WithAttributes(attribute.String("category_id", categoryID.String())))
	defer span.End()

	if n, ok := s.cachedCount(ctx, categoryID); ok {
		return &models.Availability{CategoryID: categoryID, Available: n}, nil
	}

	n, err := s.inventory.CountAvailable(ctx, categoryID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to count available tickets")
	}
	s.storeCount(ctx, categoryID, n)
	return &models.Availability{CategoryID: categoryID, Available: n}, nil
}

// Stock creates capacity new tickets in the category.
func (s *Service) Stock(ctx context.Context, categoryID id.CategoryID, capacity int) ([]id.TicketID, error) {
	if categoryID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "category_id is required")
	}
	if capacity < 1 || capacity > MaxStockBatch {
		return nil, dErrors.New(dErrors.CodeValidation, "capacity must be between 1 and 100000")
	}

	var created []id.TicketID
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		created, err = stores.Inventory.Stock(ctx, categoryID, capacity)
		return err
	})
	if err != nil {
		if dErrors.CodeOf(err) != dErrors.CodeInternal {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to stock category")
	}

	s.Invalidate(ctx, categoryID)
	if s.metrics != nil {
		s.metrics.AddTicketsStocked(len(created))
	}
	s.logger.InfoContext(ctx, "category stocked",
		"category_id", categoryID.String(),
		"created", len(created),
		"request_id", requestcontext.RequestID(ctx),
	)
	return created, nil
}

// Invalidate drops the cached count after a claim or release. Failures are
// logged: the TTL bounds staleness.
func (s *Service) Invalidate(ctx context.Context, categoryID id.CategoryID) {
	if s.cache == nil || !s.breaker.Allow() {
		return
	}
	if err := s.cache.Invalidate(ctx, categoryID); err != nil {
		s.recordCacheFailure(ctx, "invalidate", err)
		return
	}
	s.breaker.RecordSuccess()
}

func (s *Service) cachedCount(ctx context.Context, categoryID id.CategoryID) (int, bool) {
	if s.cache == nil || !s.breaker.Allow() {
		return 0, false
	}
	n, ok, err := s.cache.Get(ctx, categoryID)
	if err != nil {
		s.recordCacheFailure(ctx, "get", err)
		s.incCacheLookup("error")
		return 0, false
	}
	s.breaker.RecordSuccess()
	if !ok {
		s.incCacheLookup("miss")
		return 0, false
	}
	s.incCacheLookup("hit")
	return n, true
}

func (s *Service) storeCount(ctx context.Context, categoryID id.CategoryID, n int) {
	if s.cache == nil || !s.breaker.Allow() {
		return
	}
	if err := s.cache.Set(ctx, categoryID, n); err != nil {
		s.recordCacheFailure(ctx, "set", err)
		return
	}
	s.breaker.RecordSuccess()
}

func (s *Service) recordCacheFailure(ctx context.Context, op string, err error) {
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "availability cache circuit opened", "op", op, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "availability cache error", "op", op, "error", err)
}

func (s *Service) incCacheLookup(result string) {
	if s.metrics != nil {
		s.metrics.IncCacheLookup(result)
	}
}
