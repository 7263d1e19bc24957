// Package expiry reclaims tickets from reservations whose payment never
// arrived. Each order is expired in its own unit of work so one failure does
// not hold back the rest of the batch.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"boxoffice/internal/expiry/metrics"
	"boxoffice/internal/orders/models"
	"boxoffice/internal/storage"
	id "boxoffice/pkg/domain"
	audit "boxoffice/pkg/platform/audit"
)

const (
	defaultBatchSize = 100
	defaultTimeout   = 10 * time.Minute
)

// AuditPublisher writes order_expired inside the expiry transaction.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AvailabilityInvalidator drops cached availability counts after commit.
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, categoryID id.CategoryID)
}

// SweepResult counts what one sweep did. Skipped orders lost the status race
// to reconciliation and are not an error.
type SweepResult struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

type Sweeper struct {
	tx             storage.TxRunner
	ledger         storage.Ledger
	auditPublisher AuditPublisher
	invalidator    AvailabilityInvalidator
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
	batchSize      int
	timeout        time.Duration
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Sweeper) {
		s.auditPublisher = p
	}
}

func WithInvalidator(inv AvailabilityInvalidator) Option {
	return func(s *Sweeper) {
		s.invalidator = inv
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTimeout sets the reservation timeout Run sweeps with.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(tx storage.TxRunner, ledger storage.Ledger, opts ...Option) *Sweeper {
	s := &Sweeper{
		tx:        tx,
		ledger:    ledger,
		logger:    slog.Default(),
		now:       time.Now,
		batchSize: defaultBatchSize,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now(), s.timeout); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sweep expires every reserved order created before now-timeout, in batches.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, timeout time.Duration) (SweepResult, error) {
	start := time.Now()
	cutoff := now.Add(-timeout)
	var result SweepResult
	touched := make(map[id.CategoryID]struct{})
	// Failed orders stay reserved and are listed again by the next batch.
	failed := make(map[id.OrderID]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		orders, err := s.ledger.ListExpirable(ctx, cutoff, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("list expirable orders: %w", err)
		}
		progressed := false
		for _, order := range orders {
			if _, seen := failed[order.ID]; seen {
				continue
			}
			result.Scanned++
			expired, err := s.expire(ctx, order, now)
			switch {
			case err != nil:
				failed[order.ID] = struct{}{}
				result.Failed = len(failed)
				s.logger.ErrorContext(ctx, "failed to expire order",
					"order_id", order.ID.String(),
					"error", err,
				)
			case expired:
				result.Expired++
				progressed = true
				touched[order.CategoryID] = struct{}{}
			default:
				result.Skipped++
				progressed = true
			}
		}
		if len(orders) < s.batchSize || !progressed {
			break
		}
	}

	if s.invalidator != nil {
		for categoryID := range touched {
			s.invalidator.Invalidate(ctx, categoryID)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordSweep(result.Expired, result.Skipped, result.Failed,
			time.Since(start).Seconds(), float64(time.Now().Unix()))
	}
	if result.Scanned > 0 {
		s.logger.InfoContext(ctx, "expiry sweep completed",
			"scanned", result.Scanned,
			"expired", result.Expired,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("expiry sweep: %d orders failed", result.Failed)
	}
	return result, nil
}

// expire moves one order reserved -> expired and returns its tickets. It
// reports false when the order already left reserved.
func (s *Sweeper) expire(ctx context.Context, order *models.Order, now time.Time) (bool, error) {
	expired := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		expired = false
		swapped, err := stores.Ledger.UpdateStatus(ctx, order.ID, models.StatusReserved, models.StatusExpired, now)
		if err != nil {
			return fmt.Errorf("expire order: %w", err)
		}
		if !swapped {
			return nil
		}
		if err := stores.Inventory.Release(ctx, order.TicketIDs); err != nil {
			return fmt.Errorf("release tickets: %w", err)
		}
		if s.auditPublisher != nil {
			if err := s.auditPublisher.Emit(ctx, audit.Event{
				Action:           string(audit.EventOrderExpired),
				Subject:          order.ID.String(),
				CorrelationToken: order.CorrelationToken,
			}); err != nil {
				return fmt.Errorf("audit order expiry: %w", err)
			}
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}
