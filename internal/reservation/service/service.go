// Package service implements the reservation engine: it claims tickets and
// records the order in one unit of work so a buyer never holds a partial set.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/orders/models"
	"boxoffice/internal/reservation/metrics"
	"boxoffice/internal/storage"
	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
	audit "boxoffice/pkg/platform/audit"
	"boxoffice/pkg/platform/sentinel"
	"boxoffice/pkg/requestcontext"
)

const (
	// DefaultMaxPerOrder applies when neither the caller nor config sets a limit.
	DefaultMaxPerOrder = 10
	// DefaultReservationTimeout is how long a reservation waits for payment.
	DefaultReservationTimeout = 10 * time.Minute
)

// AuditPublisher writes lifecycle events inside the reserve transaction.
// The compliance publisher satisfies it; a failed write aborts the reservation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AvailabilityInvalidator drops cached availability counts after commit.
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, categoryID id.CategoryID)
}

// ReserveRequest asks for Quantity tickets in a category. MaxPerOrder of zero
// means the configured default limit.
type ReserveRequest struct {
	BuyerID     id.BuyerID
	CategoryID  id.CategoryID
	Quantity    int
	MaxPerOrder int
}

// Reservation is a committed order plus the instant it becomes eligible for expiry.
type Reservation struct {
	Order     *models.Order
	ExpiresAt time.Time
}

type Service struct {
	tx             storage.TxRunner
	ledger         storage.Ledger
	auditPublisher AuditPublisher
	invalidator    AvailabilityInvalidator
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	now            func() time.Time
	maxPerOrder    int
	timeout        time.Duration
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

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

func WithInvalidator(inv AvailabilityInvalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDefaultMaxPerOrder sets the limit used when a request carries none.
func WithDefaultMaxPerOrder(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPerOrder = n
		}
	}
}

func WithReservationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(tx storage.TxRunner, ledger storage.Ledger, opts ...Option) *Service {
	s := &Service{
		tx:          tx,
		ledger:      ledger,
		logger:      slog.Default(),
		tracer:      otel.Tracer("boxoffice/reservation"),
		maxPerOrder: DefaultMaxPerOrder,
		timeout:     DefaultReservationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve claims req.Quantity tickets and creates a reserved order holding
// them. Either both writes commit or neither does.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Reserve",
		trace.WithAttributes(
			attribute.String("category_id", req.CategoryID.String()),
			attribute.Int("quantity", req.Quantity),
		))
	defer span.End()

	if err := s.validate(req); err != nil {
		s.incReservation("rejected")
		span.SetStatus(codes.Error, "rejected")
		return nil, err
	}

	now := s.clock(ctx).UTC()
	order := &models.Order{
		ID:               id.NewOrderID(),
		BuyerID:          req.BuyerID,
		CategoryID:       req.CategoryID,
		Quantity:         req.Quantity,
		Status:           models.StatusReserved,
		CorrelationToken: newCorrelationToken(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	start := time.Now()
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		claimed, err := stores.Inventory.Claim(ctx, req.CategoryID, req.Quantity, order.ID, now)
		if err != nil {
			return err
		}
		order.TicketIDs = claimed
		if err := stores.Ledger.CreateOrder(ctx, order); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			Action:           string(audit.EventOrderReserved),
			Subject:          order.ID.String(),
			CorrelationToken: order.CorrelationToken,
			RequestID:        requestcontext.RequestID(ctx),
		})
	})
	s.observeDuration(time.Since(start))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, s.translateReserveError(ctx, req, err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, req.CategoryID)
	}
	s.incReservation("reserved")
	if s.metrics != nil {
		s.metrics.AddTicketsReserved(len(order.TicketIDs))
	}
	s.logAudit(ctx, string(audit.EventOrderReserved),
		"order_id", order.ID.String(),
		"category_id", req.CategoryID.String(),
		"quantity", req.Quantity,
	)

	return &Reservation{Order: order, ExpiresAt: order.ExpiresAt(s.timeout)}, nil
}

// GetOrder loads an order for status polling.
func (s *Service) GetOrder(ctx context.Context, orderID id.OrderID) (*models.Order, error) {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeOrderNotFound, "order not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load order")
	}
	return order, nil
}

// ReservationTimeout reports how long reservations are held.
func (s *Service) ReservationTimeout() time.Duration {
	return s.timeout
}

func (s *Service) validate(req ReserveRequest) error {
	if req.BuyerID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "buyer_id is required")
	}
	if req.CategoryID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "category_id is required")
	}
	if req.Quantity < 1 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be at least 1")
	}
	limit := req.MaxPerOrder
	if limit == 0 {
		limit = s.maxPerOrder
	}
	if limit > 0 && req.Quantity > limit {
		return dErrors.New(dErrors.CodeQuantityExceedsLimit, "quantity exceeds the per-order limit")
	}
	return nil
}

func (s *Service) translateReserveError(ctx context.Context, req ReserveRequest, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrInsufficientInventory):
		s.incReservation("out_of_stock")
		s.logger.InfoContext(ctx, "reservation out of stock",
			"category_id", req.CategoryID.String(),
			"quantity", req.Quantity,
			"request_id", requestcontext.RequestID(ctx),
		)
		return dErrors.New(dErrors.CodeOutOfStock, "not enough tickets available")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		s.incReservation("error")
		return err
	case errors.Is(err, sentinel.ErrUnavailable):
		s.incReservation("error")
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ticket store unavailable")
	default:
		s.incReservation("error")
		s.logger.ErrorContext(ctx, "reservation failed",
			"category_id", req.CategoryID.String(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reserve tickets")
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

// logAudit writes the structured audit log line. The durable record was
// already emitted inside the transaction.
func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}

func (s *Service) incReservation(outcome string) {
	if s.metrics != nil {
		s.metrics.IncReservation(outcome)
	}
}

func (s *Service) observeDuration(d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveReserveDuration(d.Seconds())
	}
}

// newCorrelationToken is handed to the payment provider as the account
// reference and comes back on the callback.
func newCorrelationToken() string {
	return uuid.NewString()
}

// clock prefers an injected clock, then the request time pinned by the HTTP
// middleware.
func (s *Service) clock(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}
