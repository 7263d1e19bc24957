// Package service applies validated payment callbacks to orders and tickets.
//
// Every callback is processed in one unit of work: the idempotency record,
// the order status compare-and-swap, the ticket transition and any escalation
// event commit together. A (correlation token, receipt id) pair is applied at
// most once; replays return the stored outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/orders/models"
	"boxoffice/internal/payment/callback"
	"boxoffice/internal/reconciliation/metrics"
	"boxoffice/internal/storage"
	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
	audit "boxoffice/pkg/platform/audit"
	"boxoffice/pkg/platform/sentinel"
	"boxoffice/pkg/requestcontext"
)

// AuditPublisher writes lifecycle and compensation events inside the
// reconciliation transaction. A failed write aborts the callback.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AvailabilityInvalidator drops cached availability counts after commit.
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, categoryID id.CategoryID)
}

// Result describes what Apply did. Previous is set for duplicates.
type Result struct {
	Outcome  models.Outcome
	OrderID  id.OrderID
	Status   models.Status
	Previous *models.CallbackRecord
}

const (
	defaultRetryInitial = 50 * time.Millisecond
	defaultRetryBudget  = 5 * time.Second
)

// errRecoveryLost aborts a recovery whose expired -> paid swap lost a race.
var errRecoveryLost = errors.New("recovery lost status race")

type Service struct {
	tx                  storage.TxRunner
	auditPublisher      AuditPublisher
	deadLetterPublisher AuditPublisher
	invalidator         AvailabilityInvalidator
	logger              *slog.Logger
	metrics             *metrics.Metrics
	tracer              trace.Tracer
	now                 func() time.Time
	newBackOff          func() backoff.BackOff
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

// WithDeadLetter sets where callbacks go when every retry rolled back. It is
// called outside any transaction.
func WithDeadLetter(p AuditPublisher) Option {
	return func(s *Service) {
		s.deadLetterPublisher = p
	}
}

// WithRetryBackOff sets the policy for rerunning rolled-back callbacks.
func WithRetryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Service) {
		s.newBackOff = newBackOff
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

func New(tx storage.TxRunner, opts ...Option) *Service {
	s := &Service{
		tx:     tx,
		logger: slog.Default(),
		tracer: otel.Tracer("boxoffice/reconciliation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply reconciles one validated callback. For order_not_found and conflict
// outcomes the committed Result is returned together with a coded error:
// order_not_found, late_confirmation_conflict or conflict.
//
// The provider is acknowledged whatever happens here and never redelivers, so
// a unit of work that rolls back on a transient failure is retried in-process.
// A callback still unapplied when retries run out is handed to the dead letter
// publisher as a compensation event.
func (s *Service) Apply(ctx context.Context, cb callback.NormalizedCallback) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "reconciliation.Apply",
		trace.WithAttributes(
			attribute.String("correlation_token", cb.CorrelationToken),
			attribute.Int("result_code", cb.ResultCode),
		))
	defer span.End()

	var (
		result     *Result
		outcomeErr error
		lastErr    error
		attempts   int
	)
	err := backoff.Retry(func() error {
		attempts++
		result, outcomeErr, lastErr = s.applyOnce(ctx, cb)
		err := lastErr
		if err == nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		s.logger.WarnContext(ctx, "callback rolled back, retrying",
			"correlation_token", cb.CorrelationToken,
			"receipt_id", cb.ReceiptID,
			"attempt", attempts,
			"error", err,
		)
		return err
	}, backoff.WithContext(s.retryPolicy(), ctx))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if lastErr != nil && isTransient(lastErr) {
			s.deadLetter(ctx, cb, attempts, lastErr)
			return nil, lastErr
		}
		return nil, err
	}
	if outcomeErr != nil {
		span.SetStatus(codes.Error, string(result.Outcome))
	}
	return result, outcomeErr
}

// applyOnce runs one unit of work. err reports a rolled-back attempt;
// outcomeErr is the coded error of a committed outcome.
func (s *Service) applyOnce(ctx context.Context, cb callback.NormalizedCallback) (*Result, error, error) {
	start := time.Now()
	var (
		result      *Result
		categoryID  id.CategoryID
		invalidate  bool
		outcomeErr  error
		escalations []string
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		// Reset per attempt: a rolled-back body must not leak decisions.
		result, invalidate, outcomeErr, escalations = nil, false, nil, nil

		now := s.clock(ctx).UTC()
		record := models.CallbackRecord{
			CorrelationToken: cb.CorrelationToken,
			ReceiptID:        cb.ReceiptID,
			PayloadDigest:    cb.RawDigest,
			ResultCode:       cb.ResultCode,
			ProcessedAt:      now,
		}
		already, previous, err := stores.Ledger.RecordCallback(ctx, record)
		if err != nil {
			return fmt.Errorf("record callback: %w", err)
		}
		if already {
			result = &Result{Outcome: models.OutcomeDuplicate, Previous: previous}
			return nil
		}

		order, err := stores.Ledger.FindByCorrelationToken(ctx, cb.CorrelationToken)
		if errors.Is(err, sentinel.ErrNotFound) {
			result = &Result{Outcome: models.OutcomeOrderNotFound}
			outcomeErr = dErrors.New(dErrors.CodeOrderNotFound, "no order for correlation token")
			if err := stores.Ledger.SetCallbackOutcome(ctx, record.Key(), models.OutcomeOrderNotFound); err != nil {
				return fmt.Errorf("set callback outcome: %w", err)
			}
			return s.emit(ctx, audit.Event{
				Action:           string(audit.EventCallbackOrderNotFound),
				Subject:          cb.CorrelationToken,
				CorrelationToken: cb.CorrelationToken,
				ReceiptID:        cb.ReceiptID,
				Severity:         audit.SeverityWarning,
			})
		}
		if err != nil {
			return fmt.Errorf("find order: %w", err)
		}
		categoryID = order.CategoryID

		outcome, err := s.transition(ctx, stores, order, cb, now)
		if err != nil {
			return err
		}
		result = outcome.result
		invalidate = outcome.invalidate
		outcomeErr = outcome.err
		if outcome.escalation != "" {
			escalations = append(escalations, outcome.escalation)
		}

		if err := stores.Ledger.SetCallbackOutcome(ctx, record.Key(), result.Outcome); err != nil {
			return fmt.Errorf("set callback outcome: %w", err)
		}
		if result.Outcome == models.OutcomeApplied || result.Outcome == models.OutcomeRecovered {
			if err := stores.Ledger.SetLastCallback(ctx, order.ID, cb.ReceiptID, cb.ResultCode); err != nil {
				return fmt.Errorf("set last callback: %w", err)
			}
		}
		return nil
	})
	s.observeDuration(time.Since(start))
	if err != nil {
		return nil, nil, s.translateError(ctx, cb, err)
	}

	if invalidate && s.invalidator != nil {
		s.invalidator.Invalidate(ctx, categoryID)
	}
	s.incOutcome(result.Outcome)
	for _, kind := range escalations {
		s.incEscalation(kind)
	}
	s.logResult(ctx, cb, result, outcomeErr)
	return result, outcomeErr, nil
}

// isTransient reports a rolled-back attempt that may succeed when rerun. A
// lost recovery race is rerun too: the next attempt sees the new status.
func isTransient(err error) bool {
	return errors.Is(err, errRecoveryLost) || dErrors.CodeOf(err).IsRetryable()
}

func (s *Service) retryPolicy() backoff.BackOff {
	if s.newBackOff != nil {
		return s.newBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitial
	b.MaxInterval = time.Second
	b.MaxElapsedTime = defaultRetryBudget
	return b
}

// deadLetter escalates a callback that could not be applied. The payment may
// have moved money, so it must survive beyond a log line.
func (s *Service) deadLetter(ctx context.Context, cb callback.NormalizedCallback, attempts int, cause error) {
	s.incEscalation("unapplied")
	s.logger.ErrorContext(ctx, "callback unapplied after retries",
		"correlation_token", cb.CorrelationToken,
		"receipt_id", cb.ReceiptID,
		"result_code", cb.ResultCode,
		"attempts", attempts,
		"error", cause,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.deadLetterPublisher == nil {
		return
	}
	event := audit.Event{
		Action:           string(audit.EventCallbackUnapplied),
		Subject:          cb.CorrelationToken,
		CorrelationToken: cb.CorrelationToken,
		ReceiptID:        cb.ReceiptID,
		Reason:           fmt.Sprintf("result_code=%d digest=%s: %s", cb.ResultCode, cb.RawDigest, dErrors.CodeOf(cause)),
		Severity:         audit.SeverityCritical,
		RequestID:        requestcontext.RequestID(ctx),
	}
	// Retries may have ended because ctx was cancelled; the escalation must still land.
	if err := s.deadLetterPublisher.Emit(context.WithoutCancel(ctx), event); err != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: failed to dead-letter callback",
			"correlation_token", cb.CorrelationToken,
			"receipt_id", cb.ReceiptID,
			"error", err,
		)
	}
}

type transitionOutcome struct {
	result     *Result
	invalidate bool
	escalation string
	err        error
}

// transition moves a reserved order to paid or failed. When the order has
// already left reserved it either recovers a late payment or escalates.
func (s *Service) transition(ctx context.Context, stores storage.Stores, order *models.Order, cb callback.NormalizedCallback, now time.Time) (transitionOutcome, error) {
	next := models.StatusFailed
	if cb.Succeeded() {
		next = models.StatusPaid
	}

	if order.Status.CanTransitionTo(next) {
		swapped, err := stores.Ledger.UpdateStatus(ctx, order.ID, models.StatusReserved, next, now)
		if err != nil {
			return transitionOutcome{}, fmt.Errorf("update order status: %w", err)
		}
		if swapped {
			return s.settle(ctx, stores, order, next, cb)
		}
	}

	// The swap was lost or never possible: read what the winner left behind.
	current, err := stores.Ledger.GetOrder(ctx, order.ID)
	if err != nil {
		return transitionOutcome{}, fmt.Errorf("reload order: %w", err)
	}

	if cb.Succeeded() && current.Status.CanRecover() {
		return s.recover(ctx, stores, current, cb, now)
	}
	return s.terminalConflict(ctx, current, cb)
}

func (s *Service) settle(ctx context.Context, stores storage.Stores, order *models.Order, next models.Status, cb callback.NormalizedCallback) (transitionOutcome, error) {
	action := audit.EventOrderPaid
	invalidate := false
	if next == models.StatusPaid {
		if err := stores.Inventory.MarkSold(ctx, order.TicketIDs); err != nil {
			return transitionOutcome{}, fmt.Errorf("mark tickets sold: %w", err)
		}
	} else {
		action = audit.EventOrderFailed
		invalidate = true
		if err := stores.Inventory.Release(ctx, order.TicketIDs); err != nil {
			return transitionOutcome{}, fmt.Errorf("release tickets: %w", err)
		}
	}
	if err := s.emit(ctx, audit.Event{
		Action:           string(action),
		Subject:          order.ID.String(),
		CorrelationToken: cb.CorrelationToken,
		ReceiptID:        cb.ReceiptID,
	}); err != nil {
		return transitionOutcome{}, err
	}
	return transitionOutcome{
		result:     &Result{Outcome: models.OutcomeApplied, OrderID: order.ID, Status: next},
		invalidate: invalidate,
	}, nil
}

// recover completes a payment that arrived after the reservation expired, but
// only if every original ticket is still unclaimed. Otherwise the buyer paid
// for tickets someone else now holds and the payment must be refunded.
func (s *Service) recover(ctx context.Context, stores storage.Stores, order *models.Order, cb callback.NormalizedCallback, now time.Time) (transitionOutcome, error) {
	reclaimed, err := stores.Inventory.ClaimSpecific(ctx, order.TicketIDs, order.ID, now)
	if err != nil {
		return transitionOutcome{}, fmt.Errorf("reclaim tickets: %w", err)
	}
	if !reclaimed {
		if err := s.emit(ctx, audit.Event{
			Action:           string(audit.EventLateConfirmationConflict),
			Subject:          order.ID.String(),
			CorrelationToken: cb.CorrelationToken,
			ReceiptID:        cb.ReceiptID,
			Reason:           "payment confirmed after tickets were reallocated",
			Severity:         audit.SeverityCritical,
		}); err != nil {
			return transitionOutcome{}, err
		}
		return transitionOutcome{
			result:     &Result{Outcome: models.OutcomeConflict, OrderID: order.ID, Status: order.Status},
			escalation: string(audit.EventLateConfirmationConflict),
			err:        dErrors.New(dErrors.CodeLateConfirmationConflict, "payment confirmed after reservation expired and tickets were reallocated"),
		}, nil
	}

	swapped, err := stores.Ledger.UpdateStatus(ctx, order.ID, models.StatusExpired, models.StatusPaid, now)
	if err != nil {
		return transitionOutcome{}, fmt.Errorf("recover order status: %w", err)
	}
	if !swapped {
		return transitionOutcome{}, errRecoveryLost
	}
	if err := stores.Inventory.MarkSold(ctx, order.TicketIDs); err != nil {
		return transitionOutcome{}, fmt.Errorf("mark recovered tickets sold: %w", err)
	}
	if err := s.emit(ctx, audit.Event{
		Action:           string(audit.EventOrderRecovered),
		Subject:          order.ID.String(),
		CorrelationToken: cb.CorrelationToken,
		ReceiptID:        cb.ReceiptID,
		Reason:           "late payment on expired order; original tickets reclaimed",
		Severity:         audit.SeverityWarning,
	}); err != nil {
		return transitionOutcome{}, err
	}
	return transitionOutcome{
		result:     &Result{Outcome: models.OutcomeRecovered, OrderID: order.ID, Status: models.StatusPaid},
		invalidate: true,
	}, nil
}

func (s *Service) terminalConflict(ctx context.Context, order *models.Order, cb callback.NormalizedCallback) (transitionOutcome, error) {
	if err := s.emit(ctx, audit.Event{
		Action:           string(audit.EventTerminalOrderConflict),
		Subject:          order.ID.String(),
		CorrelationToken: cb.CorrelationToken,
		ReceiptID:        cb.ReceiptID,
		Reason:           fmt.Sprintf("result code %d on %s order", cb.ResultCode, order.Status),
		Severity:         audit.SeverityCritical,
	}); err != nil {
		return transitionOutcome{}, err
	}
	return transitionOutcome{
		result:     &Result{Outcome: models.OutcomeConflict, OrderID: order.ID, Status: order.Status},
		escalation: string(audit.EventTerminalOrderConflict),
		err:        dErrors.New(dErrors.CodeConflict, "callback conflicts with order in terminal state "+string(order.Status)),
	}, nil
}

func (s *Service) translateError(ctx context.Context, cb callback.NormalizedCallback, err error) error {
	s.logger.ErrorContext(ctx, "callback reconciliation failed",
		"correlation_token", cb.CorrelationToken,
		"receipt_id", cb.ReceiptID,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	switch {
	case errors.Is(err, errRecoveryLost):
		return dErrors.Wrap(err, dErrors.CodeConflict, "order changed during late confirmation recovery")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "tickets not in expected state")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to apply callback")
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

// logResult reports the committed outcome. Escalations are errors: each one
// means money and inventory disagree until compensation runs.
func (s *Service) logResult(ctx context.Context, cb callback.NormalizedCallback, result *Result, outcomeErr error) {
	args := []any{
		"outcome", string(result.Outcome),
		"correlation_token", cb.CorrelationToken,
		"receipt_id", cb.ReceiptID,
		"result_code", cb.ResultCode,
		"request_id", requestcontext.RequestID(ctx),
	}
	if !result.OrderID.IsNil() {
		args = append(args, "order_id", result.OrderID.String(), "status", string(result.Status))
	}
	switch {
	case result.Outcome == models.OutcomeConflict:
		s.logger.ErrorContext(ctx, "callback escalated", append(args, "error", outcomeErr)...)
	case outcomeErr != nil:
		s.logger.WarnContext(ctx, "callback not applied", append(args, "error", outcomeErr)...)
	case result.Outcome == models.OutcomeDuplicate:
		if result.Previous != nil && result.Previous.PayloadDigest != cb.RawDigest {
			s.logger.WarnContext(ctx, "duplicate callback with different payload", append(args,
				"previous_outcome", string(result.Previous.Outcome),
				"previous_digest", result.Previous.PayloadDigest,
				"digest", cb.RawDigest,
			)...)
			return
		}
		s.logger.DebugContext(ctx, "duplicate callback ignored", args...)
	default:
		s.logger.InfoContext(ctx, "callback applied", append(args, "event", "callback_"+string(result.Outcome), "log_type", "audit")...)
	}
}

func (s *Service) incOutcome(outcome models.Outcome) {
	if s.metrics != nil {
		s.metrics.IncOutcome(string(outcome))
	}
}

func (s *Service) incEscalation(kind string) {
	if s.metrics != nil {
		s.metrics.IncEscalation(kind)
	}
}

func (s *Service) observeDuration(d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveApplyDuration(d.Seconds())
	}
}

// clock prefers an injected clock, then the request time pinned by the HTTP
// middleware.
func (s *Service) clock(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}
