package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose and drives
// which Kafka topic the outbox relay publishes them to.
type EventCategory string

const (
	// CategoryLifecycle covers routine order transitions (reserved, paid, failed, expired).
	CategoryLifecycle EventCategory = "lifecycle"

	// CategorySecurity covers rejected or suspicious payment callbacks.
	CategorySecurity EventCategory = "security"

	// CategoryCompensation covers money/inventory mismatches that need a refund
	// or manual review. Consumers of this topic drive the compensation workflow.
	CategoryCompensation EventCategory = "compensation"
)

// Severity levels for routing and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// Subject is the aggregate the event is about, usually the order id.
	Subject          string
	CorrelationToken string
	ReceiptID        string
	Reason           string
	Severity         Severity
	RequestID        string
	// SourceIP is set for callback events.
	SourceIP string
}

// Store persists audit events. The postgres implementation writes to the
// transactional outbox and joins the caller's transaction when one is in context.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Order lifecycle
	EventOrderReserved  AuditEvent = "order_reserved"
	EventOrderPaid      AuditEvent = "order_paid"
	EventOrderFailed    AuditEvent = "order_failed"
	EventOrderExpired   AuditEvent = "order_expired"
	EventOrderRecovered AuditEvent = "order_recovered"

	// Callback intake
	EventCallbackRejected      AuditEvent = "callback_rejected"
	EventCallbackDuplicate     AuditEvent = "callback_duplicate"
	EventCallbackOrderNotFound AuditEvent = "callback_order_not_found"

	// Compensation
	EventLateConfirmationConflict AuditEvent = "late_confirmation_conflict"
	EventTerminalOrderConflict    AuditEvent = "terminal_order_conflict"
	EventCallbackUnapplied        AuditEvent = "callback_unapplied"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventOrderReserved:  CategoryLifecycle,
	EventOrderPaid:      CategoryLifecycle,
	EventOrderFailed:    CategoryLifecycle,
	EventOrderExpired:   CategoryLifecycle,
	EventOrderRecovered: CategoryLifecycle,

	EventCallbackRejected:      CategorySecurity,
	EventCallbackDuplicate:     CategorySecurity,
	EventCallbackOrderNotFound: CategorySecurity,

	EventLateConfirmationConflict: CategoryCompensation,
	EventTerminalOrderConflict:    CategoryCompensation,
	EventCallbackUnapplied:        CategoryCompensation,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryLifecycle.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryLifecycle
}

// Topic returns the Kafka topic name for a category under the given prefix.
func (c EventCategory) Topic(prefix string) string {
	if prefix == "" {
		return "boxoffice." + string(c)
	}
	return prefix + "." + string(c)
}

// Topics lists every topic the relay may publish to.
func Topics(prefix string) []string {
	return []string{
		CategoryLifecycle.Topic(prefix),
		CategorySecurity.Topic(prefix),
		CategoryCompensation.Topic(prefix),
	}
}

// Normalize fills derived fields: category from action and a UTC timestamp.
func (e Event) Normalize(now time.Time) Event {
	e.Category = AuditEvent(e.Action).Category()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	return e
}
