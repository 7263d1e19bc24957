package models

import (
	"time"

	id "boxoffice/pkg/domain"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReserved Status = "reserved"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether no further forward transition exists.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusExpired
}

// CanTransitionTo enforces the forward-only state machine:
// pending -> reserved -> paid | failed | expired.
// The late-confirmation recovery edge expired -> paid is deliberately absent;
// it is only reachable through CanRecover.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusReserved
	case StatusReserved:
		return next == StatusPaid || next == StatusFailed || next == StatusExpired
	default:
		return false
	}
}

// CanRecover reports whether a late successful payment may still complete the
// order by re-claiming its original tickets.
func (s Status) CanRecover() bool {
	return s == StatusExpired
}

// Order is a buyer's claim on a set of tickets pending payment.
//
// Invariants:
//   - len(TicketIDs) == Quantity whenever Status is reserved or paid
//   - CorrelationToken is unique and never changes
//   - orders are retained forever; terminal orders are never mutated except
//     for the audited recovery edge expired -> paid
type Order struct {
	ID               id.OrderID
	BuyerID          id.BuyerID
	CategoryID       id.CategoryID
	Quantity         int
	TicketIDs        []id.TicketID
	Status           Status
	CorrelationToken string
	LastCallback     *LastCallback
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LastCallback identifies the most recent callback applied to an order.
type LastCallback struct {
	ReceiptID  string
	ResultCode int
}

// ExpiresAt is when the reservation becomes eligible for the expiry sweep.
func (o *Order) ExpiresAt(timeout time.Duration) time.Time {
	return o.CreatedAt.Add(timeout)
}

// HasAllTickets reports whether the ticket count matches the quantity.
func (o *Order) HasAllTickets() bool {
	return len(o.TicketIDs) == o.Quantity
}
