package models

import (
	"time"

	id "boxoffice/pkg/domain"
)

// TicketStatus is the lifecycle state of a single sellable ticket.
type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketReserved  TicketStatus = "reserved"
	TicketSold      TicketStatus = "sold"
	// TicketReleased is never persisted: a release returns the ticket to
	// available in the same step and clears its owner.
	TicketReleased TicketStatus = "released"
)

// CanTransitionTo enforces available -> reserved -> sold and the release path
// reserved -> available.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	switch s {
	case TicketAvailable:
		return next == TicketReserved
	case TicketReserved:
		return next == TicketSold || next == TicketReleased || next == TicketAvailable
	case TicketReleased:
		return next == TicketAvailable
	default:
		return false
	}
}

// Ticket is one sellable unit of a category.
//
// Invariants:
//   - OrderID and ReservedAt are set iff Status is reserved or sold
//   - a ticket belongs to at most one non-terminal order at a time
//   - tickets are created in bulk at stocking time and never deleted
type Ticket struct {
	ID         id.TicketID
	CategoryID id.CategoryID
	Status     TicketStatus
	OrderID    *id.OrderID
	ReservedAt *time.Time
}

// IsAvailable reports whether the ticket can be claimed.
func (t *Ticket) IsAvailable() bool {
	return t.Status == TicketAvailable
}

// Reserve assigns the ticket to an order.
func (t *Ticket) Reserve(orderID id.OrderID, at time.Time) {
	t.Status = TicketReserved
	t.OrderID = &orderID
	t.ReservedAt = &at
}

// Release returns the ticket to the pool.
func (t *Ticket) Release() {
	t.Status = TicketAvailable
	t.OrderID = nil
	t.ReservedAt = nil
}

// Availability is the count of claimable tickets in a category.
type Availability struct {
	CategoryID id.CategoryID
	Available  int
}
