// Package domain holds identifier primitives shared across bounded contexts.
//
// Identifiers are distinct named types so an OrderID can never be passed where a
// CategoryID is expected. Parse functions are the trust boundary: they reject
// malformed and nil identifiers with CodeInvalidInput.
package domain

import (
	"strconv"

	"github.com/google/uuid"

	dErrors "boxoffice/pkg/domain-errors"
)

type (
	OrderID    uuid.UUID
	BuyerID    uuid.UUID
	CategoryID uuid.UUID
)

// TicketID is a monotonically assigned sequence number. Claims allocate the
// lowest available ids first so no ticket is skipped indefinitely.
type TicketID int64

func (id OrderID) String() string    { return uuid.UUID(id).String() }
func (id BuyerID) String() string    { return uuid.UUID(id).String() }
func (id CategoryID) String() string { return uuid.UUID(id).String() }
func (id TicketID) String() string   { return strconv.FormatInt(int64(id), 10) }

func (id OrderID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id BuyerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CategoryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewOrderID returns a fresh random order identifier.
func NewOrderID() OrderID {
	return OrderID(uuid.New())
}

func ParseOrderID(s string) (OrderID, error) {
	u, err := parseUUID(s, "order_id")
	return OrderID(u), err
}

func ParseBuyerID(s string) (BuyerID, error) {
	u, err := parseUUID(s, "buyer_id")
	return BuyerID(u), err
}

func ParseCategoryID(s string) (CategoryID, error) {
	u, err := parseUUID(s, "category_id")
	return CategoryID(u), err
}

func ParseTicketID(s string) (TicketID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "ticket_id must be a positive integer")
	}
	return TicketID(n), nil
}

// TicketIDsToInt64 converts ids for drivers that only understand builtin types.
func TicketIDsToInt64(ids []TicketID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be nil")
	}
	return u, nil
}
