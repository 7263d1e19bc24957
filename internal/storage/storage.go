// Package storage defines the store ports shared by the reservation,
// reconciliation and expiry services and the unit of work that makes a
// multi-store mutation atomic.
package storage

import (
	"context"
	"time"

	invmodels "boxoffice/internal/inventory/models"
	ordmodels "boxoffice/internal/orders/models"
	id "boxoffice/pkg/domain"
)

// InventoryStore owns ticket instances.
type InventoryStore interface {
	CountAvailable(ctx context.Context, categoryID id.CategoryID) (int, error)
	Claim(ctx context.Context, categoryID id.CategoryID, quantity int, orderID id.OrderID, at time.Time) ([]id.TicketID, error)
	ClaimSpecific(ctx context.Context, ticketIDs []id.TicketID, orderID id.OrderID, at time.Time) (bool, error)
	Release(ctx context.Context, ticketIDs []id.TicketID) error
	MarkSold(ctx context.Context, ticketIDs []id.TicketID) error
	Stock(ctx context.Context, categoryID id.CategoryID, capacity int) ([]id.TicketID, error)
	ListByOrder(ctx context.Context, orderID id.OrderID) ([]*invmodels.Ticket, error)
}

// Ledger owns orders and callback records.
type Ledger interface {
	CreateOrder(ctx context.Context, order *ordmodels.Order) error
	UpdateStatus(ctx context.Context, orderID id.OrderID, expected, next ordmodels.Status, at time.Time) (bool, error)
	GetOrder(ctx context.Context, orderID id.OrderID) (*ordmodels.Order, error)
	FindByCorrelationToken(ctx context.Context, token string) (*ordmodels.Order, error)
	RecordCallback(ctx context.Context, record ordmodels.CallbackRecord) (bool, *ordmodels.CallbackRecord, error)
	SetCallbackOutcome(ctx context.Context, key ordmodels.CallbackKey, outcome ordmodels.Outcome) error
	GetCallback(ctx context.Context, key ordmodels.CallbackKey) (*ordmodels.CallbackRecord, error)
	SetLastCallback(ctx context.Context, orderID id.OrderID, receiptID string, resultCode int) error
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]*ordmodels.Order, error)
}

// Stores is what a transaction body sees.
type Stores struct {
	Inventory InventoryStore
	Ledger    Ledger
}

// TxRunner executes fn atomically: every store write made through the ctx and
// Stores handed to fn commits together or not at all.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}

const defaultTxTimeout = 5 * time.Second
