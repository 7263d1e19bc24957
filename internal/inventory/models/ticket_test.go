package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "boxoffice/pkg/domain"
)

func TestTicketStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TicketStatus
		allowed  bool
	}{
		{TicketAvailable, TicketReserved, true},
		{TicketAvailable, TicketSold, false},
		{TicketReserved, TicketSold, true},
		{TicketReserved, TicketReleased, true},
		{TicketReleased, TicketAvailable, true},
		{TicketSold, TicketAvailable, false},
		{TicketSold, TicketReserved, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTicket_ReserveAndRelease(t *testing.T) {
	ticket := &Ticket{ID: 1, Status: TicketAvailable}
	orderID := id.NewOrderID()
	now := time.Now()

	ticket.Reserve(orderID, now)
	assert.Equal(t, TicketReserved, ticket.Status)
	assert.Equal(t, orderID, *ticket.OrderID)
	assert.False(t, ticket.IsAvailable())

	ticket.Release()
	assert.True(t, ticket.IsAvailable())
	assert.Nil(t, ticket.OrderID)
	assert.Nil(t, ticket.ReservedAt)
}
