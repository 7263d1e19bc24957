package handler

import (
	"time"

	"boxoffice/internal/orders/models"
	"boxoffice/internal/reservation/service"
)

// ReservationResponse is returned by POST /reservations.
type ReservationResponse struct {
	OrderID          string    `json:"order_id"`
	CorrelationToken string    `json:"correlation_token"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// OrderResponse is returned by GET /orders/{orderID}.
type OrderResponse struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	Quantity  int       `json:"quantity"`
	TicketIDs []int64   `json:"ticket_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func FromReservation(r *service.Reservation) ReservationResponse {
	return ReservationResponse{
		OrderID:          r.Order.ID.String(),
		CorrelationToken: r.Order.CorrelationToken,
		Status:           string(r.Order.Status),
		ExpiresAt:        r.ExpiresAt,
	}
}

func FromOrder(o *models.Order) OrderResponse {
	ticketIDs := make([]int64, len(o.TicketIDs))
	for i, t := range o.TicketIDs {
		ticketIDs[i] = int64(t)
	}
	return OrderResponse{
		OrderID:   o.ID.String(),
		Status:    string(o.Status),
		Quantity:  o.Quantity,
		TicketIDs: ticketIDs,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}
