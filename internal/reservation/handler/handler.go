package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"boxoffice/internal/orders/models"
	"boxoffice/internal/reservation/service"
	id "boxoffice/pkg/domain"
	"boxoffice/pkg/platform/httputil"
	"boxoffice/pkg/requestcontext"
)

// Service defines the interface for reservation operations.
type Service interface {
	Reserve(ctx context.Context, req service.ReserveRequest) (*service.Reservation, error)
	GetOrder(ctx context.Context, orderID id.OrderID) (*models.Order, error)
}

// Handler wires reservation and order status endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
	// reserveGuards wrap POST /reservations only, e.g. per-client rate limits.
	reserveGuards []func(http.Handler) http.Handler
}

// New constructs a reservation handler with its dependencies.
func New(service Service, logger *slog.Logger, reserveGuards ...func(http.Handler) http.Handler) *Handler {
	return &Handler{
		service:       service,
		logger:        logger,
		reserveGuards: reserveGuards,
	}
}

// Register mounts reservation endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.With(h.reserveGuards...).Post("/reservations", h.HandleReserve)
	r.Get("/orders/{orderID}", h.HandleGetOrder)
}

// HandleReserve handles POST /reservations.
func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ReserveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Reserve(ctx, service.ReserveRequest{
		BuyerID:    req.ParsedBuyerID(),
		CategoryID: req.ParsedCategoryID(),
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "reservation rejected",
			"request_id", requestID,
			"category_id", req.CategoryID,
			"quantity", req.Quantity,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "reservation created",
		"request_id", requestID,
		"order_id", res.Order.ID.String(),
		"quantity", req.Quantity,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromReservation(res))
}

// HandleGetOrder handles GET /orders/{orderID}.
func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	order, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOrder(order))
}
