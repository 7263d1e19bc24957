package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"boxoffice/internal/inventory/models"
	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
	"boxoffice/pkg/platform/httputil"
	"boxoffice/pkg/requestcontext"
)

// Service defines the interface for inventory operations.
type Service interface {
	Availability(ctx context.Context, categoryID id.CategoryID) (*models.Availability, error)
	Stock(ctx context.Context, categoryID id.CategoryID, capacity int) ([]id.TicketID, error)
}

// Handler wires category availability and stocking endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
	// stockGuard protects the collaborator-only stocking hook.
	stockGuard func(http.Handler) http.Handler
}

func New(service Service, logger *slog.Logger, stockGuard func(http.Handler) http.Handler) *Handler {
	return &Handler{
		service:    service,
		logger:     logger,
		stockGuard: stockGuard,
	}
}

// Register mounts inventory endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/categories/{categoryID}/availability", h.HandleAvailability)
	r.Group(func(r chi.Router) {
		if h.stockGuard != nil {
			r.Use(h.stockGuard)
		}
		r.Post("/categories/{categoryID}/stock", h.HandleStock)
	})
}

// AvailabilityResponse is returned by GET /categories/{categoryID}/availability.
type AvailabilityResponse struct {
	CategoryID string `json:"category_id"`
	Available  int    `json:"available"`
}

// StockRequest is the body of POST /categories/{categoryID}/stock.
type StockRequest struct {
	Capacity int `json:"capacity"`
}

func (r *StockRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Capacity < 1 {
		return dErrors.New(dErrors.CodeValidation, "capacity must be at least 1")
	}
	return nil
}

// StockResponse is returned by POST /categories/{categoryID}/stock.
type StockResponse struct {
	CategoryID string `json:"category_id"`
	Created    int    `json:"created"`
}

// HandleAvailability handles GET /categories/{categoryID}/availability.
func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	categoryID, err := id.ParseCategoryID(chi.URLParam(r, "categoryID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	availability, err := h.service.Availability(ctx, categoryID)
	if err != nil {
		h.logger.ErrorContext(ctx, "availability lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"category_id", categoryID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AvailabilityResponse{
		CategoryID: availability.CategoryID.String(),
		Available:  availability.Available,
	})
}

// HandleStock handles POST /categories/{categoryID}/stock.
func (h *Handler) HandleStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	categoryID, err := id.ParseCategoryID(chi.URLParam(r, "categoryID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[StockRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.Stock(ctx, categoryID, req.Capacity)
	if err != nil {
		h.logger.ErrorContext(ctx, "category stocking failed",
			"request_id", requestID,
			"category_id", categoryID.String(),
			"capacity", req.Capacity,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, StockResponse{
		CategoryID: categoryID.String(),
		Created:    len(created),
	})
}
