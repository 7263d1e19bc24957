package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"boxoffice/internal/payment/callback"
	"boxoffice/internal/payment/metrics"
	reconciliation "boxoffice/internal/reconciliation/service"
	dErrors "boxoffice/pkg/domain-errors"
	"boxoffice/pkg/platform/httputil"
	"boxoffice/pkg/requestcontext"
)

// maxCallbackBytes bounds a provider callback body. Real STK results are well
// under 2KB.
const maxCallbackBytes = 64 << 10

// Gateway authenticates and normalizes inbound callbacks.
type Gateway interface {
	Validate(ctx context.Context, raw callback.RawCallback) (*callback.NormalizedCallback, *callback.Rejection)
}

// Reconciler applies a validated callback to the order ledger.
type Reconciler interface {
	Apply(ctx context.Context, cb callback.NormalizedCallback) (*reconciliation.Result, error)
}

// Acknowledgment is the only body the provider ever receives. Answering
// anything else makes the provider retry, and a retry cannot fix a rejection.
type Acknowledgment struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var accepted = Acknowledgment{ResultCode: 0, ResultDesc: "Accepted"}

// Handler receives payment provider webhooks.
type Handler struct {
	gateway    Gateway
	reconciler Reconciler
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func New(gateway Gateway, reconciler Reconciler, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		gateway:    gateway,
		reconciler: reconciler,
		logger:     logger,
		metrics:    metrics,
	}
}

// Register mounts the callback endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/payments/callback/{secret}", h.HandleCallback)
}

// HandleCallback handles POST /payments/callback/{secret}. The response is
// always 200 with the acknowledgment; outcomes are logged, counted and audited.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	// Processing outlives a provider that hangs up; the unit of work has its
	// own timeout.
	ctx := context.WithoutCancel(r.Context())
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	defer httputil.WriteJSON(w, http.StatusOK, accepted)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read callback body",
			"request_id", requestID,
			"error", err,
		)
		return
	}

	cb, rejection := h.gateway.Validate(ctx, callback.RawCallback{
		RemoteIP:   requestcontext.ClientIP(ctx),
		PathSecret: chi.URLParam(r, "secret"),
		Body:       body,
	})
	if rejection != nil {
		return
	}

	result, err := h.reconciler.Apply(ctx, *cb)
	if err != nil {
		level := slog.LevelError
		if dErrors.HasCode(err, dErrors.CodeOrderNotFound) || dErrors.HasCode(err, dErrors.CodeConflict) ||
			dErrors.HasCode(err, dErrors.CodeLateConfirmationConflict) {
			// Already escalated by reconciliation.
			level = slog.LevelWarn
		}
		h.logger.Log(ctx, level, "callback not applied",
			"request_id", requestID,
			"correlation_token", cb.CorrelationToken,
			"receipt_id", cb.ReceiptID,
			"error_code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		return
	}

	h.logger.InfoContext(ctx, "callback processed",
		"request_id", requestID,
		"correlation_token", cb.CorrelationToken,
		"outcome", string(result.Outcome),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
