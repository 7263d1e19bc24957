// Package middleware limits how often one client may hit buyer-facing
// endpoints. It fails open: a broken window store never blocks a sale.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"boxoffice/internal/ratelimit/metrics"
	"boxoffice/internal/ratelimit/models"
	dErrors "boxoffice/pkg/domain-errors"
	"boxoffice/pkg/platform/httputil"
	"boxoffice/pkg/requestcontext"
)

// Limiter is satisfied by the in-memory and Redis window stores.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	limiter  Limiter
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
	now      func() time.Time
}

type Option func(*Middleware)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(mw *Middleware) {
		mw.disabled = disabled
	}
}

// New limits each client to limit requests per window. A non-positive limit
// disables limiting.
func New(limiter Limiter, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
		now:     time.Now,
	}
	if logger == nil {
		m.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(m)
	}
	if limit <= 0 || limiter == nil {
		m.disabled = true
	}
	if m.disabled {
		m.logger.Info("rate limiting disabled")
	}
	return m
}

// PerClient keys the window by scope and client IP.
func (m *Middleware) PerClient(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.disabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Allow(ctx, scope+":"+ip, m.limit, m.window)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
					"scope", scope,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				if m.metrics != nil {
					m.metrics.IncStoreFailure()
				}
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				if m.metrics != nil {
					m.metrics.IncDecision(scope, "limited")
				}
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"client_ip", ip,
					"request_id", requestcontext.RequestID(ctx),
				)
				retry := result.RetryAfter(m.now())
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited,
					"too many requests, retry in "+retry.String()))
				return
			}
			if m.metrics != nil {
				m.metrics.IncDecision(scope, "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
