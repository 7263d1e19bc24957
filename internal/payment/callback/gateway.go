// Package callback authenticates and normalizes inbound payment provider
// webhooks. It decides whether a delivery is trustworthy; it never touches
// orders or tickets.
package callback

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"boxoffice/internal/payment/metrics"
	"boxoffice/pkg/attrs"
	audit "boxoffice/pkg/platform/audit"
	"boxoffice/pkg/requestcontext"
)

// SecurityPublisher records rejected deliveries. The buffered security
// publisher satisfies it; emits never block the webhook.
type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Config carries the provider trust settings.
type Config struct {
	Secret string
	// Allowlist holds exact IPs or CIDR prefixes of the provider's callers.
	Allowlist []string
	// EnforceAllowlist is true in production; sandbox providers call from
	// arbitrary addresses.
	EnforceAllowlist bool
}

// Gateway validates raw callbacks in a fixed order and stops at the first failure:
// source address, path secret, then payload shape.
type Gateway struct {
	secret    []byte
	prefixes  []netip.Prefix
	enforce   bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher SecurityPublisher
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithSecurityPublisher(p SecurityPublisher) Option {
	return func(g *Gateway) {
		g.publisher = p
	}
}

// New parses the allowlist. An enforced empty allowlist or a missing secret is
// a configuration error.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("payment callback secret is required")
	}
	prefixes, err := parseAllowlist(cfg.Allowlist)
	if err != nil {
		return nil, err
	}
	if cfg.EnforceAllowlist && len(prefixes) == 0 {
		return nil, fmt.Errorf("payment callback allowlist is empty")
	}

	g := &Gateway{
		secret:   []byte(cfg.Secret),
		prefixes: prefixes,
		enforce:  cfg.EnforceAllowlist,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Validate returns either a normalized callback or the reason it was refused.
func (g *Gateway) Validate(ctx context.Context, raw RawCallback) (*NormalizedCallback, *Rejection) {
	if g.metrics != nil {
		g.metrics.ObservePayloadSize(len(raw.Body))
	}

	if g.enforce && !g.allowed(raw.RemoteIP) {
		return nil, g.reject(ctx, raw, &Rejection{Reason: ReasonSourceNotAllowed, Detail: raw.RemoteIP})
	}
	if subtle.ConstantTimeCompare([]byte(raw.PathSecret), g.secret) != 1 {
		return nil, g.reject(ctx, raw, &Rejection{Reason: ReasonInvalidSecret})
	}

	cb, rejection := parseEnvelope(raw.Body)
	if rejection != nil {
		return nil, g.reject(ctx, raw, rejection)
	}

	if g.metrics != nil {
		g.metrics.IncAccepted()
	}
	return cb, nil
}

func (g *Gateway) allowed(remoteIP string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(remoteIP))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range g.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (g *Gateway) reject(ctx context.Context, raw RawCallback, rejection *Rejection) *Rejection {
	if g.metrics != nil {
		g.metrics.IncRejected(string(rejection.Reason))
	}
	g.logAudit(ctx, string(audit.EventCallbackRejected),
		"reason", string(rejection.Reason),
		"detail", rejection.Detail,
		"source_ip", raw.RemoteIP,
		"payload_bytes", len(raw.Body),
	)
	return rejection
}

func (g *Gateway) logAudit(ctx context.Context, event string, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if g.logger != nil {
		g.logger.WarnContext(ctx, event, args...)
	}
	if g.publisher == nil {
		return
	}
	sourceIP := attrs.String(attributes, "source_ip")
	subject := sourceIP
	if subject == "" {
		subject = "unknown-source"
	}
	g.publisher.Emit(ctx, audit.Event{
		Action:    event,
		Subject:   subject,
		SourceIP:  sourceIP,
		Reason:    attrs.String(attributes, "reason"),
		Severity:  audit.SeverityWarning,
		RequestID: requestID,
	})
}

func parseAllowlist(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid allowlist prefix %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
