package metadata

import (
	"net"
	"net/http"
	"strings"

	"boxoffice/pkg/requestcontext"
)

// ClientMetadata resolves the caller's IP and stores it in the context.
// trustedHops is the number of proxies in front of the service that append to
// X-Forwarded-For; zero ignores forwarding headers entirely.
func ClientMetadata(trustedHops int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromRequest(r, trustedHops)
			ctx := requestcontext.WithClientIP(r.Context(), ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest extracts the client IP. Proxies append the peer they
// saw to the right of X-Forwarded-For, and everything left of the trusted hops
// is caller-controlled, so the client is the entry trustedHops from the right.
func ClientIPFromRequest(r *http.Request, trustedHops int) string {
	if trustedHops > 0 {
		if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
			if len(hops) < trustedHops {
				// Every entry came from a trusted proxy.
				return hops[0]
			}
			return hops[len(hops)-trustedHops]
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedHops flattens repeated X-Forwarded-For headers, oldest hop first.
func forwardedHops(headers []string) []string {
	var hops []string
	for _, h := range headers {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}
