package testutil

import (
	"net/http"

	"boxoffice/pkg/requestcontext"
)

// WithClientIP adds a resolved client IP to the request context.
// This simulates what the client metadata middleware would do.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
}
