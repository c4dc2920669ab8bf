package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx for run history.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithRequester(ctx, clientIP(r), r.UserAgent())
}

// clientIP returns the request's remote address without the port. The
// address has already been rewritten by TrustedRealIP when a trusted proxy
// forwarded the request.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
