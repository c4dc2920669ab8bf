package core

import "context"

type contextKey string

const (
	ctxKeyIPAddress contextKey = "requester_ip"
	ctxKeyUserAgent contextKey = "requester_ua"
)

// ContextWithRequester records who started a run; the values end up in run
// history.
func ContextWithRequester(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyIPAddress, ip)
	return context.WithValue(ctx, ctxKeyUserAgent, userAgent)
}

// GetIPAddressFromContext extracts the requester IP address from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// GetUserAgentFromContext extracts the requester User-Agent from context.
func GetUserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
