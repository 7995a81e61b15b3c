package httpx

import (
	"context"
	"net"
	"net/http"
	"strings"

	"commonground/backend/internal/security"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	clientIPKey
)

// ContextWithIdentity stores the verified caller identity in ctx.
func ContextWithIdentity(ctx context.Context, id security.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the verified caller identity, if any.
func IdentityFromContext(ctx context.Context) (security.Identity, bool) {
	id, ok := ctx.Value(identityKey).(security.Identity)
	return id, ok
}

// CurrentUser returns the verified identity for an authenticated request.
// Handlers behind RequireAuth can rely on ok being true.
func CurrentUser(r *http.Request) (security.Identity, bool) {
	return IdentityFromContext(r.Context())
}

// ContextWithClientIP stores the resolved client IP in ctx.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the client IP recorded by the middleware, or
// "unknown". Shaped to plug straight into audit.IPExtractor.
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// clientIP resolves the request's client IP: first hop of X-Forwarded-For when
// present, otherwise the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
