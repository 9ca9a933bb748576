// Package identity derives the stable key a rate limit is enforced against.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// proxy headers in priority order; the first non-empty value wins.
var ipHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
}

// userIDKey marks the context slot where authentication middleware stores
// the resolved caller id.
type userIDKey struct{}

// WithUserID stores an authenticated caller identifier in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated caller id, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok {
		return id
	}

	return ""
}

// ClientIP extracts the caller's IP address. X-Forwarded-For is a
// comma-separated chain; the first hop is the originating client.
func ClientIP(r *http.Request) string {
	for _, header := range ipHeaders {
		value := strings.TrimSpace(r.Header.Get(header))
		if value == "" {
			continue
		}

		if header == "X-Forwarded-For" {
			if first, _, found := strings.Cut(value, ","); found {
				value = first
			}
		}

		return strings.TrimSpace(value)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Key resolves the rate-limit identity for a request. An authenticated user
// id takes precedence over the client IP so limits follow the account, not
// the network path.
func Key(r *http.Request) string {
	if userID := UserIDFromContext(r.Context()); userID != "" {
		return "user:" + userID
	}

	return "ip:" + ClientIP(r)
}
