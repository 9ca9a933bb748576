// Package middleware provides the HTTP middleware chain for the admission
// layer: rate limiting, request logging and Prometheus metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sodown4thecause/seobot-sub007/internal/identity"
	"github.com/sodown4thecause/seobot-sub007/internal/ratelimit"
	"github.com/sodown4thecause/seobot-sub007/pkg/metrics"
)

// RateLimitMiddleware enforces a named limit policy on inbound requests.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	log     *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		log:     log,
	}
}

// Enforce returns middleware applying the named policy. Identity is the
// authenticated user when present, else the client IP. Limiter errors fail
// open: admission must not reject traffic because of its own plumbing.
func (m *RateLimitMiddleware) Enforce(policyName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := identity.Key(r)

			decision, err := m.limiter.Check(r.Context(), key, policyName)
			if err != nil {
				m.log.Error("rate limit check failed",
					slog.String("policy", policyName),
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordAdmission(policyName, decision.Allowed)

			if rej := ratelimit.BuildRejection(decision); rej != nil {
				m.log.Warn("request rejected by rate limit",
					slog.String("policy", policyName),
					slog.String("identity", key))
				rej.Write(w)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
