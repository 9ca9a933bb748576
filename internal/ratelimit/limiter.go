package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rateLimitChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Total number of rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	rateLimitStoreErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_store_errors_total",
		Help: "Total number of shared-store errors encountered by the limiter.",
	})
)

func init() {
	prometheus.MustRegister(rateLimitChecksTotal, rateLimitStoreErrorsTotal)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Message   string
}

// Limiter enforces named limit policies per identity, counting through the
// distributed store and degrading to the local one when it is unreachable.
// Admission never fails because the shared store is down.
type Limiter struct {
	primary  Store
	fallback Store
	policies *Policies
	log      *slog.Logger

	degradedOnce sync.Once
}

// NewLimiter constructs a Limiter. primary is the shared store; fallback
// is the process-local approximation used in degraded mode.
func NewLimiter(primary, fallback Store, policies *Policies, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}

	return &Limiter{
		primary:  primary,
		fallback: fallback,
		policies: policies,
		log:      log,
	}
}

// Check increments and tests the counter for (policy, identity). The
// returned Decision is well formed even when the shared store errors; only
// an unknown policy name is a caller error.
func (l *Limiter) Check(ctx context.Context, identity, policyName string) (*Decision, error) {
	policy, ok := l.policies.Get(policyName)
	if !ok {
		return nil, fmt.Errorf("unknown rate limit policy %q", policyName)
	}

	key := counterKey(policy.Name, identity)
	backend := "redis"

	count, resetAt, err := l.primary.Incr(ctx, key, policy.Window)
	if err != nil {
		rateLimitStoreErrorsTotal.Inc()
		l.degradedOnce.Do(func() {
			l.log.Warn("shared rate limit store unreachable, degrading to local counters",
				slog.Any("error", err))
		})

		backend = "fallback"
		count, resetAt, err = l.fallback.Incr(ctx, key, policy.Window)
		if err != nil {
			return nil, fmt.Errorf("fallback rate limit store: %w", err)
		}
	}

	decision := &Decision{
		Allowed:   count <= int64(policy.MaxRequests),
		Limit:     policy.MaxRequests,
		Remaining: remaining(policy.MaxRequests, count),
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.Message = policy.Message
	}

	rateLimitChecksTotal.WithLabelValues(backend, resultLabel(decision.Allowed)).Inc()

	return decision, nil
}

func remaining(limit int, count int64) int {
	left := limit - int(count)
	if left < 0 {
		return 0
	}

	return left
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}

	return "rejected"
}
