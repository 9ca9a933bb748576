package ratelimit

import (
	"context"
	"time"
)

// Store is the counter strategy behind the distributed limiter. The
// distributed implementation coordinates across processes through Redis;
// the local implementation approximates the same windows in memory when
// Redis is unreachable. Selection between them is an explicit construction
// decision, not a per-call nil check.
type Store interface {
	// Incr atomically increments the counter for key, starting the window
	// TTL when the counter is created, and returns the post-increment count
	// plus the window's reset time. The read and the increment must be one
	// atomic round trip.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// counterKey builds the per-identity, per-policy counter key. Distinct
// identities never share a counter.
func counterKey(policy, identity string) string {
	return "ratelimit:" + policy + ":" + identity
}
