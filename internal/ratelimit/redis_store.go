package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// incrScript increments the counter and arms the window TTL in one atomic
// round trip, so two concurrent requests can never both observe a
// pre-increment count.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// scriptRunner is the subset of the Redis client wrapper used by the store.
// Both the plain and the metrics-instrumented clients satisfy it.
type scriptRunner interface {
	EvalScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
}

// RedisStore is the distributed counter store. Every call carries a bounded
// timeout so a slow Redis degrades to the local fallback instead of
// stalling admission.
type RedisStore struct {
	client  scriptRunner
	timeout time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a RedisStore. callTimeout bounds each round
// trip; zero selects a 500ms default.
func NewRedisStore(client scriptRunner, callTimeout time.Duration) *RedisStore {
	if callTimeout <= 0 {
		callTimeout = 500 * time.Millisecond
	}

	return &RedisStore{
		client:  client,
		timeout: callTimeout,
	}
}

// Incr runs the atomic increment-with-expiry script.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.client.EvalScript(ctx, incrScript, []string{key}, window.Milliseconds())
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate limit incr: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, time.Time{}, errors.New("rate limit incr: unexpected script reply")
	}

	count, ok := values[0].(int64)
	if !ok {
		return 0, time.Time{}, errors.New("rate limit incr: non-integer count")
	}

	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		// PTTL returns -1/-2 when the key lost its expiry; fall back to the
		// full window rather than reporting a reset in the past.
		ttlMs = window.Milliseconds()
	}

	resetAt := time.Now().Add(time.Duration(ttlMs) * time.Millisecond)

	return count, resetAt, nil
}
