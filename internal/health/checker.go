// Package health aggregates readiness checks for the service's
// dependencies.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// Checker aggregates health checks for multiple components.
type Checker struct {
	log    *slog.Logger
	checks map[string]Checkable
}

// NewChecker instantiates a Checker with the provided logger.
func NewChecker(log *slog.Logger) *Checker {
	return &Checker{
		log:    log,
		checks: make(map[string]Checkable),
	}
}

// AddCheck registers a checkable component by name.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}
	c.checks[name] = check
}

// Check runs all registered health checks and returns their statuses.
func (c *Checker) Check(ctx context.Context) map[string]string {
	results := make(map[string]string, len(c.checks))

	for name, check := range c.checks {
		if err := check.HealthCheck(ctx); err != nil {
			results[name] = err.Error()
			if c.log != nil {
				c.log.Error("health check failed", slog.String("component", name), slog.Any("error", err))
			}
			continue
		}

		results[name] = "OK"
	}

	return results
}

// Healthy reports whether every registered check passed.
func (c *Checker) Healthy(ctx context.Context) (map[string]string, bool) {
	results := c.Check(ctx)
	for _, status := range results {
		if status != "OK" {
			return results, false
		}
	}

	return results, true
}

// Store abstracts the subset of the instrumented Redis client used for
// round-trip probes.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

const (
	probeKey = "health:probe"
	probeTTL = 10 * time.Second
)

// RedisChecker verifies the shared rate-limit store with a full
// write/read/delete round trip, so a store that accepts connections but
// cannot serve commands still reports unhealthy.
type RedisChecker struct {
	store Store
}

// NewRedisChecker constructs a RedisChecker.
func NewRedisChecker(store Store) *RedisChecker {
	return &RedisChecker{store: store}
}

// HealthCheck writes a probe key, reads it back and deletes it.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("redis store not configured")
	}

	value := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := c.store.Set(ctx, probeKey, value, probeTTL); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}

	got, err := c.store.Get(ctx, probeKey)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if got != value {
		return fmt.Errorf("probe readback mismatch: got %q", got)
	}

	return c.store.Delete(ctx, probeKey)
}

// CheckFunc adapts a plain function into a Checkable.
type CheckFunc func(ctx context.Context) error

// HealthCheck invokes the wrapped function.
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
