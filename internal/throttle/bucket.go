// Package throttle provides an in-process token bucket used to pace
// outbound calls and to back degraded-mode admission checks.
package throttle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sodown4thecause/seobot-sub007/pkg/metrics"
)

// ErrInsufficientCapacity is returned when a request asks for more tokens
// than the bucket can ever hold.
var ErrInsufficientCapacity = errors.New("requested tokens exceed bucket capacity")

// Bucket is a lazily-refilled token bucket. Tokens accrue as a function of
// elapsed time rather than a background timer, so state is fully
// deterministic given "now" and the last refill timestamp.
type Bucket struct {
	mu         sync.Mutex
	name       string
	capacity   float64
	refill     float64
	interval   time.Duration
	tokens     float64
	lastRefill time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBucket constructs a full bucket that refills refillPerInterval tokens
// every interval, capped at capacity. Non-positive capacity, refill or
// interval are clamped to the smallest useful values so wait computation
// never divides by zero.
func NewBucket(name string, capacity, refillPerInterval int, interval time.Duration) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillPerInterval < 1 {
		refillPerInterval = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	b := &Bucket{
		name:       name,
		capacity:   float64(capacity),
		refill:     float64(refillPerInterval),
		interval:   interval,
		tokens:     float64(capacity),
		now:        time.Now,
		sleep:      sleepCtx,
	}
	b.lastRefill = b.now()

	return b
}

// Acquire blocks until n tokens are available, then consumes them. The wait
// is computed from the refill rate rather than polled. Returns early with
// the context error when ctx is cancelled.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if float64(n) > b.capacity {
		return ErrInsufficientCapacity
	}

	start := b.now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		b.refillLocked()

		if b.tokens >= float64(n) {
			b.tokens -= float64(n)
			b.mu.Unlock()
			metrics.RecordThrottleWait(b.name, b.now().Sub(start))
			return nil
		}

		missing := float64(n) - b.tokens
		wait := time.Duration(missing / b.refill * float64(b.interval))
		b.mu.Unlock()

		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Available reports the current whole-token count after a lazy refill.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	return int(b.tokens)
}

// refillLocked adds elapsed/interval * refill tokens, capped at capacity.
// Callers must hold b.mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	b.tokens += float64(elapsed) / float64(b.interval) * b.refill
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
