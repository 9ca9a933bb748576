package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type localCounter struct {
	count       int64
	windowStart time.Time
	window      time.Duration
}

// LocalStore is the in-process fallback counter store. Windows are fixed
// and reset every window length from the first local hit. It cannot
// coordinate across processes; that weakening is accepted in degraded mode.
type LocalStore struct {
	mu       sync.Mutex
	counters map[string]*localCounter

	now func() time.Time
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore constructs an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		counters: make(map[string]*localCounter),
		now:      time.Now,
	}
}

// Incr bumps the fixed-window counter for key, resetting it when the
// window has elapsed.
func (s *LocalStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || now.Sub(counter.windowStart) >= counter.window {
		counter = &localCounter{windowStart: now, window: window}
		s.counters[key] = counter
	}

	counter.count++

	return counter.count, counter.windowStart.Add(counter.window), nil
}

// Cleanup removes counters whose window expired more than maxAge ago.
func (s *LocalStore) Cleanup(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, counter := range s.counters {
		if counter.windowStart.Add(counter.window).Before(cutoff) {
			delete(s.counters, key)
			removed++
		}
	}

	return removed
}

// Janitor periodically evicts stale local counters. Redis counters expire
// on their own; only the in-memory fallback needs sweeping.
type Janitor struct {
	store    *LocalStore
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewJanitor constructs a Janitor for the given store.
func NewJanitor(store *LocalStore, log *slog.Logger, interval, maxAge time.Duration) *Janitor {
	if log == nil {
		log = slog.Default()
	}

	return &Janitor{
		store:    store,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run sweeps the store until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j.store == nil || j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("rate limit janitor stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			if removed := j.store.Cleanup(j.maxAge); removed > 0 {
				j.log.Info("stale local counters removed", slog.Int("count", removed))
			}
		}
	}
}
