// Package breaker implements a per-dependency circuit breaker. One Breaker
// guards exactly one logical dependency; a failure in dependency A must
// never open the breaker for dependency B.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sodown4thecause/seobot-sub007/pkg/metrics"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = 60 * time.Second
)

// ErrOpen is returned when a call is rejected without invoking the wrapped
// operation. Callers can tell "the dependency failed" apart from "we did
// not even try" with errors.Is(err, breaker.ErrOpen).
var ErrOpen = errors.New("circuit breaker is open")

// State is the closed set of breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker wraps an arbitrary operation with three-state failure isolation.
// It holds no data beyond its state fields and performs no I/O itself.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
	probeInFlight        bool

	now func() time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithThreshold overrides the consecutive-failure count that opens the breaker.
func WithThreshold(threshold int) Option {
	return func(b *Breaker) {
		if threshold > 0 {
			b.threshold = threshold
		}
	}
}

// WithCooldown overrides how long the breaker stays open before probing.
func WithCooldown(cooldown time.Duration) Option {
	return func(b *Breaker) {
		if cooldown > 0 {
			b.cooldown = cooldown
		}
	}
}

// New constructs a closed Breaker for the named dependency.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		state:     StateClosed,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Execute runs op under the breaker's admission rules. When the breaker is
// open and the cooldown has not elapsed, op is not invoked and ErrOpen is
// returned. When half-open, a single trial call is allowed through.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if op == nil {
		return nil
	}

	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)

	return err
}

// State reports the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Name reports the dependency this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.cooldown {
			return ErrOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.consecutiveFailures = 0
		b.probeInFlight = true
		return nil
	default: // StateHalfOpen
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}

	if err != nil {
		b.consecutiveSuccesses = 0
		b.consecutiveFailures++
		b.lastFailureAt = b.now()

		switch b.state {
		case StateHalfOpen:
			b.transitionLocked(StateOpen)
		case StateClosed:
			if b.consecutiveFailures >= b.threshold {
				b.transitionLocked(StateOpen)
			}
		}
		return
	}

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++

	if b.state == StateHalfOpen {
		b.transitionLocked(StateClosed)
	}
}

// transitionLocked changes state and reports the transition. Callers must
// hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	metrics.RecordBreakerTransition(b.name, from.String(), to.String(), int(to))
}
