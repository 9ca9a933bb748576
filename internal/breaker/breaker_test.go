package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func failingOp(ctx context.Context) error { return errUpstream }

func succeedingOp(ctx context.Context) error { return nil }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Unix(1700000000, 0)
	b := New("test", WithThreshold(threshold), WithCooldown(cooldown))
	b.now = func() time.Time { return now }

	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failingOp), errUpstream)
	}

	assert.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "open breaker must not invoke the operation")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	require.Error(t, b.Execute(ctx, failingOp))
	require.NoError(t, b.Execute(ctx, succeedingOp))
	require.Error(t, b.Execute(ctx, failingOp))
	require.Error(t, b.Execute(ctx, failingOp))

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	require.Error(t, b.Execute(ctx, failingOp))
	require.Equal(t, StateOpen, b.State())

	// Still inside the cooldown: rejected without a probe.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, failingOp), ErrOpen)

	// Cooldown elapsed: one trial call passes and closes the breaker.
	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Execute(ctx, succeedingOp))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	require.Error(t, b.Execute(ctx, failingOp))

	*now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Execute(ctx, failingOp), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	// The failed probe restarts the cooldown.
	assert.ErrorIs(t, b.Execute(ctx, succeedingOp), ErrOpen)
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	*now = now.Add(2 * time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Execute(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	assert.ErrorIs(t, b.Execute(ctx, succeedingOp), ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ConcurrentFailuresDoNotCorruptState(t *testing.T) {
	b := New("concurrent", WithThreshold(5), WithCooldown(time.Minute))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(ctx, failingOp)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, b.State())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(New("serp-api"))
	r.Register(New("llm-provider"))

	assert.NotNil(t, r.Get("serp-api"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, map[string]string{
		"serp-api":     "closed",
		"llm-provider": "closed",
	}, r.States())
}
