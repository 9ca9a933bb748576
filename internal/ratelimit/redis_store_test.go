package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodown4thecause/seobot-sub007/pkg/redis"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return redis.FromClient(client), mr
}

func TestRedisStore_CountsPerKey(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, time.Second)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, resetAt, err := store.Incr(ctx, "ratelimit:CHAT:user:a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.True(t, resetAt.After(time.Now()))
	}
}

func TestRedisStore_IndependentIdentities(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := store.Incr(ctx, "ratelimit:CHAT:user:a", time.Minute)
		require.NoError(t, err)
	}

	count, _, err := store.Incr(ctx, "ratelimit:CHAT:user:b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "identities must not share counters")
}

func TestRedisStore_WindowExpiryResetsCount(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, time.Second)
	ctx := context.Background()

	_, _, err := store.Incr(ctx, "ratelimit:EXPORT:ip:203.0.113.7", time.Second)
	require.NoError(t, err)

	mr.FastForward(1100 * time.Millisecond)

	count, _, err := store.Incr(ctx, "ratelimit:EXPORT:ip:203.0.113.7", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "counter restarts after the TTL expires")
}

func TestRedisStore_ErrorWhenUnreachable(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, 100*time.Millisecond)

	mr.Close()

	_, _, err := store.Incr(context.Background(), "ratelimit:CHAT:user:a", time.Minute)
	assert.Error(t, err)
}
