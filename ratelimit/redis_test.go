package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("ONRAMP_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 13})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client, "onramp:test:"+uuid.NewString()+":")
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		ok, err := store.Hit(ctx, "wallet", now.Add(time.Duration(i)*time.Second), time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := store.Hit(ctx, "wallet", now.Add(5*time.Second), time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Hit(ctx, "wallet", now.Add(61*time.Second), time.Minute, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}
