package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiterDefaults(t *testing.T) {
	l := New(NewMemoryStore())
	assert.Equal(t, time.Hour, l.Window())
	assert.Equal(t, 10, l.MaxAttempts())
}

func TestLimiterTenthAllowedEleventhDenied(t *testing.T) {
	ck := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), WithClock(ck.Now))
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		ok, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i)
		ck.Advance(time.Minute)
	}

	ok, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, ok)

	// other identifiers are unaffected
	ok, err = l.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterWindowSlides(t *testing.T) {
	ck := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), WithClock(ck.Now), WithMaxAttempts(2), WithWindow(time.Hour))
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	ck.Advance(30 * time.Minute)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)

	// the first attempt ages out after exactly one window
	ck.Advance(30 * time.Minute)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)
}

func TestDeniedAttemptsAreNotRecorded(t *testing.T) {
	ck := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), WithClock(ck.Now), WithMaxAttempts(1))
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		ck.Advance(10 * time.Minute)
		ok, _ = l.Allow(ctx, "k")
		assert.False(t, ok)
	}
	ck.Advance(10*time.Minute + time.Second)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryStoreConcurrent(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Hit(context.Background(), "shared", now, time.Hour, 10)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	for i := 0; i < 3; i++ {
		_, _ = store.Hit(context.Background(), fmt.Sprintf("k%d", i), now, time.Hour, 10)
	}
	assert.Equal(t, 3, store.Len())

	store.Prune(now.Add(2*time.Hour), time.Hour)
	assert.Equal(t, 0, store.Len())
}
