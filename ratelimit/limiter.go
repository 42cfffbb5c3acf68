// Package ratelimit implements a sliding-window attempt limiter keyed by an
// arbitrary identifier (client IP, wallet address).
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultWindow      = time.Hour
	DefaultMaxAttempts = 10
)

// Store keeps the per-key attempt timestamps. Hit must be atomic per key:
// drop entries older than now-window, deny without recording when the
// remaining count is at or above limit, otherwise record now and allow.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
}

type Limiter struct {
	store  Store
	window time.Duration
	limit  int
	now    func() time.Time
}

type Option func(*Limiter)

func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.limit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		window: DefaultWindow,
		limit:  DefaultMaxAttempts,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an attempt for identifier and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, error) {
	return l.store.Hit(ctx, identifier, l.now(), l.window, l.limit)
}

func (l *Limiter) Window() time.Duration { return l.window }
func (l *Limiter) MaxAttempts() int      { return l.limit }
