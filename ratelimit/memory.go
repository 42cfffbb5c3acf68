package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process memory.
// State is per instance; replicas behind a load balancer each see only their
// own traffic. Use RedisStore when running more than one instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (m *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.windows[key][:0]
	for _, ts := range m.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		m.windows[key] = kept
		return false, nil
	}

	m.windows[key] = append(kept, now)
	return true, nil
}

// Prune drops expired timestamps for every key and removes empty keys.
func (m *MemoryStore) Prune(now time.Time, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	for key, stamps := range m.windows {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(m.windows, key)
			continue
		}
		m.windows[key] = kept
	}
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
