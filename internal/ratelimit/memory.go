package ratelimit

import (
	"context"
	"sync"
	"time"
)

// counterEntry holds a window count and the time its key expires.
type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is an in-process Counter for single-instance deployments and
// tests. A background goroutine periodically evicts expired keys.
type MemoryCounter struct {
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex
	entries map[string]*counterEntry
	done    chan struct{}
	closed  bool
}

// NewMemoryCounter creates a counter and starts its eviction goroutine. A
// non-positive interval disables background eviction; expired keys are then
// only replaced on their next increment.
func NewMemoryCounter(cleanupInterval time.Duration) *MemoryCounter {
	m := &MemoryCounter{
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		entries:         make(map[string]*counterEntry),
		done:            make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.cleanup()
	}
	return m
}

func (m *MemoryCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	if !exists || !now.Before(e.expiresAt) {
		e = &counterEntry{expiresAt: now.Add(ttl)}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}

// Len returns the number of live and not yet evicted keys.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the background cleanup goroutine.
func (m *MemoryCounter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryCounter) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryCounter) evictExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
