package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its expiration time.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-memory W-TinyLFU cache backed by otter. It is the
// origin's response cache layer: bounded entry count, per-entry TTL,
// never blocks the request path.
type Memory struct {
	cache  *otter.Cache[string, entry]
	hits   atomic.Uint64
	misses atomic.Uint64
	bytes  atomic.Int64
}

// NewMemory creates an in-memory cache with the given max entry count
// and default TTL.
func NewMemory(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	m := &Memory{}
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](defaultTTL),
		OnDeletion: func(e otter.DeletionEvent[string, entry]) {
			m.bytes.Add(-int64(len(e.Value.data)))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	m.cache = c
	return m, nil
}

// Get retrieves a value from the cache if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return e.data, true
}

// Set stores a value with per-entry TTL.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	m.bytes.Add(int64(len(val)))
	m.cache.Set(key, entry{
		data:      val,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete removes a value from the cache.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// Purge removes all values from the cache.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}

// Stats returns hit/miss counters and the current entry count.
func (m *Memory) Stats(_ context.Context) Stats {
	b := m.bytes.Load()
	if b < 0 {
		b = 0
	}
	return Stats{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Entries: int64(m.cache.EstimatedSize()),
		Bytes:   b,
	}
}
