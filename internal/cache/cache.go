// Package cache provides the two response cache layers: an in-process
// W-TinyLFU cache for the origin and a Redis-backed cache for the edge.
// The layers are independent and never coherent; each expires on its
// own TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is the interface for response caching.
type Cache interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Delete removes a cached value.
	Delete(ctx context.Context, key string)
	// Purge removes all cached values.
	Purge(ctx context.Context)
	// Stats returns aggregate counters for observability endpoints.
	Stats(ctx context.Context) Stats
}

// Stats holds aggregate cache counters. Bytes is approximate: it sums
// stored value lengths, not allocator overhead.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int64  `json:"entries"`
	Bytes   int64  `json:"approx_bytes"`
}

// Key computes the canonical cache key for a request: a SHA-256 over
// method, path, and the canonical body. Both cache layers use the same
// derivation so a single request hashes identically at the edge and at
// the origin.
func Key(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
