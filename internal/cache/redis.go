package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces cache entries away from the keystore's KV spaces.
const keyPrefix = "cache:"

// Redis is the edge response cache. A Redis outage degrades to
// pass-through: Get reports a miss and Set drops the write, counting
// errors instead of failing the request.
type Redis struct {
	rdb    *redis.Client
	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

// NewRedis returns a Redis-backed Cache.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Get retrieves a cached value, treating any store error as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.errs.Add(1)
			slog.LogAttrs(ctx, slog.LevelWarn, "edge cache read failed",
				slog.String("error", err.Error()),
			)
		}
		r.misses.Add(1)
		return nil, false
	}
	r.hits.Add(1)
	return val, true
}

// Set stores a value with the given TTL, best-effort.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if err := r.rdb.Set(ctx, keyPrefix+key, val, ttl).Err(); err != nil {
		r.errs.Add(1)
		slog.LogAttrs(ctx, slog.LevelWarn, "edge cache write failed",
			slog.String("error", err.Error()),
		)
	}
}

// Delete removes a cached value.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		r.errs.Add(1)
	}
}

// Purge removes all cache entries under the cache prefix. Entries are
// deleted in SCAN batches so the KV is never blocked by one big KEYS.
func (r *Redis) Purge(ctx context.Context) {
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			r.rdb.Del(ctx, batch...)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		r.rdb.Del(ctx, batch...)
	}
}

// Stats returns hit/miss counters and the approximate entry count.
func (r *Redis) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
	}
	// Entry count and size are best-effort; a failed scan leaves zeros.
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		s.Entries++
		if n, err := r.rdb.StrLen(ctx, iter.Val()).Result(); err == nil {
			s.Bytes += n
		}
	}
	return s
}

// Errors returns the count of degraded cache operations since start.
func (r *Redis) Errors() uint64 { return r.errs.Load() }
