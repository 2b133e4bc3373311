package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	bhasha "github.com/nafisf/bhasha/internal"
)

// Redis implements Store on a Redis-compatible KV. API keys are stored
// by SHA-256 hash so a KV dump never yields usable credentials.
type Redis struct {
	rdb *redis.Client
}

// NewRedis returns a Redis-backed Store.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func keyFlag(key string) string { return "apikey:" + bhasha.HashKey(key) }
func keyMeta(key string) string { return "apikey.meta:" + bhasha.HashKey(key) }

func keyUsage(key, date string) string {
	return fmt.Sprintf("usage:%s:%s", bhasha.HashKey(key), date)
}

func keySession(sid string) string { return "session_to_key:" + sid }
func keyEvent(id string) string    { return "stripe_evt:" + id }

// KeyEnabled reports whether the key's flag is present and set.
func (r *Redis) KeyEnabled(ctx context.Context, key string) (bool, error) {
	val, err := r.rdb.Get(ctx, keyFlag(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("keystore: get flag: %w", err)
	}
	return val == "enabled", nil
}

// SetKey enables the key and stores its metadata as JSON.
func (r *Redis) SetKey(ctx context.Context, key string, meta bhasha.KeyMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("keystore: marshal meta: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, keyFlag(key), "enabled", 0)
	pipe.Set(ctx, keyMeta(key), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("keystore: set key: %w", err)
	}
	return nil
}

// RevokeKey flips the flag to disabled, keeping metadata for audit trails.
func (r *Redis) RevokeKey(ctx context.Context, key string) error {
	if err := r.rdb.Set(ctx, keyFlag(key), "disabled", 0).Err(); err != nil {
		return fmt.Errorf("keystore: revoke: %w", err)
	}
	return nil
}

// IncAndCheck atomically increments the per-day counter. The TTL is set
// on first increment only, so the counter expires ~32 days after the
// day it tracks regardless of traffic.
func (r *Redis) IncAndCheck(ctx context.Context, key, date string, limit int64) (int64, bool, error) {
	k := keyUsage(key, date)
	count, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, false, fmt.Errorf("keystore: incr usage: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, k, UsageTTL).Err(); err != nil {
			return count, count <= limit, fmt.Errorf("keystore: expire usage: %w", err)
		}
	}
	return count, count <= limit, nil
}

// PutSession records a one-time session-to-key handoff.
func (r *Redis) PutSession(ctx context.Context, sessionID, key string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, keySession(sessionID), key, ttl).Err(); err != nil {
		return fmt.Errorf("keystore: put session: %w", err)
	}
	return nil
}

// TakeSession reads and deletes the handoff in one round trip (GETDEL),
// so concurrent callers cannot both receive the key.
func (r *Redis) TakeSession(ctx context.Context, sessionID string) (string, bool, error) {
	val, err := r.rdb.GetDel(ctx, keySession(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keystore: take session: %w", err)
	}
	return val, true, nil
}

// MarkEvent write-if-absents a replay lock for the webhook event.
func (r *Redis) MarkEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	inserted, err := r.rdb.SetNX(ctx, keyEvent(eventID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("keystore: mark event: %w", err)
	}
	return inserted, nil
}
