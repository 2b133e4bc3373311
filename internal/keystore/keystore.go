// Package keystore manages API key lifecycle state for the edge
// gateway: enabled flags, daily usage counters, one-time session
// handoffs, and webhook replay locks.
package keystore

import (
	"context"
	"time"

	bhasha "github.com/nafisf/bhasha/internal"
)

// TTLs for the best-effort KV spaces. The enabled flag itself has no
// TTL and survives restarts.
const (
	UsageTTL   = 32 * 24 * time.Hour
	SessionTTL = 7 * 24 * time.Hour
	EventTTL   = 90 * 24 * time.Hour
)

// Store is the key/quota persistence contract. IncAndCheck, TakeSession
// and MarkEvent must be atomic under concurrent callers.
type Store interface {
	// KeyEnabled reports whether the key exists and is enabled.
	KeyEnabled(ctx context.Context, key string) (bool, error)
	// SetKey enables a key and persists its metadata.
	SetKey(ctx context.Context, key string, meta bhasha.KeyMeta) error
	// RevokeKey disables a key. Revoking an unknown key is a no-op.
	RevokeKey(ctx context.Context, key string) error
	// IncAndCheck atomically increments the key's counter for the given
	// UTC date and reports whether the new count is within limit.
	IncAndCheck(ctx context.Context, key, date string, limit int64) (count int64, allowed bool, err error)
	// PutSession records a session-to-key handoff with the given TTL.
	PutSession(ctx context.Context, sessionID, key string, ttl time.Duration) error
	// TakeSession atomically reads and deletes a handoff. At most one
	// caller ever sees the key.
	TakeSession(ctx context.Context, sessionID string) (key string, found bool, err error)
	// MarkEvent inserts a replay lock for the event ID if absent.
	// Returns false when the event was already marked.
	MarkEvent(ctx context.Context, eventID string, ttl time.Duration) (inserted bool, err error)
}
