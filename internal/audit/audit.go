// Package audit implements the append-only, tamper-evident event log.
// Each record carries an HMAC chained from the previous record's MAC,
// so any insertion, deletion, or edit breaks verification from that
// point on. Records hold event kinds and minimal metadata only, never
// request content.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind classifies an audit event.
type Kind string

// Audit event kinds.
const (
	KindBadRequest    Kind = "bad_request"
	KindAuthFail      Kind = "auth_fail"
	KindRateLimited   Kind = "rate_limited"
	KindCORSBlock     Kind = "cors_block"
	KindTempBanSet    Kind = "temp_ban_set"
	KindTempBanHit    Kind = "temp_ban_hit"
	KindAdminAction   Kind = "admin_action"
	KindWebhookReplay Kind = "webhook_replay"
	KindWebhookBadSig Kind = "webhook_bad_sig"
	KindKeyMinted     Kind = "key_minted"
	KindKeyRevoked    Kind = "key_revoked"
	KindFallbackCall  Kind = "fallback_call"
	KindFallbackFail  Kind = "fallback_fail"

	// kindSegmentStart opens a rotated segment and carries the MAC the
	// chain continues from, so each segment verifies independently.
	kindSegmentStart Kind = "segment_start"
)

// Record is a single audit log line.
type Record struct {
	TS     time.Time         `json:"ts"`
	Kind   Kind              `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
	MAC    string            `json:"mac"`
}

// Appender is the narrow capability handlers use to emit audit events.
type Appender interface {
	Append(kind Kind, fields map[string]string)
}

// Nop discards events. Used in tests and when auditing is disabled.
type Nop struct{}

func (Nop) Append(Kind, map[string]string) {}

// Writer appends chained-MAC records to JSONL segment files in a
// directory, rotating by size or UTC day. Appends are serialized by a
// mutex; MAC chaining requires monotonic write order.
type Writer struct {
	mu      sync.Mutex
	secret  []byte
	dir     string
	maxSize int64

	f       *os.File
	size    int64
	day     string // YYYY-MM-DD of the open segment
	lastMAC string
}

// MaxSegmentSize is the default rotation threshold.
const MaxSegmentSize = 16 << 20

// NewWriter opens (or creates) the audit directory and starts a fresh
// segment chained from the fixed IV.
func NewWriter(dir string, secret []byte) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	w := &Writer{
		secret:  secret,
		dir:     dir,
		maxSize: MaxSegmentSize,
		lastMAC: ChainIV,
	}
	if err := w.openSegment(time.Now().UTC()); err != nil {
		return nil, err
	}
	return w, nil
}

// Append writes one event. Errors are logged to stderr rather than
// surfaced: a full disk must not take down the request path.
func (w *Writer) Append(kind Kind, fields map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now().UTC()
	if err := w.rotateIfNeeded(now); err != nil {
		fmt.Fprintf(os.Stderr, "audit: rotate: %v\n", err)
		return
	}
	if err := w.appendLocked(Record{TS: now, Kind: kind, Fields: fields}); err != nil {
		fmt.Fprintf(os.Stderr, "audit: append: %v\n", err)
	}
}

// LastMAC returns the MAC of the most recently written record.
func (w *Writer) LastMAC() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastMAC
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *Writer) appendLocked(rec Record) error {
	rec.MAC = Seal(w.secret, w.lastMAC, rec)
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := w.f.Write(line); err != nil {
		return err
	}
	w.size += int64(len(line))
	w.lastMAC = rec.MAC
	return nil
}

func (w *Writer) rotateIfNeeded(now time.Time) error {
	day := now.Format(time.DateOnly)
	if w.f != nil && w.size < w.maxSize && day == w.day {
		return nil
	}
	return w.openSegment(now)
}

// openSegment starts a new file. When a chain is already in progress,
// the first record of the new segment carries the MAC it continues
// from, making every segment verifiable on its own.
func (w *Writer) openSegment(now time.Time) error {
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
	name := fmt.Sprintf("audit-%s.jsonl", now.Format("20060102T150405.000000000"))
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("audit: open segment: %w", err)
	}
	w.f = f
	w.size = 0
	w.day = now.Format(time.DateOnly)
	if w.lastMAC != ChainIV {
		return w.appendLocked(Record{
			TS:     now,
			Kind:   kindSegmentStart,
			Fields: map[string]string{"carried_mac": w.lastMAC},
		})
	}
	return nil
}
