// Package circuitbreaker implements a sliding-window circuit breaker
// for the external LM endpoint. When the model is down, tripping the
// breaker turns a 2-second timeout per pro-tier miss into an immediate
// store-only answer.
package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// State represents the breaker state.
type State int

const (
	// StateClosed allows all calls through.
	StateClosed State = iota
	// StateOpen rejects all calls.
	StateOpen
	// StateHalfOpen allows a single probe call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by guarded callers when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker open")

// Config holds breaker parameters.
type Config struct {
	ErrorThreshold float64       // weighted error rate to trip
	MinSamples     int           // minimum calls before the breaker can open
	WindowSeconds  int           // sliding window duration in seconds
	OpenTimeout    time.Duration // time in OPEN before a half-open probe
}

// DefaultConfig returns the defaults tuned for the fallback path: the
// model call is already bounded at 2s with one retry, so a modest
// error rate over a minute is enough evidence to stop calling.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.5,
		MinSamples:     5,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

// bucket holds error and call counts for a 1-second slot.
type bucket struct {
	errors float64
	total  int
}

// window is a fixed-size ring of 1-second buckets.
type window struct {
	buckets  [60]bucket
	size     int
	head     int
	headTime int64 // unix seconds of the head bucket
}

func newWindow(seconds int) window {
	if seconds <= 0 || seconds > 60 {
		seconds = 60
	}
	return window{size: seconds}
}

// advance moves the head to the current second, clearing stale buckets.
func (w *window) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	n := min(int(gap), w.size)
	for i := range n {
		w.buckets[(w.head+1+i)%w.size] = bucket{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

func (w *window) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

func (w *window) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var errs float64
	var total int
	for i := range w.size {
		errs += w.buckets[i].errors
		total += w.buckets[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *window) reset() {
	for i := range w.size {
		w.buckets[i] = bucket{}
	}
	w.head = 0
	w.headTime = 0
}

// Breaker is the circuit breaker state machine.
type Breaker struct {
	mu          sync.Mutex
	state       State
	window      window
	openedAt    time.Time
	probing     bool // a half-open probe is in flight
	threshold   float64
	minSamples  int
	openTimeout time.Duration
}

// New creates a breaker with the given config.
func New(cfg Config) *Breaker {
	return &Breaker{
		state:       StateClosed,
		window:      newWindow(cfg.WindowSeconds),
		threshold:   cfg.ErrorThreshold,
		minSamples:  cfg.MinSamples,
		openTimeout: cfg.OpenTimeout,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.openTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful call. A successful half-open
// probe closes the breaker.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(0, now)

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.window.reset()
	}
}

// RecordError records a failed call with a weight from Classify.
func (b *Breaker) RecordError(weight float64) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(weight, now)

	switch b.state {
	case StateClosed:
		rate, samples := b.window.errorRate(now)
		if samples >= b.minSamples && rate >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	}
}

// Classify returns the error weight for breaker tracking. Timeouts
// weigh heaviest: each one costs the full model budget.
func Classify(err error) float64 {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return 1.0
	}
	// HTTP-level failures and empty completions count as plain errors.
	return 1.0
}
