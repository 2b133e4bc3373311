// Package ratelimit implements per-IP request limiting with lazy-refill
// token buckets and short temp bans for repeat offenders.
package ratelimit

import (
	"sync"
	"time"
)

// Escalation thresholds: banThreshold violations inside banWindow earn
// a banDuration temp ban.
const (
	banThreshold = 5
	banWindow    = 5 * time.Minute
	banDuration  = 10 * time.Minute
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Banned            bool // the reject came from an active temp ban
	BanStarted        bool // this violation tipped the caller into a ban
	RetryAfterSeconds float64
}

// bucket is a token bucket with lazy refill (no background goroutine).
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMin int64, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(perMin),
		max:      float64(perMin),
		rate:     float64(perMin) / 60.0,
		lastFill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

func (b *bucket) tryConsume(now time.Time) bool {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) retryAfter() float64 {
	if b.tokens >= 1 {
		return 0
	}
	return (1 - b.tokens) / b.rate
}

// limiter holds the bucket and ban state for a single IP.
type limiter struct {
	mu         sync.Mutex
	bucket     *bucket
	violations []time.Time // recent rejects, pruned to banWindow
	bannedTil  time.Time
	lastUsed   time.Time
}

// Registry manages per-IP limiters. A zero or negative perMin disables
// limiting entirely; Check then always allows.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*limiter
	perMin   int64
}

// NewRegistry creates a registry with the given per-minute cap.
func NewRegistry(perMin int64) *Registry {
	return &Registry{
		limiters: make(map[string]*limiter),
		perMin:   perMin,
	}
}

// Enabled reports whether the registry enforces a cap.
func (r *Registry) Enabled() bool { return r.perMin > 0 }

// Check consumes one token for the IP, tracking violations and
// escalating to a temp ban after repeated rejects.
func (r *Registry) Check(ip string) Result {
	if !r.Enabled() {
		return Result{Allowed: true}
	}
	l := r.getOrCreate(ip)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.lastUsed = now

	if now.Before(l.bannedTil) {
		return Result{Banned: true, RetryAfterSeconds: l.bannedTil.Sub(now).Seconds()}
	}

	if l.bucket.tryConsume(now) {
		return Result{Allowed: true}
	}

	// Violation: prune the window, then maybe escalate.
	cutoff := now.Add(-banWindow)
	kept := l.violations[:0]
	for _, v := range l.violations {
		if v.After(cutoff) {
			kept = append(kept, v)
		}
	}
	l.violations = append(kept, now)

	res := Result{RetryAfterSeconds: l.bucket.retryAfter()}
	if len(l.violations) >= banThreshold {
		l.bannedTil = now.Add(banDuration)
		l.violations = l.violations[:0]
		res.BanStarted = true
		res.RetryAfterSeconds = banDuration.Seconds()
	}
	return res
}

func (r *Registry) getOrCreate(ip string) *limiter {
	r.mu.RLock()
	l, ok := r.limiters[ip]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[ip]; ok {
		return l
	}
	l = &limiter{bucket: newBucket(r.perMin, time.Now())}
	r.limiters[ip] = l
	return l
}

// EvictStale removes limiters not used since cutoff. Run periodically
// so one-off clients do not accumulate forever.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for ip, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff) && time.Now().After(l.bannedTil)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, ip)
			evicted++
		}
	}
	return evicted
}
