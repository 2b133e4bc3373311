package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nafisf/bhasha/internal/ratelimit"
)

const (
	evictInterval = 10 * time.Minute
	evictIdle     = 30 * time.Minute
)

// LimiterEvictor periodically drops idle per-IP limiters so one-off
// clients do not accumulate in memory.
type LimiterEvictor struct {
	registry *ratelimit.Registry
	interval time.Duration
	idle     time.Duration
}

// NewLimiterEvictor creates an evictor with the default schedule.
func NewLimiterEvictor(registry *ratelimit.Registry) *LimiterEvictor {
	return &LimiterEvictor{
		registry: registry,
		interval: evictInterval,
		idle:     evictIdle,
	}
}

// Name returns the worker identifier.
func (w *LimiterEvictor) Name() string { return "limiter_evictor" }

// Run evicts stale limiters on a periodic schedule.
func (w *LimiterEvictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n := w.registry.EvictStale(time.Now().Add(-w.idle))
			if n > 0 {
				slog.Info("evicted stale limiters", "count", n)
			}
		}
	}
}
