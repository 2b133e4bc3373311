package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/cache"
	"github.com/nafisf/bhasha/internal/circuitbreaker"
	"github.com/nafisf/bhasha/internal/config"
	"github.com/nafisf/bhasha/internal/lm"
	"github.com/nafisf/bhasha/internal/origin"
	"github.com/nafisf/bhasha/internal/ratelimit"
	"github.com/nafisf/bhasha/internal/storage/sqlite"
	"github.com/nafisf/bhasha/internal/telemetry"
	"github.com/nafisf/bhasha/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting bhasha-origin", "version", version, "addr", cfg.Origin.Addr)

	store, err := sqlite.New(cfg.Origin.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mem, err := cache.NewMemory(cfg.Origin.CacheMaxSize, cfg.Origin.CacheTTL)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewOriginMetrics(reg)

	var auditor audit.Appender = audit.Nop{}
	if cfg.Origin.AuditSecret != "" {
		w, err := audit.NewWriter(cfg.Origin.AuditDir, []byte(cfg.Origin.AuditSecret))
		if err != nil {
			return err
		}
		defer w.Close()
		auditor = w
	} else {
		slog.Warn("audit disabled, no AUDIT_HMAC_SECRET configured")
	}

	var translator lm.Translator
	if cfg.Origin.Fallback.Enabled {
		resolver := &dnscache.Resolver{}
		client := lm.NewOpenAI(lm.Options{
			APIKey:    cfg.Origin.Fallback.APIKey,
			BaseURL:   cfg.Origin.Fallback.BaseURL,
			Model:     cfg.Origin.Fallback.Model,
			MaxTokens: cfg.Origin.Fallback.MaxTokens,
			Timeout:   cfg.Origin.Fallback.Timeout,
		}, resolver)
		translator = lm.NewGuarded(client, circuitbreaker.DefaultConfig())
		go refreshResolver(resolver)
		slog.Info("fallback enabled", "model", cfg.Origin.Fallback.Model)
	}

	limiter := ratelimit.NewRegistry(cfg.Origin.IPRatePerMin)

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(context.Background(), "bhasha-origin",
			cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	handler := origin.New(origin.Deps{
		Store:          store,
		Translator:     translator,
		Cache:          mem,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Audit:          auditor,
		RateLimiter:    limiter,
		ShieldToken:    cfg.Origin.ShieldToken,
		ShieldEnforce:  cfg.Origin.ShieldEnforce,
		CacheTTL:       cfg.Origin.CacheTTL,
		HandlerTimeout: cfg.Origin.HandlerTimeout,
		FallbackSafety: cfg.Origin.Fallback.SafetyLevel,
		DBPath:         cfg.Origin.DBPath,
	})

	srv := &http.Server{
		Addr:         cfg.Origin.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Origin.ReadTimeout,
		WriteTimeout: cfg.Origin.WriteTimeout,
	}

	// Background workers stop when the workers context is cancelled.
	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	runner := worker.NewRunner(
		worker.NewLimiterEvictor(limiter),
		worker.NewDBBackup(store, cfg.Origin.DBPath+".backups", 3),
	)
	workerErr := make(chan error, 1)
	go func() { workerErr <- runner.Run(workersCtx) }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("bhasha-origin ready", "addr", cfg.Origin.Addr, "shield_enforce", cfg.Origin.ShieldEnforce)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Origin.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	stopWorkers()

	slog.Info("bhasha-origin stopped")
	return nil
}

// refreshResolver re-resolves cached DNS entries so long-lived
// processes notice upstream IP changes.
func refreshResolver(r *dnscache.Resolver) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		r.Refresh(true)
	}
}
