package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/cache"
	"github.com/nafisf/bhasha/internal/config"
	"github.com/nafisf/bhasha/internal/edge"
	"github.com/nafisf/bhasha/internal/keystore"
	"github.com/nafisf/bhasha/internal/telemetry"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Edge.ShieldToken == "" {
		return errors.New("EDGE_SHIELD_TOKEN must be configured")
	}

	slog.Info("starting bhasha-edge", "version", version, "addr", cfg.Edge.Addr, "env", cfg.Edge.Env)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Edge.Redis.Addr,
		Password: cfg.Edge.Redis.Password,
		DB:       cfg.Edge.Redis.DB,
	})
	defer rdb.Close()

	keys := keystore.NewRedis(rdb)
	edgeCache := cache.NewRedis(rdb)

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewEdgeMetrics(reg)

	var auditor audit.Appender = audit.Nop{}
	if cfg.Edge.AuditSecret != "" {
		w, err := audit.NewWriter(cfg.Edge.AuditDir, []byte(cfg.Edge.AuditSecret))
		if err != nil {
			return err
		}
		defer w.Close()
		auditor = w
	} else {
		slog.Warn("audit disabled, no AUDIT_HMAC_SECRET configured")
	}

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(context.Background(), "bhasha-edge",
			cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	handler := edge.New(edge.Deps{
		Keys:            keys,
		Cache:           edgeCache,
		Metrics:         metrics,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Audit:           auditor,
		OriginBaseURL:   cfg.Edge.OriginBaseURL,
		ShieldToken:     cfg.Edge.ShieldToken,
		AdminKey:        cfg.Edge.AdminKey,
		WebhookSecret:   cfg.Edge.Stripe.WebhookSecret,
		MintPrefix:      cfg.Edge.MintPrefix(),
		Env:             cfg.Edge.Env,
		Version:         version,
		CORSOrigins:     cfg.Edge.CORSOrigins,
		DailyQuota:      cfg.Edge.DailyQuota,
		CacheTTL:        cfg.Edge.CacheTTL,
		UpstreamTimeout: cfg.Edge.UpstreamTimeout,
	})

	srv := &http.Server{
		Addr:         cfg.Edge.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Edge.ReadTimeout,
		WriteTimeout: cfg.Edge.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("bhasha-edge ready", "addr", cfg.Edge.Addr, "origin", cfg.Edge.OriginBaseURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Edge.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("bhasha-edge stopped")
	return nil
}
