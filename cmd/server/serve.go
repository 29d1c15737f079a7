package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/analytics"
	"github.com/kiranshivaraju/eventgate/internal/api"
	"github.com/kiranshivaraju/eventgate/internal/api/handler"
	mw "github.com/kiranshivaraju/eventgate/internal/api/middleware"
	"github.com/kiranshivaraju/eventgate/internal/auth"
	"github.com/kiranshivaraju/eventgate/internal/cache"
	"github.com/kiranshivaraju/eventgate/internal/config"
	"github.com/kiranshivaraju/eventgate/internal/fanout"
	"github.com/kiranshivaraju/eventgate/internal/ingest"
	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/kiranshivaraju/eventgate/internal/ratelimit"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/internal/subscriber"
)

const shutdownTimeout = 30 * time.Second

func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"rate_limit_backend", cfg.RateLimit.Backend,
		"mqtt_enabled", cfg.MQTT.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled())

	// 1. Database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if cfg.Database.AutoMigrate {
		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	pgStore := store.NewPostgresStore(pool)
	checks := map[string]handler.Pinger{"database": pgStore}

	// 2. Rate-limit window
	window, rc, err := buildWindow(ctx, cfg, pgStore)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		checks["cache"] = rc
	}
	limiter := ratelimit.NewLimiter(window, ratelimit.WithPruneInterval(cfg.RateLimit.PruneInterval))

	// 3. Ingestion
	publisher, closePublisher := buildPublisher(cfg.Kafka)
	defer closePublisher()

	agg := analytics.NewAggregator(pgStore)
	pipeline := ingest.NewPipeline(pgStore, agg, publisher)

	// 4. MQTT subscriber
	var mqttState handler.ConnectionReporter
	if cfg.MQTT.Enabled {
		manager := subscriber.NewManager(
			subscriber.NewPahoTransport(cfg.MQTT),
			pipeline,
			cfg.MQTT.Topic(),
			byte(cfg.MQTT.QoS),
			subscriber.WithLiveness(subscriber.DefaultFirstTick, cfg.MQTT.LivenessInterval),
		)
		manager.Start(ctx)
		defer manager.Stop()
		mqttState = manager
		slog.Info("mqtt subscriber started", "broker", cfg.MQTT.BrokerURL(), "topic", cfg.MQTT.Topic())
	}

	// 5. Router
	deps := api.Dependencies{
		Auth:      mw.NewAuth(auth.NewGate(pgStore), auth.NewAdminSecret(cfg.Admin.Key, cfg.Admin.KeyBcrypt)),
		RateLimit: mw.NewRateLimit(limiter),

		StatusHandler:  handler.NewStatusHandler(checks, mqttState),
		MetricsHandler: metrics.Handler(),

		CreateEvent: handler.NewCreateEventHandler(pipeline),
		ListEvents:  handler.NewListEventsHandler(pgStore),
		LatestEvent: handler.NewLatestEventHandler(pgStore),

		CreateAccount: handler.NewCreateAccountHandler(pgStore),
		ListAccounts:  handler.NewListAccountsHandler(pgStore),

		Summary:     handler.NewSummaryHandler(agg),
		Series:      handler.NewSeriesHandler(agg),
		TopAccounts: handler.NewTopAccountsHandler(agg),
		Stats:       handler.NewStatsHandler(agg),

		IssueKey:  handler.NewIssueKeyHandler(pgStore),
		RevokeKey: handler.NewRevokeKeyHandler(pgStore),
	}

	// 6. HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// buildWindow selects the rate-limit backend. The returned cache is non-nil
// only for the redis backend and is owned by the caller.
func buildWindow(ctx context.Context, cfg *config.Config, s ratelimit.HitStore) (ratelimit.Window, cache.Cache, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis cache: %w", err)
		}
		if err := rc.Ping(ctx); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		return ratelimit.NewRedisWindow(rc), rc, nil
	case "memory":
		slog.Warn("rate limit window is process-local")
		return ratelimit.NewMemoryWindow(), nil, nil
	case "postgres", "":
		return ratelimit.NewStoreWindow(s), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

// buildPublisher returns the Kafka fan-out when brokers are configured and a
// nil Publisher otherwise. The close func is always safe to call.
func buildPublisher(cfg config.KafkaConfig) (ingest.Publisher, func()) {
	if !cfg.Enabled() {
		return nil, func() {}
	}
	p := fanout.NewKafkaPublisher(fanout.NewKafkaWriter(cfg), cfg.Topic)
	slog.Info("kafka fan-out enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return p, closer(p)
}

func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
