package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	pfnats "github.com/planforge/planforge/internal/adapter/nats"
	pfotel "github.com/planforge/planforge/internal/adapter/otel"
	"github.com/planforge/planforge/internal/adapter/postgres"
	"github.com/planforge/planforge/internal/adapter/ristretto"
	"github.com/planforge/planforge/internal/behavior"
	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/logger"
	"github.com/planforge/planforge/internal/resilience"
	"github.com/planforge/planforge/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"heartbeat_interval", cfg.Engine.HeartbeatInterval,
		"max_concurrent_runs", cfg.Engine.MaxConcurrentRuns,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	// Telemetry
	var shutdownMeter pfotel.ShutdownFunc = func(context.Context) error { return nil }
	if cfg.Telemetry.Enabled {
		shutdownMeter, err = pfotel.InitMeter(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMeter(shutdownCtx)
	}()

	metrics, err := pfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := pfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Cache (idempotency marks for redelivered runs)
	idemCache, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer idemCache.Close()

	// --- Engine ---

	store := postgres.NewStore(pool)
	registry := behavior.NewRegistry()
	breakers := resilience.NewBreakerSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	builder := service.NewContextService(store, cfg.Engine.InboxLimit, cfg.Engine.DecisionLimit)
	results := service.NewResultProcessor(store, cfg.Engine.MessageTTL)
	thinkSvc := service.NewThinkCycleService(store, builder, registry, results, queue, breakers)
	thinkSvc.SetMetrics(metrics)
	planningSvc := service.NewPlanningService(store, builder, registry, results, breakers)
	heartbeatSvc := service.NewHeartbeatService(store, queue, cfg.Engine.StaleAfter, cfg.Engine.HeartbeatBatch)

	dispatcher := dispatch.New(dispatch.Options{
		Checkpoints:    store,
		Idempotency:    idemCache,
		IdempotencyTTL: cfg.Cache.IdempotencyTTL,
		MaxConcurrent:  cfg.Engine.MaxConcurrentRuns,
		Metrics:        metrics,
	})
	stopThrottleCleanup := dispatcher.Throttle().StartCleanup(time.Minute, 10*time.Minute)
	defer stopThrottleCleanup()

	router := service.NewEventRouter(queue, dispatcher, thinkSvc, planningSvc, heartbeatSvc, cfg.Engine.MaxHops)
	router.SetMetrics(metrics)
	router.RegisterRuns(
		dispatch.KindConfig{Retries: cfg.Engine.ThinkRetries, Window: cfg.Engine.ThinkWindow},
		dispatch.KindConfig{Retries: cfg.Engine.PlanningRetries, Window: cfg.Engine.PlanningWindow},
		dispatch.KindConfig{Retries: cfg.Engine.HeartbeatRetries},
	)

	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("event router: %w", err)
	}
	defer router.Stop()

	cron := dispatch.StartCron(dispatcher, "heartbeat", cfg.Engine.HeartbeatInterval, func() dispatch.Run {
		return dispatch.Run{Kind: dispatch.KindHeartbeat, Key: "global"}
	})
	defer cron.Stop()

	// --- Ops HTTP ---

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))
	r.Method(http.MethodGet, "/health", otelhttp.NewHandler(healthHandler(pool, queue), "health"))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting ops server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop intake first, then let in-flight runs finish.
	router.Stop()
	cron.Stop()
	if err := queue.Drain(); err != nil {
		slog.Warn("queue drain failed", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Warn("dispatcher stop", "error", err)
	}

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports process health and backing service connectivity.
func healthHandler(pool interface {
	Ping(ctx context.Context) error
}, queue interface {
	IsConnected() bool
}) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, req *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok"}
		code := http.StatusOK

		if err := pool.Ping(req.Context()); err != nil {
			status.Status = "degraded"
			status.Postgres = "unreachable"
			code = http.StatusServiceUnavailable
		}
		if !queue.IsConnected() {
			status.Status = "degraded"
			status.NATS = "disconnected"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
