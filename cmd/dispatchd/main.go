// Command dispatchd runs the dispatch engine: the REST façade, the agent
// stream listener, and the per-agent Dispatch/Health-Check schedules.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relayforge/dispatch/internal/config"
	"github.com/relayforge/dispatch/internal/dispatch"
	"github.com/relayforge/dispatch/internal/execution"
	"github.com/relayforge/dispatch/internal/httpapi"
	"github.com/relayforge/dispatch/internal/jobs"
	"github.com/relayforge/dispatch/internal/logsink"
	"github.com/relayforge/dispatch/internal/observability"
	"github.com/relayforge/dispatch/internal/registry"
	"github.com/relayforge/dispatch/internal/storage"
	"github.com/relayforge/dispatch/internal/streaming"
)

func main() {
	log := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := openDB(cfg)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if err := storage.ConfigurePool(db,
		storage.WithMaxOpenConns(cfg.Pool.MaxOpenConns),
		storage.WithMaxIdleConns(cfg.Pool.MaxIdleConns),
		storage.WithConnMaxLifetime(cfg.Pool.ConnMaxLifetime),
		storage.WithConnMaxIdleTime(cfg.Pool.ConnMaxIdleTime),
	); err != nil {
		log.Error("failed to configure connection pool", "error", err)
		os.Exit(1)
	}

	store := storage.New(db)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	sink := logsink.New(store)
	stats := observability.New()

	streamLog := log.With("component", "stream")
	sess := streaming.NewManager(store, sink, streamLog)

	dispatchLog := log.With("component", "dispatch")
	pre := dispatch.NewPreprocessor(store, sess, dispatchLog)
	pre.Stats = stats

	execLog := log.With("component", "execution")
	runner := execution.NewRunner(store, sink, sess, execLog)

	healthLog := log.With("component", "healthcheck")
	scheduler := dispatch.NewScheduler(store, pre, runner, nil, dispatchLog,
		dispatch.WithDispatchCron(cfg.DispatchCronSpec),
		dispatch.WithHealthCron(cfg.HealthCheckCronSpec),
	)
	health := dispatch.NewHealthCheckRunner(store, sess, scheduler, healthLog)
	health.Stats = stats
	scheduler.SetHealthChecker(health)

	reg := registry.New(store, scheduler, health, log.With("component", "registry"))
	jobSvc := jobs.NewService(store, scheduler, runner, log.With("component", "jobs"))

	api := httpapi.NewServer(store, jobSvc, reg, scheduler, health, log.With("component", "httpapi"))

	mux := http.NewServeMux()
	mux.Handle("/", api.Routes())
	mux.HandleFunc("/agents/stream", sess.HandleAgentStream)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		serverErr <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("listener failed", "error", err)
		}
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.DatabaseDriver {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(cfg.DatabaseDSN), gcfg)
	default:
		// No other dialector is linked in, so any other driver name (e.g.
		// postgres) also opens SQLite; internal/storage itself is
		// driver-agnostic.
		return gorm.Open(sqlite.Open(cfg.DatabaseDSN), gcfg)
	}
}
