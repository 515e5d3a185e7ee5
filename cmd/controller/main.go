// Package main is the entry point for the pipeplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipeplane/internal/config"
	"pipeplane/internal/controller"
	"pipeplane/internal/controller/handlers"
	"pipeplane/internal/dispatcher"
	"pipeplane/internal/engine"
	"pipeplane/internal/logger"
	"pipeplane/internal/observability"
	"pipeplane/internal/scheduler"
	"pipeplane/internal/store/postgres"

	"go.opentelemetry.io/otel"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: pipeplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := cfg.RequireDatabase(); err != nil {
		fatal(log, "invalid config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	defer store.Close()

	if *migrateFlag {
		log.Info("running database migrations")
		if err := postgres.Migrate(store.DB()); err != nil {
			fatal(log, "migration failed", err)
		}
	}
	if version, dirty, err := postgres.SchemaVersion(store.DB()); err != nil {
		log.Warn("failed to read schema version", "error", err)
	} else {
		log.Info("database schema", "version", version, "dirty", dirty)
	}

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:   "pipeplane-controller",
		CollectorAddr: cfg.OTELEndpoint,
		SampleRatio:   cfg.OTELSampleRatio,
	})
	if err != nil {
		fatal(log, "failed to init tracing", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics("pipeplane-controller")
	if err != nil {
		fatal(log, "failed to init metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	if err := engine.RegisterRunGauge(otel.Meter("pipeplane-controller"), store, log); err != nil {
		log.Warn("failed to register run gauge", "error", err)
	}

	eng := engine.New(store, engine.Config{
		LeaseDuration:    cfg.LeaseDuration,
		ClaimMaxAttempts: cfg.ClaimMaxAttempts,
		AutoRetryLimit:   cfg.AutoRetryLimit,
		Logger:           log,
	})
	disp := dispatcher.New(eng, log)

	reaper := dispatcher.NewReaper(eng, cfg.LeaseSweepInterval, log)
	go reaper.Run(ctx)

	sched := scheduler.New(eng, log)
	for _, sc := range cfg.Schedules {
		if err := sched.Add(scheduler.Schedule{
			Name:              sc.Name,
			TenantID:          sc.TenantID,
			PipelineVersionID: sc.PipelineVersionID,
			Cron:              sc.Cron,
			Parameters:        sc.Parameters,
		}); err != nil {
			fatal(log, "invalid schedule", err)
		}
	}
	sched.Start()

	srv := controller.New(controller.Config{
		Addr:           fmt.Sprintf(":%d", cfg.HTTPPort),
		InternalSecret: cfg.InternalSecret,
		Metrics:        metricsHandler,
	}, handlers.New(store, eng, disp, log), store)

	log.Info("pipeplane controller starting", "port", cfg.HTTPPort, "schedules", len(cfg.Schedules))
	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
	}

	log.Info("shutting down controller")
	select {
	case <-sched.Stop().Done():
	case <-time.After(10 * time.Second):
		log.Warn("scheduled runs still in flight at shutdown")
	}
	log.Info("controller exited")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
