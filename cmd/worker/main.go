// Package main is the entry point for the pipeplane worker.
// The worker claims runs of its tenants from the controller and executes them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipeplane/internal/config"
	"pipeplane/internal/logger"
	"pipeplane/internal/observability"
	"pipeplane/internal/worker"
	"pipeplane/internal/worker/runtime"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: pipeplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := cfg.RequireWorkerTenants(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:   "pipeplane-worker",
		InstanceID:    workerID,
		CollectorAddr: cfg.OTELEndpoint,
		SampleRatio:   cfg.OTELSampleRatio,
	})
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics("pipeplane-worker")
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	client := worker.NewClient(cfg.ControllerURL, cfg.InternalSecret)
	agent := worker.New(client, runtime.NewSimulated(cfg.WorkerSimulatedDuration), worker.AgentConfig{
		ID:                workerID,
		Concurrency:       cfg.WorkerConcurrency,
		PollInterval:      cfg.WorkerPollInterval,
		MaxBackoff:        cfg.WorkerMaxBackoff,
		HeartbeatInterval: cfg.WorkerHeartbeatInterval,
	}, cfg.WorkerTenants, log)

	go agent.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker, draining in-flight runs")
	cancel()

	<-agent.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)
	log.Info("worker exited")
}
