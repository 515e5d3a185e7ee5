// Package worker contains the worker agent that claims and executes runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pipeplane/internal/store"
	"pipeplane/internal/worker/runtime"
	"pipeplane/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // Maximum backoff when no tenant has work (default: 30s)
	HeartbeatInterval time.Duration // Interval between lease renewals (default: 2m)
}

// Agent is the worker agent that runs the pull-loop for run execution.
type Agent struct {
	controller Controller
	runtime    runtime.Runtime
	config     AgentConfig
	tenantIDs  []uuid.UUID
	log        *slog.Logger
	done       chan struct{}

	// offset is the tenant the next claim round starts from.
	offset int

	processed metric.Int64Counter
	abandoned metric.Int64Counter
}

// New creates a new worker agent that claims runs of the given tenants only.
func New(c Controller, rt runtime.Runtime, config AgentConfig, tenantIDs []uuid.UUID, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxBackoff < config.PollInterval {
		config.MaxBackoff = config.PollInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	if log == nil {
		log = slog.Default()
	}

	meter := otel.Meter("pipeplane-worker")
	processed, err := meter.Int64Counter("pipeplane.worker.runs.processed",
		metric.WithDescription("Runs executed and reported by this worker"))
	if err != nil {
		log.Warn("failed to register counter", "metric", "pipeplane.worker.runs.processed", "error", err)
	}
	abandoned, err := meter.Int64Counter("pipeplane.worker.runs.abandoned",
		metric.WithDescription("Runs abandoned after the claim was lost"))
	if err != nil {
		log.Warn("failed to register counter", "metric", "pipeplane.worker.runs.abandoned", "error", err)
	}

	return &Agent{
		controller: c,
		runtime:    rt,
		config:     config,
		tenantIDs:  tenantIDs,
		log:        log.With("worker_id", config.ID),
		done:       make(chan struct{}),
		processed:  processed,
		abandoned:  abandoned,
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops claiming new runs and waits for in-flight runs
// to finish and report.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting", "concurrency", a.config.Concurrency, "tenants", len(a.tenantIDs))

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	pollNow := make(chan struct{}, 1)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("context cancelled, waiting for in-flight runs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			runs, err := a.claim(ctx, availableSlots)
			if err != nil && len(runs) == 0 {
				a.log.Warn("claim failed", "error", err)
				continue
			}

			if len(runs) == 0 {
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.log.Debug("claimed runs", "count", len(runs))

			for _, run := range runs {
				sem <- struct{}{}

				wg.Add(1)
				go func(run *api.RunResponse) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.processRun(context.WithoutCancel(ctx), run)
				}(run)
			}

			if len(runs) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// claim claims up to n runs, visiting tenants round-robin. Each round starts
// one tenant later than the previous round and moves on to the next tenant
// after every claim. It stops after a full cycle of tenants without work.
func (a *Agent) claim(ctx context.Context, n int) ([]*api.RunResponse, error) {
	if len(a.tenantIDs) == 0 {
		return nil, nil
	}

	idx := a.offset % len(a.tenantIDs)
	a.offset = (a.offset + 1) % len(a.tenantIDs)

	var (
		runs    []*api.RunResponse
		lastErr error
		empty   int
	)
	for len(runs) < n && empty < len(a.tenantIDs) {
		if ctx.Err() != nil {
			break
		}
		tenantID := a.tenantIDs[idx]
		idx = (idx + 1) % len(a.tenantIDs)

		run, err := a.controller.Claim(ctx, tenantID, a.config.ID)
		if err != nil {
			lastErr = fmt.Errorf("claim for tenant %s: %w", tenantID, err)
			empty++
			continue
		}
		if run == nil {
			empty++
			continue
		}
		empty = 0
		runs = append(runs, run)
	}
	return runs, lastErr
}

// processRun executes a claimed run and reports its outcome.
// ctx is detached from the poll loop so a shutdown lets the run finish.
func (a *Agent) processRun(ctx context.Context, run *api.RunResponse) {
	log := a.log.With("run_id", run.ID, "tenant_id", run.TenantID, "attempt", run.Attempt)

	opts, err := startOptions(run)
	if err != nil {
		// The controller handed out a run we cannot address; leave it to the lease reaper.
		log.Error("invalid claimed run", "error", err)
		return
	}

	ctx, span := otel.Tracer("pipeplane-worker").Start(ctx, "process_run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("tenant.id", run.TenantID),
			attribute.String("pipeline_version.id", run.PipelineVersionID),
			attribute.Int("run.attempt", run.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log.Info("processing run")

	lease := &leaseState{}
	if run.LeaseExpiresAt != nil {
		lease.set(*run.LeaseExpiresAt)
	}

	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	handle, err := a.runtime.Start(execCtx, opts)
	if err != nil {
		span.RecordError(err)
		a.report(ctx, log, opts.RunID, lease, api.CompleteRunRequest{
			Status: string(store.RunStatusFailed),
			Error:  fmt.Sprintf("failed to start runtime: %v", err),
		})
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		a.runHeartbeat(hbCtx, log, opts.RunID, lease, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := handle.Stop(stopCtx); err != nil {
				log.Warn("failed to stop abandoned run", "error", err)
			}
			cancelExec()
		})
	}()

	result, waitErr := handle.Wait(execCtx)
	stopHeartbeat()
	<-hbDone

	if lease.isLost() {
		log.Warn("claim lost, abandoning run")
		span.SetStatus(codes.Error, "claim lost")
		add(ctx, a.abandoned)
		return
	}

	req := api.CompleteRunRequest{Status: string(store.RunStatusSucceeded)}
	switch {
	case waitErr != nil:
		req.Status = string(store.RunStatusFailed)
		req.Error = fmt.Sprintf("runtime error: %v", waitErr)
		span.RecordError(waitErr)
	case result.Err != nil:
		req.Status = string(store.RunStatusFailed)
		req.Error = result.Err.Error()
		span.RecordError(result.Err)
	}
	if req.Status == string(store.RunStatusFailed) {
		span.SetStatus(codes.Error, req.Error)
	}

	a.report(ctx, log, opts.RunID, lease, req)
}

// runHeartbeat renews the lease until ctx is done. Transient failures are
// retried on the next tick; a lost claim calls abandon and stops renewing.
func (a *Agent) runHeartbeat(ctx context.Context, log *slog.Logger, runID uuid.UUID, lease *leaseState, abandon func()) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expires, err := a.controller.Heartbeat(ctx, runID, a.config.ID)
			if err == nil {
				lease.set(expires)
				continue
			}
			if errors.Is(err, ErrClaimLost) {
				lease.markLost()
				abandon()
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("heartbeat failed", "error", err)
		}
	}
}

// report delivers the outcome, retrying transient failures with backoff.
// It gives up on a lost claim, or once the lease has expired and the run is
// back in the reaper's hands.
func (a *Agent) report(ctx context.Context, log *slog.Logger, runID uuid.UUID, lease *leaseState, req api.CompleteRunRequest) {
	req.WorkerID = a.config.ID

	deadline := lease.expires()
	if now := time.Now(); !deadline.After(now) {
		deadline = now.Add(a.config.MaxBackoff)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	backoff := a.config.PollInterval
	for {
		err := a.controller.Complete(ctx, runID, req)
		if err == nil {
			log.Info("run reported", "status", req.Status)
			add(ctx, a.processed, attribute.String("status", req.Status))
			return
		}
		if errors.Is(err, ErrClaimLost) {
			log.Warn("completion rejected, abandoning run", "error", err)
			add(ctx, a.abandoned)
			return
		}

		log.Warn("report failed, retrying", "status", req.Status, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			log.Error("giving up reporting run", "status", req.Status, "error", err)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.config.MaxBackoff {
			backoff = a.config.MaxBackoff
		}
	}
}

func startOptions(run *api.RunResponse) (runtime.StartOptions, error) {
	runID, err := uuid.Parse(run.ID)
	if err != nil {
		return runtime.StartOptions{}, fmt.Errorf("run id: %w", err)
	}
	tenantID, err := uuid.Parse(run.TenantID)
	if err != nil {
		return runtime.StartOptions{}, fmt.Errorf("tenant id: %w", err)
	}
	versionID, err := uuid.Parse(run.PipelineVersionID)
	if err != nil {
		return runtime.StartOptions{}, fmt.Errorf("pipeline version id: %w", err)
	}
	return runtime.StartOptions{
		RunID:             runID,
		TenantID:          tenantID,
		PipelineVersionID: versionID,
		Attempt:           run.Attempt,
		Parameters:        run.Parameters,
	}, nil
}

// leaseState is shared between a run's heartbeat goroutine and its reporter.
type leaseState struct {
	mu    sync.Mutex
	until time.Time
	lost  atomic.Bool
}

func (l *leaseState) set(t time.Time) {
	l.mu.Lock()
	l.until = t
	l.mu.Unlock()
}

func (l *leaseState) expires() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.until
}

func (l *leaseState) markLost()    { l.lost.Store(true) }
func (l *leaseState) isLost() bool { return l.lost.Load() }

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
