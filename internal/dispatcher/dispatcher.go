// Package dispatcher is the worker-facing side of the run engine: claiming,
// heartbeats, outcome reports and the reclaim of expired claims.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pipeplane/internal/engine"
	"pipeplane/internal/store"

	"github.com/google/uuid"
)

// Engine is the subset of the run engine the dispatcher drives.
type Engine interface {
	ClaimNext(ctx context.Context, tenantID uuid.UUID, workerID string) (*store.Run, error)
	Complete(ctx context.Context, req engine.CompleteRequest) (*store.Run, error)
	Heartbeat(ctx context.Context, runID uuid.UUID, workerID string) (time.Time, error)
	ReclaimExpired(ctx context.Context, limit int) ([]store.Run, error)
}

// ErrMissingWorkerID is returned when a worker call carries no worker id.
var ErrMissingWorkerID = errors.New("worker_id is required")

// Dispatcher shapes worker requests for the engine. It holds no run state.
type Dispatcher struct {
	engine Engine
	log    *slog.Logger
}

// New creates a dispatcher.
func New(e Engine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{engine: e, log: log}
}

// Claim returns the next run for the tenant. ok is false when there is no work.
func (d *Dispatcher) Claim(ctx context.Context, tenantID uuid.UUID, workerID string) (run *store.Run, ok bool, err error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, false, ErrMissingWorkerID
	}
	if tenantID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: tenant_id is required", engine.ErrInvalidArgument)
	}

	run, err = d.engine.ClaimNext(ctx, tenantID, workerID)
	if err != nil {
		return nil, false, err
	}
	if run == nil {
		return nil, false, nil
	}
	return run, true, nil
}

// Report forwards a worker's outcome for a run it executed.
// An empty workerID skips the ownership check and only the persisted status is checked.
func (d *Dispatcher) Report(ctx context.Context, runID uuid.UUID, workerID string, status store.RunStatus, errMsg string) (*store.Run, error) {
	run, err := d.engine.Complete(ctx, engine.CompleteRequest{
		RunID:    runID,
		Status:   status,
		Error:    errMsg,
		WorkerID: strings.TrimSpace(workerID),
	})
	if err != nil {
		d.log.WarnContext(ctx, "completion report rejected",
			"run_id", runID, "worker_id", workerID, "status", status, "error", err)
		return nil, err
	}
	return run, nil
}

// Heartbeat extends the claim lease of a run held by workerID.
func (d *Dispatcher) Heartbeat(ctx context.Context, runID uuid.UUID, workerID string) (time.Time, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return time.Time{}, ErrMissingWorkerID
	}
	return d.engine.Heartbeat(ctx, runID, workerID)
}
