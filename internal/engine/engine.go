package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pipeplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tuning values, used when the corresponding Config field is zero.
const (
	DefaultLeaseDuration    = 5 * time.Minute
	DefaultClaimMaxAttempts = 3
	DefaultTriggerType      = "manual"
)

// Store is the persistence the engine drives.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	store.VersionStore
	store.RunStore
}

// Config tunes the engine.
type Config struct {
	// LeaseDuration is how long a claim stays valid without a heartbeat.
	LeaseDuration time.Duration

	// ClaimMaxAttempts bounds how often ClaimNext re-selects after losing a race.
	ClaimMaxAttempts int

	// AutoRetryLimit is the number of automatic retries a failed chain gets.
	// Zero disables automatic retries.
	AutoRetryLimit int

	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine implements the run lifecycle.
type Engine struct {
	store   Store
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	tracer  trace.Tracer
	metrics *runMetrics
}

// New creates an engine backed by s.
func New(s Store, cfg Config) *Engine {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.ClaimMaxAttempts <= 0 {
		cfg.ClaimMaxAttempts = DefaultClaimMaxAttempts
	}
	if cfg.AutoRetryLimit < 0 {
		cfg.AutoRetryLimit = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		store:   s,
		cfg:     cfg,
		log:     cfg.Logger,
		now:     cfg.Now,
		tracer:  otel.Tracer("pipeplane-engine"),
		metrics: newRunMetrics(cfg.Logger),
	}
}

// CreateRequest describes a new original run.
type CreateRequest struct {
	TenantID          uuid.UUID
	PipelineVersionID uuid.UUID
	TriggerType       string
	Parameters        json.RawMessage
	Actor             string
}

// Create queues a new original run. The version must exist for the tenant
// and pass the gate; otherwise nothing is written.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*store.Run, error) {
	ctx, span := e.tracer.Start(ctx, "engine.create_run", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID.String()),
		attribute.String("pipeline_version.id", req.PipelineVersionID.String()),
	))
	defer span.End()

	version, err := e.store.GetPipelineVersion(ctx, req.PipelineVersionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("pipeline version %s: %w", req.PipelineVersionID, ErrNotFound)
		}
		return nil, e.fail(span, fmt.Errorf("get pipeline version: %w", err))
	}
	if version.TenantID != req.TenantID {
		return nil, fmt.Errorf("pipeline version %s: %w", req.PipelineVersionID, ErrNotFound)
	}
	if !IsRunnable(version) {
		return nil, fmt.Errorf("%w: pipeline version %s is %s, not %s",
			ErrPreconditionFailed, version.ID, version.Status, store.VersionStatusApproved)
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = DefaultTriggerType
	}
	params := req.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	run := &store.Run{
		ID:                uuid.New(),
		TenantID:          req.TenantID,
		PipelineVersionID: version.ID,
		Status:            store.RunStatusQueued,
		TriggerType:       triggerType,
		Parameters:        params,
		Attempt:           1,
		CreatedAt:         e.now().UTC(),
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, e.fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := e.store.CreateRun(ctx, tx, run); err != nil {
		return nil, e.fail(span, fmt.Errorf("create run: %w", err))
	}
	if err := e.appendEvent(ctx, tx, run, nil, store.EventCreated, actorOr(req.Actor, triggerType)); err != nil {
		return nil, e.fail(span, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, e.fail(span, fmt.Errorf("commit: %w", err))
	}

	span.SetAttributes(attribute.String("run.id", run.ID.String()))
	add(ctx, e.metrics.created, 1, attribute.String("trigger_type", triggerType))
	e.log.InfoContext(ctx, "run created",
		"run_id", run.ID, "tenant_id", run.TenantID, "pipeline_version_id", run.PipelineVersionID, "trigger_type", triggerType)

	return run, nil
}

// ClaimNext hands the oldest QUEUED run of the tenant to workerID under a lease.
// It returns (nil, nil) when the tenant has no claimable run.
func (e *Engine) ClaimNext(ctx context.Context, tenantID uuid.UUID, workerID string) (*store.Run, error) {
	ctx, span := e.tracer.Start(ctx, "engine.claim_next", trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("worker.id", workerID),
	))
	defer span.End()

	for attempt := 1; attempt <= e.cfg.ClaimMaxAttempts; attempt++ {
		leaseUntil := e.now().Add(e.cfg.LeaseDuration)

		run, err := e.store.ClaimNextRun(ctx, tenantID, workerID, leaseUntil)
		if errors.Is(err, store.ErrClaimConflict) {
			e.log.DebugContext(ctx, "claim lost race, selecting again", "tenant_id", tenantID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, e.fail(span, fmt.Errorf("claim next run: %w", err))
		}
		if run == nil {
			span.SetAttributes(attribute.Bool("run.found", false))
			return nil, nil
		}

		span.SetAttributes(attribute.Bool("run.found", true), attribute.String("run.id", run.ID.String()))
		add(ctx, e.metrics.claimed, 1)
		e.log.InfoContext(ctx, "run claimed",
			"run_id", run.ID, "tenant_id", tenantID, "worker_id", workerID,
			"from", store.RunStatusQueued, "to", store.RunStatusRunning)
		return run, nil
	}

	// Every attempt lost to a concurrent claimer; the caller polls again later.
	span.SetAttributes(attribute.Bool("run.found", false))
	return nil, nil
}

// CompleteRequest is a worker's outcome report.
type CompleteRequest struct {
	RunID  uuid.UUID
	Status store.RunStatus
	Error  string

	// WorkerID, when set, must match the worker holding the claim.
	WorkerID string
}

// Complete records the terminal status of a RUNNING run. A repeated report
// with the outcome already recorded succeeds without writing anything.
func (e *Engine) Complete(ctx context.Context, req CompleteRequest) (*store.Run, error) {
	ctx, span := e.tracer.Start(ctx, "engine.complete_run", trace.WithAttributes(
		attribute.String("run.id", req.RunID.String()),
		attribute.String("run.status", string(req.Status)),
	))
	defer span.End()

	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown run status %q", ErrInvalidArgument, req.Status)
	}
	if !req.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot complete run with status %s", ErrInvalidTransition, req.Status)
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, e.fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	run, err := e.store.GetRunForUpdate(ctx, tx, req.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", req.RunID, ErrNotFound)
		}
		return nil, e.fail(span, fmt.Errorf("get run: %w", err))
	}

	if run.Status == req.Status {
		e.log.InfoContext(ctx, "duplicate completion ignored", "run_id", run.ID, "status", run.Status, "worker_id", req.WorkerID)
		return run, nil
	}
	if run.Status != store.RunStatusRunning {
		return nil, fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, run.ID, run.Status)
	}
	if req.WorkerID != "" && (run.ClaimedBy == nil || *run.ClaimedBy != req.WorkerID) {
		return nil, fmt.Errorf("%w: run %s is not claimed by worker %s", ErrInvalidTransition, run.ID, req.WorkerID)
	}

	var errMsg *string
	reason := store.EventSucceeded
	if req.Status == store.RunStatusFailed {
		msg := req.Error
		errMsg = &msg
		reason = store.EventFailed
	}

	finished, err := e.store.FinishRun(ctx, tx, run.ID, req.Status, errMsg)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %s is no longer RUNNING", ErrInvalidTransition, run.ID)
		}
		return nil, e.fail(span, fmt.Errorf("finish run: %w", err))
	}

	running := store.RunStatusRunning
	if err := e.appendEvent(ctx, tx, finished, &running, reason, actorOr(req.WorkerID, "api")); err != nil {
		return nil, e.fail(span, err)
	}

	var autoRetry *store.Run
	if finished.Status == store.RunStatusFailed && e.shouldAutoRetry(finished) {
		autoRetry, err = e.retryLocked(ctx, tx, finished, "auto-retry")
		if err != nil {
			return nil, e.fail(span, fmt.Errorf("auto retry: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, e.fail(span, fmt.Errorf("commit: %w", err))
	}

	add(ctx, e.metrics.completed, 1, attribute.String("status", string(finished.Status)))
	e.log.InfoContext(ctx, "run completed",
		"run_id", finished.ID, "tenant_id", finished.TenantID, "worker_id", req.WorkerID,
		"from", store.RunStatusRunning, "to", finished.Status)

	if autoRetry != nil {
		add(ctx, e.metrics.created, 1, attribute.String("trigger_type", autoRetry.TriggerType))
		add(ctx, e.metrics.retried, 1, attribute.Bool("automatic", true))
		e.log.InfoContext(ctx, "run retried automatically",
			"run_id", autoRetry.ID, "retry_of_run_id", finished.ID, "root_run_id", autoRetry.RootRunID, "attempt", autoRetry.Attempt)
	}

	return finished, nil
}

func (e *Engine) shouldAutoRetry(run *store.Run) bool {
	return e.cfg.AutoRetryLimit > 0 && run.Attempt <= e.cfg.AutoRetryLimit
}

// Retry creates a new QUEUED run from a FAILED one. The source run is not modified.
func (e *Engine) Retry(ctx context.Context, tenantID, runID uuid.UUID, actor string) (*store.Run, error) {
	ctx, span := e.tracer.Start(ctx, "engine.retry_run", trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("run.id", runID.String()),
	))
	defer span.End()

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, e.fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	source, err := e.store.GetRunForUpdate(ctx, tx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, e.fail(span, fmt.Errorf("get run: %w", err))
	}
	if source.TenantID != tenantID {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	next, err := e.retryLocked(ctx, tx, source, actorOr(actor, "api"))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, e.fail(span, fmt.Errorf("commit: %w", err))
	}

	add(ctx, e.metrics.created, 1, attribute.String("trigger_type", next.TriggerType))
	add(ctx, e.metrics.retried, 1, attribute.Bool("automatic", false))
	e.log.InfoContext(ctx, "run retried",
		"run_id", next.ID, "tenant_id", tenantID, "retry_of_run_id", source.ID, "root_run_id", next.RootRunID, "attempt", next.Attempt)

	return next, nil
}

// retryLocked creates the retry of source inside tx. source must be row-locked by tx.
func (e *Engine) retryLocked(ctx context.Context, tx store.Tx, source *store.Run, actor string) (*store.Run, error) {
	if source.Status != store.RunStatusFailed {
		return nil, fmt.Errorf("%w: run %s is %s, only FAILED runs can be retried", ErrInvalidTransition, source.ID, source.Status)
	}

	existing, err := e.store.FindRetryOf(ctx, tx, source.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: run %s was already retried by %s", ErrInvalidTransition, source.ID, existing.ID)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find retry: %w", err)
	}

	retryOf := source.ID
	root := source.ChainRoot()

	next := &store.Run{
		ID:                uuid.New(),
		TenantID:          source.TenantID,
		PipelineVersionID: source.PipelineVersionID,
		Status:            store.RunStatusQueued,
		TriggerType:       source.TriggerType,
		Parameters:        source.Parameters,
		Attempt:           source.Attempt + 1,
		RetryOfRunID:      &retryOf,
		RootRunID:         &root,
		CreatedAt:         e.now().UTC(),
	}

	if err := e.store.CreateRun(ctx, tx, next); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: run %s was already retried", ErrInvalidTransition, source.ID)
		}
		return nil, fmt.Errorf("create retry run: %w", err)
	}
	if err := e.appendEvent(ctx, tx, next, nil, store.EventRetried, actor); err != nil {
		return nil, err
	}

	return next, nil
}

// Heartbeat extends the lease of a run held by workerID and returns the new expiry.
func (e *Engine) Heartbeat(ctx context.Context, runID uuid.UUID, workerID string) (time.Time, error) {
	until := e.now().Add(e.cfg.LeaseDuration)

	err := e.store.ExtendLease(ctx, runID, workerID, until)
	if err == nil {
		return until, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return time.Time{}, fmt.Errorf("extend lease: %w", err)
	}

	run, getErr := e.store.GetRun(ctx, nil, runID)
	if getErr != nil {
		if errors.Is(getErr, store.ErrNotFound) {
			return time.Time{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("get run: %w", getErr)
	}
	return time.Time{}, fmt.Errorf("%w: run %s is %s and not held by worker %s", ErrInvalidTransition, runID, run.Status, workerID)
}

// ReclaimExpired requeues up to limit RUNNING runs whose lease has expired.
func (e *Engine) ReclaimExpired(ctx context.Context, limit int) ([]store.Run, error) {
	ctx, span := e.tracer.Start(ctx, "engine.reclaim_expired")
	defer span.End()

	runs, err := e.store.RequeueExpiredLeases(ctx, e.now(), limit)
	if err != nil {
		return nil, e.fail(span, fmt.Errorf("requeue expired leases: %w", err))
	}

	span.SetAttributes(attribute.Int("runs.reclaimed", len(runs)))
	if len(runs) > 0 {
		add(ctx, e.metrics.reclaimed, int64(len(runs)))
	}
	for _, r := range runs {
		e.log.WarnContext(ctx, "run lease expired, requeued",
			"run_id", r.ID, "tenant_id", r.TenantID, "from", store.RunStatusRunning, "to", store.RunStatusQueued)
	}
	return runs, nil
}

// GetRun returns a run of the tenant.
func (e *Engine) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*store.Run, error) {
	run, err := e.store.GetRun(ctx, nil, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	if run.TenantID != tenantID {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, nil
}

// ListRuns returns the tenant's runs matching filter.
func (e *Engine) ListRuns(ctx context.Context, filter store.RunFilter) (*store.ListResult[store.Run], error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown run status %q", ErrInvalidArgument, st)
		}
	}
	return e.store.ListRuns(ctx, filter)
}

// Lineage is a retry chain.
type Lineage struct {
	RootRunID uuid.UUID
	Runs      []store.Run
}

// Lineage returns the retry chain the run belongs to, ordered by creation.
// Deleting a chain's root nulls root_run_id on its successors, so the chain is
// also followed through the surviving retry_of_run_id links. RootRunID is then
// the oldest surviving run.
func (e *Engine) Lineage(ctx context.Context, tenantID, runID uuid.UUID) (*Lineage, error) {
	run, err := e.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	root := run.ChainRoot()
	runs, err := e.store.ListChain(ctx, tenantID, root)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	if len(runs) == 0 {
		runs = []store.Run{*run}
	}

	runs, err = e.followRetryLinks(ctx, tenantID, runs)
	if err != nil {
		return nil, err
	}

	return &Lineage{RootRunID: runs[0].ID, Runs: runs}, nil
}

// followRetryLinks prepends the predecessors of the oldest run and appends the
// successors of the newest one.
func (e *Engine) followRetryLinks(ctx context.Context, tenantID uuid.UUID, runs []store.Run) ([]store.Run, error) {
	seen := make(map[uuid.UUID]bool, len(runs))
	for _, r := range runs {
		seen[r.ID] = true
	}

	var ancestors []store.Run
	for head := runs[0]; head.RetryOfRunID != nil && !seen[*head.RetryOfRunID]; {
		prev, err := e.store.GetRun(ctx, nil, *head.RetryOfRunID)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get predecessor: %w", err)
		}
		if prev.TenantID != tenantID {
			break
		}
		seen[prev.ID] = true
		ancestors = append([]store.Run{*prev}, ancestors...)
		head = *prev
	}

	out := append(ancestors, runs...)
	for tail := out[len(out)-1]; ; {
		next, err := e.store.FindRetryOf(ctx, nil, tail.ID)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("find successor: %w", err)
		}
		if next.TenantID != tenantID || seen[next.ID] {
			break
		}
		seen[next.ID] = true
		out = append(out, *next)
		tail = *next
	}
	return out, nil
}

// Events returns the transition history of a run.
func (e *Engine) Events(ctx context.Context, tenantID, runID uuid.UUID) ([]store.RunEvent, error) {
	if _, err := e.GetRun(ctx, tenantID, runID); err != nil {
		return nil, err
	}
	events, err := e.store.ListRunEvents(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	return events, nil
}

// DeleteRun removes a terminal run. Its successors keep existing with their
// lineage references nulled.
func (e *Engine) DeleteRun(ctx context.Context, tenantID, runID uuid.UUID) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	run, err := e.store.GetRunForUpdate(ctx, tx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return fmt.Errorf("get run: %w", err)
	}
	if run.TenantID != tenantID {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if !run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s, only terminal runs can be deleted", ErrInvalidTransition, run.ID, run.Status)
	}

	if err := e.store.DeleteRun(ctx, tx, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	e.log.InfoContext(ctx, "run deleted", "run_id", runID, "tenant_id", tenantID)
	return nil
}

func (e *Engine) appendEvent(ctx context.Context, tx store.Tx, run *store.Run, from *store.RunStatus, reason, actor string) error {
	err := e.store.AppendRunEvent(ctx, tx, &store.RunEvent{
		RunID:      run.ID,
		TenantID:   run.TenantID,
		FromStatus: from,
		ToStatus:   run.Status,
		Reason:     reason,
		Actor:      actor,
	})
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return nil
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}
