// Package scheduler creates runs on cron schedules.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pipeplane/internal/engine"
	"pipeplane/internal/store"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TriggerType marks runs created by a schedule.
const TriggerType = "scheduled"

const triggerTimeout = 30 * time.Second

// Creator creates runs. Implemented by *engine.Engine.
type Creator interface {
	Create(ctx context.Context, req engine.CreateRequest) (*store.Run, error)
}

// Schedule triggers a run of a pipeline version on a standard 5-field cron spec.
type Schedule struct {
	Name              string
	TenantID          uuid.UUID
	PipelineVersionID uuid.UUID
	Cron              string
	Parameters        json.RawMessage
}

// Scheduler owns the cron entries of all configured schedules.
type Scheduler struct {
	creator Creator
	cron    *cron.Cron
	log     *slog.Logger

	mu        sync.Mutex
	entries   map[string]cron.EntryID
	schedules map[string]Schedule
}

// New creates a stopped scheduler.
func New(c Creator, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		creator:   c,
		cron:      cron.New(),
		log:       log,
		entries:   make(map[string]cron.EntryID),
		schedules: make(map[string]Schedule),
	}
}

// Add registers sc, replacing any schedule with the same name.
func (s *Scheduler) Add(sc Schedule) error {
	if sc.Name == "" {
		return errors.New("schedule name is required")
	}
	if sc.TenantID == uuid.Nil || sc.PipelineVersionID == uuid.Nil {
		return fmt.Errorf("schedule %s: tenant_id and pipeline_version_id are required", sc.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddJob(sc.Cron, &scheduledRun{scheduler: s, name: sc.Name})
	if err != nil {
		return fmt.Errorf("schedule %s: invalid cron spec %q: %w", sc.Name, sc.Cron, err)
	}
	if old, ok := s.entries[sc.Name]; ok {
		s.cron.Remove(old)
	}
	s.entries[sc.Name] = id
	s.schedules[sc.Name] = sc

	s.log.Info("schedule registered", "schedule", sc.Name, "cron", sc.Cron,
		"tenant_id", sc.TenantID, "pipeline_version_id", sc.PipelineVersionID)
	return nil
}

// Remove unregisters a schedule. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.schedules, name)
	}
}

// Names returns the registered schedule names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.schedules))
	for name := range s.schedules {
		names = append(names, name)
	}
	return names
}

// Next returns the next activation time of a schedule.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop. The returned context is done once running triggers finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger creates a run for the named schedule immediately.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*store.Run, error) {
	s.mu.Lock()
	sc, ok := s.schedules[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", name, store.ErrNotFound)
	}

	return s.creator.Create(ctx, engine.CreateRequest{
		TenantID:          sc.TenantID,
		PipelineVersionID: sc.PipelineVersionID,
		TriggerType:       TriggerType,
		Parameters:        sc.Parameters,
		Actor:             "schedule:" + sc.Name,
	})
}

// scheduledRun adapts a schedule to cron.Job.
type scheduledRun struct {
	scheduler *Scheduler
	name      string
}

func (j *scheduledRun) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()

	run, err := j.scheduler.Trigger(ctx, j.name)
	switch {
	case err == nil:
		j.scheduler.log.Info("scheduled run created", "schedule", j.name, "run_id", run.ID)
	case errors.Is(err, engine.ErrPreconditionFailed), errors.Is(err, engine.ErrNotFound):
		j.scheduler.log.Warn("scheduled run skipped", "schedule", j.name, "error", err)
	default:
		j.scheduler.log.Error("scheduled run failed", "schedule", j.name, "error", err)
	}
}
