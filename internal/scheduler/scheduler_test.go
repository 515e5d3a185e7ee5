package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pipeplane/internal/engine"
	"pipeplane/internal/store"

	"github.com/google/uuid"
)

type fakeCreator struct {
	mu   sync.Mutex
	reqs []engine.CreateRequest
	err  error
}

func (f *fakeCreator) Create(ctx context.Context, req engine.CreateRequest) (*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &store.Run{ID: uuid.New(), TenantID: req.TenantID, Status: store.RunStatusQueued, TriggerType: req.TriggerType}, nil
}

func (f *fakeCreator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func newTestScheduler(c Creator) *Scheduler {
	return New(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func nightly() Schedule {
	return Schedule{
		Name:              "nightly",
		TenantID:          uuid.New(),
		PipelineVersionID: uuid.New(),
		Cron:              "0 2 * * *",
		Parameters:        json.RawMessage(`{"window":"24h"}`),
	}
}

func TestAdd_Validation(t *testing.T) {
	s := newTestScheduler(&fakeCreator{})

	tests := []struct {
		name   string
		mutate func(*Schedule)
	}{
		{"missing name", func(sc *Schedule) { sc.Name = "" }},
		{"missing tenant", func(sc *Schedule) { sc.TenantID = uuid.Nil }},
		{"missing version", func(sc *Schedule) { sc.PipelineVersionID = uuid.Nil }},
		{"bad cron", func(sc *Schedule) { sc.Cron = "every night" }},
		{"seconds field not accepted", func(sc *Schedule) { sc.Cron = "0 0 2 * * *" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := nightly()
			tt.mutate(&sc)
			if err := s.Add(sc); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if len(s.Names()) != 0 {
		t.Errorf("invalid schedules were registered: %v", s.Names())
	}
}

func TestAdd_ReplacesByName(t *testing.T) {
	s := newTestScheduler(&fakeCreator{})

	sc := nightly()
	if err := s.Add(sc); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	sc.Cron = "30 3 * * *"
	if err := s.Add(sc); err != nil {
		t.Fatalf("second Add failed: %v", err)
	}

	if names := s.Names(); len(names) != 1 {
		t.Errorf("got %d schedules, want 1", len(names))
	}
	if got := len(s.cron.Entries()); got != 1 {
		t.Errorf("got %d cron entries, want 1", got)
	}
}

func TestRemove(t *testing.T) {
	s := newTestScheduler(&fakeCreator{})
	if err := s.Add(nightly()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Remove("nightly")
	s.Remove("unknown")

	if len(s.Names()) != 0 || len(s.cron.Entries()) != 0 {
		t.Error("schedule was not removed")
	}
}

func TestTrigger_CreatesScheduledRun(t *testing.T) {
	c := &fakeCreator{}
	s := newTestScheduler(c)
	sc := nightly()
	if err := s.Add(sc); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	run, err := s.Trigger(context.Background(), "nightly")
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if run.TriggerType != TriggerType {
		t.Errorf("got trigger_type %q, want %q", run.TriggerType, TriggerType)
	}

	req := c.reqs[0]
	if req.TenantID != sc.TenantID || req.PipelineVersionID != sc.PipelineVersionID {
		t.Errorf("unexpected create request: %+v", req)
	}
	if string(req.Parameters) != `{"window":"24h"}` || req.Actor != "schedule:nightly" {
		t.Errorf("unexpected create request: %+v", req)
	}
}

func TestTrigger_UnknownSchedule(t *testing.T) {
	s := newTestScheduler(&fakeCreator{})

	if _, err := s.Trigger(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestScheduledRun_GateFailureIsNotFatal(t *testing.T) {
	c := &fakeCreator{err: engine.ErrPreconditionFailed}
	s := newTestScheduler(c)
	if err := s.Add(nightly()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	job := &scheduledRun{scheduler: s, name: "nightly"}
	job.Run()

	if c.calls() != 1 {
		t.Errorf("got %d create calls, want 1", c.calls())
	}
}

func TestNext(t *testing.T) {
	s := newTestScheduler(&fakeCreator{})
	if err := s.Add(nightly()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		next, ok := s.Next("nightly")
		if !ok {
			t.Fatal("schedule not found")
		}
		if !next.IsZero() {
			if next.Hour() != 2 || next.Minute() != 0 {
				t.Errorf("next activation %v, want 02:00", next)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("next activation was never computed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := s.Next("missing"); ok {
		t.Error("expected unknown schedule to report false")
	}
}
