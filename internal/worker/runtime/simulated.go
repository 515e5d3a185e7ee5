package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimulateErrorParam makes a simulated run fail. A string value becomes the error message.
const SimulateErrorParam = "simulate_error"

// Simulated stands in for DAG execution: it waits for Duration and then
// succeeds, unless the run parameters carry simulate_error.
type Simulated struct {
	Duration time.Duration
}

// NewSimulated creates a simulated runtime.
func NewSimulated(d time.Duration) *Simulated {
	return &Simulated{Duration: d}
}

func (s *Simulated) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	msg, err := simulatedFailure(opts.Parameters)
	if err != nil {
		return nil, err
	}

	h := &simulatedHandle{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if msg != "" {
		h.failure = errors.New(msg)
	}
	go h.run(s.Duration)
	return h, nil
}

// simulatedFailure returns the failure message requested by the run parameters, or "".
func simulatedFailure(params json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	var p map[string]interface{}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid run parameters: %w", err)
	}

	switch v := p[SimulateErrorParam].(type) {
	case nil:
		return "", nil
	case bool:
		if v {
			return "simulated failure", nil
		}
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprintf("simulated failure: %v", v), nil
	}
}

type simulatedHandle struct {
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	failure  error
}

func (h *simulatedHandle) run(d time.Duration) {
	defer close(h.done)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-h.stopped:
	}
}

func (h *simulatedHandle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-h.done:
	}

	select {
	case <-h.stopped:
		return Result{}, errors.New("execution stopped")
	default:
	}
	return Result{Err: h.failure}, nil
}

func (h *simulatedHandle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stopped) })
	return nil
}
