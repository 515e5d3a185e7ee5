package dispatcher

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
)

// Reaper periodically requeues runs whose claim lease expired, so a crashed
// worker never leaves a run RUNNING forever.
type Reaper struct {
	engine   Engine
	interval time.Duration
	batch    int
	log      *slog.Logger
}

// NewReaper creates a reaper sweeping every interval.
func NewReaper(e Engine, interval time.Duration, log *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		engine:   e,
		interval: interval,
		batch:    defaultSweepBatch,
		log:      log,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("lease reaper started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("lease sweep failed", "error", err)
			}
		}
	}
}

// Sweep requeues expired runs batch by batch until a batch comes back short.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		runs, err := r.engine.ReclaimExpired(ctx, r.batch)
		if err != nil {
			return total, err
		}
		total += len(runs)
		if len(runs) < r.batch {
			return total, nil
		}
	}
}
