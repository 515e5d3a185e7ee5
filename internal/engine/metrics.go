package engine

import (
	"context"
	"log/slog"

	"pipeplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type runMetrics struct {
	created   metric.Int64Counter
	claimed   metric.Int64Counter
	completed metric.Int64Counter
	retried   metric.Int64Counter
	reclaimed metric.Int64Counter
}

func newRunMetrics(log *slog.Logger) *runMetrics {
	meter := otel.Meter("pipeplane-engine")
	m := &runMetrics{}

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			log.Warn("failed to register counter", "metric", name, "error", err)
		}
		return c
	}

	m.created = counter("pipeplane.runs.created", "Runs created, including retries")
	m.claimed = counter("pipeplane.runs.claimed", "Runs claimed by workers")
	m.completed = counter("pipeplane.runs.completed", "Runs that reached a terminal status")
	m.retried = counter("pipeplane.runs.retried", "Retry runs created from failed runs")
	m.reclaimed = counter("pipeplane.runs.reclaimed", "Runs requeued after their claim lease expired")
	return m
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// RegisterRunGauge exports the number of runs per status, read from the store on each collection.
func RegisterRunGauge(meter metric.Meter, counter interface {
	CountRunsByStatus(ctx context.Context) (map[store.RunStatus]int64, error)
}, log *slog.Logger) error {
	_, err := meter.Int64ObservableGauge("pipeplane.runs.by_status",
		metric.WithDescription("Current number of runs per status"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			counts, err := counter.CountRunsByStatus(ctx)
			if err != nil {
				log.Error("failed to count runs", "error", err)
				return nil
			}
			for _, status := range []store.RunStatus{store.RunStatusQueued, store.RunStatusRunning, store.RunStatusSucceeded, store.RunStatusFailed} {
				obs.Observe(counts[status], metric.WithAttributes(attribute.String("status", string(status))))
			}
			return nil
		}),
	)
	return err
}
