package postgres

import (
	"context"

	"pipeplane/internal/store"

	"github.com/google/uuid"
)

// AppendRunEvent records a transition. Callers pass the transaction that performed it.
func (s *Store) AppendRunEvent(ctx context.Context, tx store.DBTransaction, event *store.RunEvent) error {
	var from *string
	if event.FromStatus != nil {
		f := string(*event.FromStatus)
		from = &f
	}

	err := s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO pipeline_run_events (run_id, tenant_id, from_status, to_status, reason, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, occurred_at
	`, event.RunID, event.TenantID, from, event.ToStatus, event.Reason, event.Actor).Scan(&event.ID, &event.OccurredAt)
	return mapError(err)
}

func (s *Store) ListRunEvents(ctx context.Context, runID uuid.UUID) ([]store.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tenant_id, from_status, to_status, reason, actor, occurred_at
		FROM pipeline_run_events
		WHERE run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.RunEvent
	for rows.Next() {
		var e store.RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.TenantID, &e.FromStatus, &e.ToStatus, &e.Reason, &e.Actor, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
