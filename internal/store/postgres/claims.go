package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pipeplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ClaimNextRun claims the oldest QUEUED run of a tenant using SELECT ... FOR UPDATE SKIP LOCKED.
// Concurrent claimers skip rows locked by each other, so each QUEUED row is
// handed to at most one caller. Returns (nil, nil) if no run is available.
func (s *Store) ClaimNextRun(ctx context.Context, tenantID uuid.UUID, workerID string, leaseUntil time.Time) (*store.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var runID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM pipeline_runs
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, tenantID, store.RunStatusQueued).Scan(&runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim select failed: %w", err)
	}

	// Guarded by the current status: only one transition out of QUEUED can commit.
	row := tx.QueryRowContext(ctx, `
		UPDATE pipeline_runs
		SET status = $1, claimed_by = $2, lease_expires_at = $3, started_at = NOW()
		WHERE id = $4 AND status = $5
		RETURNING `+runColumns,
		store.RunStatusRunning, workerID, leaseUntil, runID, store.RunStatusQueued)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrClaimConflict
		}
		return nil, fmt.Errorf("claim update failed: %w", err)
	}

	from := store.RunStatusQueued
	if err := s.AppendRunEvent(ctx, tx, &store.RunEvent{
		RunID:      run.ID,
		TenantID:   run.TenantID,
		FromStatus: &from,
		ToStatus:   store.RunStatusRunning,
		Reason:     store.EventClaimed,
		Actor:      workerID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return run, nil
}

// ExtendLease is the heartbeat write. It only touches a run still RUNNING under the same worker.
func (s *Store) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, leaseUntil time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET lease_expires_at = $1
		WHERE id = $2 AND status = $3 AND claimed_by = $4
	`, leaseUntil, id, store.RunStatusRunning, workerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RequeueExpiredLeases returns RUNNING runs whose lease expired to QUEUED in one statement
// and records a lease_expired event for each of them.
func (s *Store) RequeueExpiredLeases(ctx context.Context, now time.Time, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 100
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		WITH expired AS (
			SELECT id FROM pipeline_runs
			WHERE status = $1 AND lease_expires_at < $2
			ORDER BY lease_expires_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE pipeline_runs r
		SET status = $4, claimed_by = NULL, lease_expires_at = NULL, started_at = NULL
		FROM expired
		WHERE r.id = expired.id
		RETURNING `+qualifiedRunColumns("r"),
		store.RunStatusRunning, now, limit, store.RunStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("requeue expired leases failed: %w", err)
	}

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, *run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, nil
	}

	runIDs := make([]uuid.UUID, len(runs))
	tenantIDs := make([]uuid.UUID, len(runs))
	for i, r := range runs {
		runIDs[i] = r.ID
		tenantIDs[i] = r.TenantID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_run_events (run_id, tenant_id, from_status, to_status, reason, actor)
		SELECT run_id, tenant_id, $3, $4, $5, 'reaper'
		FROM UNNEST($1::uuid[], $2::uuid[]) AS t(run_id, tenant_id)
	`, pq.Array(runIDs), pq.Array(tenantIDs), store.RunStatusRunning, store.RunStatusQueued, store.EventLeaseExpired)
	if err != nil {
		return nil, fmt.Errorf("record lease expiry events failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return runs, nil
}
