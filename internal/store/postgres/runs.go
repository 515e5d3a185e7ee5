package postgres

import (
	"context"
	"fmt"
	"strings"

	"pipeplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var runColumnNames = []string{
	"id", "tenant_id", "pipeline_version_id", "status", "trigger_type", "parameters", "error", "attempt",
	"retry_of_run_id", "root_run_id", "claimed_by", "lease_expires_at", "started_at", "finished_at", "created_at",
}

var runColumns = strings.Join(runColumnNames, ", ")

// qualifiedRunColumns prefixes every run column with a table alias.
func qualifiedRunColumns(alias string) string {
	cols := make([]string, len(runColumnNames))
	for i, c := range runColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func scanRun(row rowScanner) (*store.Run, error) {
	var r store.Run
	var params []byte
	err := row.Scan(
		&r.ID, &r.TenantID, &r.PipelineVersionID, &r.Status, &r.TriggerType, &params, &r.Error, &r.Attempt,
		&r.RetryOfRunID, &r.RootRunID, &r.ClaimedBy, &r.LeaseExpiresAt, &r.StartedAt, &r.FinishedAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Parameters = params
	return &r, nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, tenant_id, pipeline_version_id, status, trigger_type, parameters, attempt, retry_of_run_id, root_run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		run.ID,
		run.TenantID,
		run.PipelineVersionID,
		run.Status,
		run.TriggerType,
		jsonOrEmpty(run.Parameters),
		run.Attempt,
		run.RetryOfRunID,
		run.RootRunID,
		run.CreatedAt,
	)
	return mapError(err)
}

func (s *Store) GetRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, "SELECT "+runColumns+" FROM pipeline_runs WHERE id = $1", id)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapError(err)
	}
	return run, nil
}

// GetRunForUpdate locks the row so concurrent completions and retries serialize on it.
func (s *Store) GetRunForUpdate(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, "SELECT "+runColumns+" FROM pipeline_runs WHERE id = $1 FOR UPDATE", id)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapError(err)
	}
	return run, nil
}

// FinishRun moves a RUNNING run to a terminal status. The status guard makes
// the update a no-op for runs that are no longer RUNNING.
func (s *Store) FinishRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.RunStatus, errMsg *string) (*store.Run, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, `
		UPDATE pipeline_runs
		SET status = $1, error = $2, finished_at = NOW(), lease_expires_at = NULL
		WHERE id = $3 AND status = $4
		RETURNING `+runColumns,
		status, errMsg, id, store.RunStatusRunning)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapError(err)
	}
	return run, nil
}

// FindRetryOf returns the run created as the retry of id.
func (s *Store) FindRetryOf(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, "SELECT "+runColumns+" FROM pipeline_runs WHERE retry_of_run_id = $1", id)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapError(err)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, oldest first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) (*store.ListResult[store.Run], error) {
	page := filter.Page.Normalize()

	var w whereBuilder
	w.add("tenant_id = ?", filter.TenantID)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY(?)", pq.Array(statuses))
	}
	if filter.PipelineVersionID != nil {
		w.add("pipeline_version_id = ?", *filter.PipelineVersionID)
	}
	if filter.RootRunID != nil {
		w.add("root_run_id = ?", *filter.RootRunID)
	}
	if filter.RetryOfRunID != nil {
		w.add("retry_of_run_id = ?", *filter.RetryOfRunID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_runs "+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM pipeline_runs "+w.clause()+
		" ORDER BY created_at ASC, id ASC "+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := &store.ListResult[store.Run]{Total: total, Page: page}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, *run)
	}
	return result, rows.Err()
}

// ListChain returns the root run (if it still exists) and every run rooted at it.
func (s *Store) ListChain(ctx context.Context, tenantID, rootID uuid.UUID) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE tenant_id = $1 AND (id = $2 OR root_run_id = $2)
		ORDER BY created_at ASC, id ASC
	`, tenantID, rootID)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run. The lineage foreign keys of its successors are
// declared ON DELETE SET NULL, so the chain is never cascaded.
func (s *Store) DeleteRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, "DELETE FROM pipeline_runs WHERE id = $1", id)
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

// CountRunsByStatus backs the run gauges.
func (s *Store) CountRunsByStatus(ctx context.Context) (map[store.RunStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM pipeline_runs GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[store.RunStatus]int64)
	for rows.Next() {
		var status store.RunStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
