package postgres

import (
	"context"
	"fmt"

	"pipeplane/internal/store"

	"github.com/google/uuid"
)

// CreatePipeline inserts a new pipeline row.
func (s *Store) CreatePipeline(ctx context.Context, p *store.Pipeline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, tenant_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.TenantID, p.Name, p.Description, p.CreatedAt)
	return mapError(err)
}

func (s *Store) GetPipeline(ctx context.Context, tenantID, id uuid.UUID) (*store.Pipeline, error) {
	var p store.Pipeline
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, created_at
		FROM pipelines
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// ListPipelines returns the tenant's pipelines, newest first.
func (s *Store) ListPipelines(ctx context.Context, filter store.PipelineFilter) (*store.ListResult[store.Pipeline], error) {
	page := filter.Page.Normalize()

	var w whereBuilder
	w.add("tenant_id = ?", filter.TenantID)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipelines "+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count pipelines: %w", err)
	}

	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, description, created_at
		FROM pipelines `+w.clause()+`
		ORDER BY created_at DESC `+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	result := &store.ListResult[store.Pipeline]{Total: total, Page: page}
	for rows.Next() {
		var p store.Pipeline
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		result.Items = append(result.Items, p)
	}
	return result, rows.Err()
}
