package postgres

import (
	"context"
	"fmt"

	"pipeplane/internal/store"

	"github.com/google/uuid"
)

const versionColumns = `pv.id, pv.tenant_id, pv.pipeline_id, COALESCE(p.name, ''), pv.version, pv.status, pv.dag_spec, pv.created_at`

// CreatePipelineVersion inserts a new version. Versions always start in DRAFT.
func (s *Store) CreatePipelineVersion(ctx context.Context, v *store.PipelineVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_versions (id, tenant_id, pipeline_id, version, status, dag_spec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.TenantID, v.PipelineID, v.Version, v.Status, jsonOrEmpty(v.DAGSpec), v.CreatedAt)
	return mapError(err)
}

// GetPipelineVersion returns a version regardless of tenant; callers compare TenantID.
func (s *Store) GetPipelineVersion(ctx context.Context, id uuid.UUID) (*store.PipelineVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM pipeline_versions pv
		LEFT JOIN pipelines p ON p.id = pv.pipeline_id
		WHERE pv.id = $1
	`, id)
	v, err := scanVersion(row)
	if err != nil {
		return nil, mapError(err)
	}
	return v, nil
}

// ListPipelineVersions returns versions matching the filter, newest first.
func (s *Store) ListPipelineVersions(ctx context.Context, filter store.VersionFilter) (*store.ListResult[store.PipelineVersion], error) {
	page := filter.Page.Normalize()

	var w whereBuilder
	w.add("pv.tenant_id = ?", filter.TenantID)
	if filter.PipelineID != nil {
		w.add("pv.pipeline_id = ?", *filter.PipelineID)
	}
	if filter.Status != "" {
		w.add("pv.status = ?", filter.Status)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_versions pv "+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count pipeline versions: %w", err)
	}

	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM pipeline_versions pv
		LEFT JOIN pipelines p ON p.id = pv.pipeline_id
		`+w.clause()+`
		ORDER BY pv.created_at DESC `+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipeline versions: %w", err)
	}
	defer rows.Close()

	result := &store.ListResult[store.PipelineVersion]{Total: total, Page: page}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, *v)
	}
	return result, rows.Err()
}

// SetPipelineVersionStatus is the approval workflow's only write path.
func (s *Store) SetPipelineVersionStatus(ctx context.Context, tenantID, id uuid.UUID, status store.VersionStatus) (*store.PipelineVersion, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_versions SET status = $1
		WHERE id = $2 AND tenant_id = $3
	`, status, id, tenantID)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetPipelineVersion(ctx, id)
}

func scanVersion(row rowScanner) (*store.PipelineVersion, error) {
	var v store.PipelineVersion
	var spec []byte
	if err := row.Scan(&v.ID, &v.TenantID, &v.PipelineID, &v.PipelineName, &v.Version, &v.Status, &spec, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.DAGSpec = spec
	return &v, nil
}
