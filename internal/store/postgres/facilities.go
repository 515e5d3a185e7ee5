package postgres

import (
	"context"
	"fmt"

	"pipeplane/internal/store"

	"github.com/google/uuid"
)

// CreateFacility inserts a new facility row.
func (s *Store) CreateFacility(ctx context.Context, f *store.Facility) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facilities (id, tenant_id, name, facility_type, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, f.ID, f.TenantID, f.Name, f.FacilityType, f.Timezone, f.CreatedAt)
	return mapError(err)
}

func (s *Store) GetFacility(ctx context.Context, tenantID, id uuid.UUID) (*store.Facility, error) {
	var f store.Facility
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, facility_type, timezone, created_at
		FROM facilities
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&f.ID, &f.TenantID, &f.Name, &f.FacilityType, &f.Timezone, &f.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &f, nil
}

func (s *Store) ListFacilities(ctx context.Context, filter store.FacilityFilter) (*store.ListResult[store.Facility], error) {
	page := filter.Page.Normalize()

	var w whereBuilder
	w.add("tenant_id = ?", filter.TenantID)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facilities "+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count facilities: %w", err)
	}

	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, facility_type, timezone, created_at
		FROM facilities `+w.clause()+`
		ORDER BY created_at DESC `+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	defer rows.Close()

	result := &store.ListResult[store.Facility]{Total: total, Page: page}
	for rows.Next() {
		var f store.Facility
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &f.FacilityType, &f.Timezone, &f.CreatedAt); err != nil {
			return nil, err
		}
		result.Items = append(result.Items, f)
	}
	return result, rows.Err()
}
