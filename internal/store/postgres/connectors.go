package postgres

import (
	"context"
	"fmt"

	"pipeplane/internal/store"
)

// CreateConnectorInstance inserts a new connector instance row.
func (s *Store) CreateConnectorInstance(ctx context.Context, c *store.ConnectorInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_instances (id, tenant_id, facility_id, connector_type, status, config, secrets_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.TenantID, c.FacilityID, c.ConnectorType, c.Status, jsonOrEmpty(c.Config), c.SecretsRef, c.CreatedAt)
	return mapError(err)
}

func (s *Store) ListConnectorInstances(ctx context.Context, filter store.ConnectorFilter) (*store.ListResult[store.ConnectorInstance], error) {
	page := filter.Page.Normalize()

	var w whereBuilder
	w.add("tenant_id = ?", filter.TenantID)
	if filter.ConnectorType != "" {
		w.add("connector_type = ?", filter.ConnectorType)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM connector_instances "+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count connector instances: %w", err)
	}

	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, facility_id, connector_type, status, config, secrets_ref, created_at
		FROM connector_instances `+w.clause()+`
		ORDER BY created_at DESC `+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("list connector instances: %w", err)
	}
	defer rows.Close()

	result := &store.ListResult[store.ConnectorInstance]{Total: total, Page: page}
	for rows.Next() {
		var c store.ConnectorInstance
		var config []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.FacilityID, &c.ConnectorType, &c.Status, &config, &c.SecretsRef, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Config = config
		result.Items = append(result.Items, c)
	}
	return result, rows.Err()
}
