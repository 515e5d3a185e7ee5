package store

import (
	"github.com/google/uuid"
)

// Pagination bounds shared by every list endpoint.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Page selects a window of a list result.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to the allowed bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ListResult is a page of items plus the total number of matching rows.
type ListResult[T any] struct {
	Items []T
	Total int64
	Page  Page
}

// PipelineFilter narrows pipeline listings.
type PipelineFilter struct {
	TenantID uuid.UUID
	Page     Page
}

// VersionFilter narrows pipeline version listings. Zero values are ignored.
type VersionFilter struct {
	TenantID   uuid.UUID
	PipelineID *uuid.UUID
	Status     VersionStatus
	Page       Page
}

// FacilityFilter narrows facility listings.
type FacilityFilter struct {
	TenantID uuid.UUID
	Page     Page
}

// ConnectorFilter narrows connector instance listings.
type ConnectorFilter struct {
	TenantID      uuid.UUID
	ConnectorType string
	Page          Page
}

// RunFilter narrows run listings. Zero values are ignored.
type RunFilter struct {
	TenantID          uuid.UUID
	Statuses          []RunStatus
	PipelineVersionID *uuid.UUID
	RootRunID         *uuid.UUID
	RetryOfRunID      *uuid.UUID
	Page              Page
}
