// Package store defines the catalog persistence contract shared by the
// in-memory and SQL backends.
package store

import (
	"context"
	"time"

	"mdcatalog/internal/model"
)

// Store persists entities of every registered kind. Implementations own
// uniqueness: a write that would duplicate a unique field fails with a
// DuplicateValue validation error even under concurrent writers.
type Store interface {
	// Create assigns an ID when e.ID is empty and stores a copy of e.
	Create(ctx context.Context, e *model.Entity) (*model.Entity, error)
	// Update replaces the fields and UpdatedAt of an existing entity.
	Update(ctx context.Context, e *model.Entity) (*model.Entity, error)
	GetByID(ctx context.Context, kind, id string) (*model.Entity, error)
	FindByCode(ctx context.Context, kind, code string) (*model.Entity, error)
	// FindByField returns one entity whose field equals value.
	FindByField(ctx context.Context, kind, field string, value any) (*model.Entity, error)
	List(ctx context.Context, kind string, f Filter) (Page, error)
	// SetBlocked changes only the status flag and UpdatedAt.
	SetBlocked(ctx context.Context, kind, id string, blocked bool, at time.Time) (*model.Entity, error)
	// FindReferencing lists entities of kind whose field points at targetID.
	// limit <= 0 means no limit.
	FindReferencing(ctx context.Context, kind, field string, many bool, targetID string, limit int) ([]*model.Entity, error)
	Close() error
}

// Page is one window of a listing. Total counts every match.
type Page struct {
	Items []*model.Entity
	Total int
}
