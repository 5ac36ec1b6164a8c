package out

import (
	"context"

	"sync_server/core/domain"
)

// ConflictRepository - audit-trail store of detected sync conflicts.
// Rows are created on detection and mutated only by resolution; never deleted.
type ConflictRepository interface {
	Create(ctx context.Context, conflict *domain.SyncConflict) error
	GetByID(ctx context.Context, id int64) (*domain.SyncConflict, error)

	// GetPendingByTriple returns the unresolved conflict for the
	// (userID, entityType, entityID) triple, or (nil, nil). At most one
	// PENDING conflict per triple exists at any time.
	GetPendingByTriple(ctx context.Context, userID, entityType, entityID string) (*domain.SyncConflict, error)

	GetPendingByUser(ctx context.Context, userID string) ([]*domain.SyncConflict, error)
	GetAllByUser(ctx context.Context, userID string) ([]*domain.SyncConflict, error)
	CountPendingByUser(ctx context.Context, userID string) (int, error)

	// Resolve stamps the terminal resolution onto a PENDING conflict.
	// Returns domain.ErrNotFound for a missing id.
	Resolve(ctx context.Context, id int64, resolution *ConflictResolution) error
}

// ConflictResolution is the terminal outcome written onto a conflict row.
type ConflictResolution struct {
	Status       domain.ConflictStatus
	Strategy     domain.ResolutionStrategy
	ResolvedData []byte
	ResolvedBy   string
}
