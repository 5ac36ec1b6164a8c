package out

import (
	"context"
	"time"

	"sync_server/core/domain"
)

// QueueRepository - durable per-user FIFO of queued client mutations.
//
// Adapters return (nil, nil) for single-row lookups that match nothing;
// mutations against a missing row return domain.ErrNotFound. Storage
// unavailability surfaces as the driver error, never retried here.
type QueueRepository interface {
	// ==========================================================================
	// CRUD
	// ==========================================================================
	Create(ctx context.Context, item *domain.QueueItem) error
	GetByID(ctx context.Context, id int64) (*domain.QueueItem, error)
	Delete(ctx context.Context, id int64) error

	// ==========================================================================
	// Read paths (plain FIFO, createdAt ascending)
	// ==========================================================================
	GetPendingByUser(ctx context.Context, userID string) ([]*domain.QueueItem, error)
	GetByUserAndStatuses(ctx context.Context, userID string, statuses []domain.QueueItemStatus) ([]*domain.QueueItem, error)
	CountByUserAndStatus(ctx context.Context, userID string, status domain.QueueItemStatus) (int, error)
	GetUsersWithPending(ctx context.Context) ([]string, error)

	// ==========================================================================
	// Dispatch
	// ==========================================================================

	// ClaimNextBatch atomically flips up to limit PENDING items for the user
	// to IN_PROGRESS and returns them ordered by priority descending then
	// createdAt ascending. Two concurrent calls never claim the same item.
	ClaimNextBatch(ctx context.Context, userID string, limit int) ([]*domain.QueueItem, error)

	UpdateStatus(ctx context.Context, id int64, status domain.QueueItemStatus, processedAt time.Time) error
	UpdateStatusWithRetry(ctx context.Context, id int64, status domain.QueueItemStatus, retryCount int, lastError string, processedAt time.Time) error

	// ==========================================================================
	// Sweeps
	// ==========================================================================

	// GetFailedUnderCeiling returns FAILED items still below the retry ceiling,
	// oldest first. Resurrection to PENDING is the caller's explicit decision.
	GetFailedUnderCeiling(ctx context.Context, maxRetries int) ([]*domain.QueueItem, error)
	ResetToPending(ctx context.Context, id int64) error

	DeleteCompletedByUser(ctx context.Context, userID string) (int, error)
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int, error)
	DeletePendingByUser(ctx context.Context, userID string) (int, error)
}
