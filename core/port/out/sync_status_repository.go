package out

import (
	"context"
	"time"

	"sync_server/core/domain"
)

// StatusRepository - per-user sync status records, one row per user.
type StatusRepository interface {
	GetByUser(ctx context.Context, userID string) (*domain.SyncStatus, error)
	Create(ctx context.Context, status *domain.SyncStatus) error

	SetState(ctx context.Context, userID string, state domain.SyncState, lastError string) error
	UpdatePendingChanges(ctx context.Context, userID string, count int) error
	UpdateLastSyncAt(ctx context.Context, userID string, at time.Time) error
	UpdateDeviceInfo(ctx context.Context, userID, deviceID, appVersion string) error

	// EnterOffline flips the user offline. The store also forces the state out
	// of SYNCING: offline and syncing are mutually exclusive.
	EnterOffline(ctx context.Context, userID string, since time.Time) error

	// ExitOffline clears the offline flag and moves the user to SYNCING so the
	// dispatcher picks the queue up on its next cycle.
	ExitOffline(ctx context.Context, userID string) error
}
