package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Sync Status - per-user sync state summary
// =============================================================================

type SyncState string

const (
	SyncStateIdle    SyncState = "IDLE"    // nothing pending, last sync succeeded
	SyncStateSyncing SyncState = "SYNCING" // a dispatch cycle is running
	SyncStateOffline SyncState = "OFFLINE" // client reported loss of connectivity
	SyncStateError   SyncState = "ERROR"   // last sync attempt failed
)

// SyncStatus is the durable per-user status record. Created lazily on first
// contact and never deleted. pendingChanges mirrors the queue's PENDING count
// for the user; the queue is the source of truth and the mirror is refreshed
// with every queue mutation.
type SyncStatus struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`

	SyncState      SyncState `json:"sync_state"`
	PendingChanges int       `json:"pending_changes"`
	LastError      string    `json:"last_error,omitempty"`

	IsOffline    bool      `json:"is_offline"`
	OfflineSince time.Time `json:"offline_since,omitempty"`
	LastSyncAt   time.Time `json:"last_sync_at,omitempty"`

	DeviceID   string `json:"device_id,omitempty"`
	AppVersion string `json:"app_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfflineDuration returns how long the user has been offline, zero when online.
func (s *SyncStatus) OfflineDuration() time.Duration {
	if !s.IsOffline || s.OfflineSince.IsZero() {
		return 0
	}
	return time.Since(s.OfflineSince)
}

// StatusMessage returns the human-readable summary surfaced to the client.
func (s *SyncStatus) StatusMessage() string {
	if s.IsOffline {
		return "You are offline. Changes will sync when you're back online."
	}

	switch s.SyncState {
	case SyncStateSyncing:
		return fmt.Sprintf("Syncing %d pending changes...", s.PendingChanges)
	case SyncStateError:
		if s.LastError != "" {
			return "Sync error: " + s.LastError
		}
		return "Sync error: unknown error"
	default:
		if s.PendingChanges > 0 {
			return fmt.Sprintf("%d changes pending sync.", s.PendingChanges)
		}
		return "All data is synced."
	}
}
