package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// =============================================================================
// Sync Conflict - divergent edits to the same entity from two devices
// =============================================================================

type ConflictStatus string

const (
	ConflictStatusPending          ConflictStatus = "PENDING"
	ConflictStatusAutoResolved     ConflictStatus = "AUTO_RESOLVED"
	ConflictStatusManuallyResolved ConflictStatus = "MANUALLY_RESOLVED"
)

// IsResolved reports whether the conflict reached a terminal state.
// A resolved conflict is never reopened.
func (s ConflictStatus) IsResolved() bool {
	return s == ConflictStatusAutoResolved || s == ConflictStatusManuallyResolved
}

type ResolutionStrategy string

const (
	StrategyTimestamp  ResolutionStrategy = "TIMESTAMP" // last write wins
	StrategyManual     ResolutionStrategy = "MANUAL"
	StrategyLocalWins  ResolutionStrategy = "LOCAL_WINS"
	StrategyRemoteWins ResolutionStrategy = "REMOTE_WINS"
)

// ResolvedBySystem marks auto-resolved conflicts.
const ResolvedBySystem = "SYSTEM"

// SyncConflict records a detected divergence between a client's last-known
// version of an entity and the server's current version. Both payloads are
// opaque; the resolver only compares timestamps. Conflicts are never deleted,
// they remain as an audit trail.
type SyncConflict struct {
	ID         int64  `json:"id"`
	UserID     string `json:"user_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`

	LocalData      json.RawMessage `json:"local_data,omitempty"`
	LocalTimestamp time.Time       `json:"local_timestamp"`

	RemoteData      json.RawMessage `json:"remote_data,omitempty"`
	RemoteTimestamp time.Time       `json:"remote_timestamp"`
	RemoteDeviceID  string          `json:"remote_device_id,omitempty"`

	Status             ConflictStatus     `json:"status"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
	ResolvedData       json.RawMessage    `json:"resolved_data,omitempty"`
	ResolvedBy         string             `json:"resolved_by,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// LocalIsNewer reports whether the local version strictly wins under
// last-write-wins. On an exact timestamp tie the remote version wins,
// preserving single-server authority.
func (c *SyncConflict) LocalIsNewer() bool {
	return c.LocalTimestamp.After(c.RemoteTimestamp)
}

// NewerVersion returns "local" or "remote" for UI hints.
func (c *SyncConflict) NewerVersion() string {
	if c.LocalIsNewer() {
		return "local"
	}
	return "remote"
}
