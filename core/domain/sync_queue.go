package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// =============================================================================
// Queue Item - one pending or historical client-originated mutation
// =============================================================================

type OperationType string

const (
	OperationCreate OperationType = "CREATE"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

// IsValid reports whether the operation type is one of the known kinds.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

type QueueItemStatus string

const (
	QueueStatusPending    QueueItemStatus = "PENDING"     // waiting to be claimed
	QueueStatusInProgress QueueItemStatus = "IN_PROGRESS" // claimed by a dispatch cycle
	QueueStatusCompleted  QueueItemStatus = "COMPLETED"   // applied server-side
	QueueStatusFailed     QueueItemStatus = "FAILED"      // retries exhausted
)

// queueTransitions is the exhaustive transition table for a queue item.
// FAILED -> PENDING is the explicit resurrect sweep, never implicit.
var queueTransitions = map[QueueItemStatus][]QueueItemStatus{
	QueueStatusPending:    {QueueStatusInProgress},
	QueueStatusInProgress: {QueueStatusCompleted, QueueStatusPending, QueueStatusFailed},
	QueueStatusFailed:     {QueueStatusPending},
	QueueStatusCompleted:  {},
}

// CanTransition reports whether the status may move to the given target.
func (s QueueItemStatus) CanTransition(to QueueItemStatus) bool {
	for _, next := range queueTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a dispatch cycle will never pick the item up again.
func (s QueueItemStatus) IsTerminal() bool {
	return s == QueueStatusCompleted
}

// QueueItem is a client mutation queued while the client was offline.
// The payload is opaque to the sync core; only the surrounding metadata is
// interpreted.
type QueueItem struct {
	ID         int64  `json:"id"`
	UserID     string `json:"user_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"` // empty for CREATE

	OperationType   OperationType   `json:"operation_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp"`

	Status     QueueItemStatus `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	Priority   int             `json:"priority"`

	// CreatedAt is assigned once on enqueue and is the FIFO ordering key
	// within a priority band. Never mutated afterwards.
	CreatedAt   time.Time `json:"created_at"`
	ProcessedAt time.Time `json:"processed_at,omitempty"`
}

// CanRetry reports whether the item is still under the given retry ceiling.
func (q *QueueItem) CanRetry(maxRetries int) bool {
	return q.RetryCount < maxRetries
}
