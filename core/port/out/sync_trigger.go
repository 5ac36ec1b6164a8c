package out

import (
	"context"
	"time"
)

// SyncUserJob asks the background workers to run a sync cycle for one user.
type SyncUserJob struct {
	UserID     string    `json:"user_id"`
	Reason     string    `json:"reason,omitempty"` // "schedule", "queue", "manual"
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TriggerProducer publishes sync cycle jobs for asynchronous processing.
type TriggerProducer interface {
	PublishSyncUser(ctx context.Context, job *SyncUserJob) error
}
