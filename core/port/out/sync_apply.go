package out

import (
	"context"
	"fmt"
	"time"

	"sync_server/core/domain"
)

// ApplyPort - the per-entity "apply mutation to server state" collaborator
// owned by the domain services. A call either succeeds, fails outright, or
// reports that the server copy diverged from what the client last saw, in
// which case the error is a *ConflictError carrying the server's version.
type ApplyPort interface {
	Apply(ctx context.Context, item *domain.QueueItem) error
}

// ConflictError signals that the server-side entity changed since the client
// produced its mutation. It routes the item into conflict detection instead
// of completion; it is control flow, not a failure.
type ConflictError struct {
	RemoteData      []byte
	RemoteTimestamp time.Time
	RemoteDeviceID  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote version diverged (device %s at %s)",
		e.RemoteDeviceID, e.RemoteTimestamp.Format(time.RFC3339))
}
