package out

import "context"

// DataChangedEvent tells a user's other devices that an entity changed
// server-side and their local copy may be stale.
type DataChangedEvent struct {
	EventID    string `json:"event_id"`
	UserID     string `json:"user_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"`
	Operation  string `json:"operation"`
	DeviceID   string `json:"device_id,omitempty"` // originating device, excluded from delivery
}

// DeviceNotifierPort - fire-and-forget fan-out to a user's other devices.
// Delivery is best effort; callers log and move on when it fails.
type DeviceNotifierPort interface {
	NotifyDataChanged(ctx context.Context, event *DataChangedEvent) error
}
