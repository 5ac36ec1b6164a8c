package out

import (
	"context"
	"time"
)

// CachedData is a snapshot of server data kept readable while a user is
// offline (weather, crop recommendations, scheme information). The data body
// is opaque to the sync core.
type CachedData struct {
	DataType      string    `json:"data_type"`
	UserID        string    `json:"user_id"`
	Data          []byte    `json:"data,omitempty"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}

// OfflineCachePort - store for offline-readable data snapshots.
type OfflineCachePort interface {
	Get(ctx context.Context, userID, dataType string) (*CachedData, error)
	Put(ctx context.Context, data *CachedData, ttl time.Duration) error
	Exists(ctx context.Context, userID, dataType string) (bool, error)
}
