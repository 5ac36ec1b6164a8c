// Package offline serves cached server data snapshots so clients keep a
// readable copy of weather, crop and scheme data while disconnected.
package offline

import (
	"context"
	"errors"
	"time"

	"sync_server/core/port/out"
	"sync_server/pkg/apperr"
	"sync_server/pkg/logger"
)

const defaultTTL = 24 * time.Hour

// errCacheUnavailable surfaces when the deployment runs without Redis.
var errCacheUnavailable = errors.New("offline cache is not configured")

var knownDataTypes = map[string]bool{
	"weather": true,
	"crops":   true,
	"schemes": true,
	"profile": true,
}

// Service is the read model over the offline data cache.
type Service struct {
	cache out.OfflineCachePort
	ttl   time.Duration
}

func NewService(cache out.OfflineCachePort, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{cache: cache, ttl: ttl}
}

// GetCachedData returns the user's cached snapshot for a data type.
func (s *Service) GetCachedData(ctx context.Context, userID, dataType string) (*out.CachedData, error) {
	if !knownDataTypes[dataType] {
		return nil, apperr.BadRequest("unknown data type").WithDetail("data_type", dataType)
	}
	if s.cache == nil {
		return nil, apperr.Internal(errCacheUnavailable)
	}

	data, err := s.cache.Get(ctx, userID, dataType)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	if data == nil {
		return nil, apperr.NotFound("cached data", dataType)
	}
	return data, nil
}

// StoreSnapshot caches a fresh server snapshot for offline reads.
func (s *Service) StoreSnapshot(ctx context.Context, userID, dataType string, payload []byte) error {
	if !knownDataTypes[dataType] {
		return apperr.BadRequest("unknown data type").WithDetail("data_type", dataType)
	}
	if len(payload) == 0 {
		return apperr.MissingField("data")
	}
	if s.cache == nil {
		return apperr.Internal(errCacheUnavailable)
	}

	data := &out.CachedData{
		DataType:      dataType,
		UserID:        userID,
		Data:          payload,
		LastFetchedAt: time.Now(),
	}
	if err := s.cache.Put(ctx, data, s.ttl); err != nil {
		return apperr.Storage(err, "failed to cache offline snapshot")
	}

	logger.WithFields(map[string]any{
		"user_id":   userID,
		"data_type": dataType,
	}).Debug("Cached offline snapshot")
	return nil
}

// HasCachedData reports whether a snapshot exists without fetching the body.
func (s *Service) HasCachedData(ctx context.Context, userID, dataType string) (bool, error) {
	if !knownDataTypes[dataType] {
		return false, nil
	}
	if s.cache == nil {
		return false, nil
	}
	exists, err := s.cache.Exists(ctx, userID, dataType)
	if err != nil {
		return false, apperr.Storage(err, "")
	}
	return exists, nil
}
