package messaging

import (
	"context"
	"fmt"
	"time"

	"sync_server/core/port/out"
	"sync_server/pkg/cache"
)

const offlineCacheKeyPrefix = "sync:offline:"

// RedisOfflineCache implements out.OfflineCachePort over the shared Redis
// cache. Entries expire by TTL; a stale snapshot is better than none while
// the user is offline, so TTLs are generous.
type RedisOfflineCache struct {
	cache *cache.RedisCache
}

func NewRedisOfflineCache(c *cache.RedisCache) *RedisOfflineCache {
	return &RedisOfflineCache{cache: c}
}

func offlineKey(userID, dataType string) string {
	return fmt.Sprintf("%s%s:%s", offlineCacheKeyPrefix, userID, dataType)
}

func (c *RedisOfflineCache) Get(ctx context.Context, userID, dataType string) (*out.CachedData, error) {
	var data out.CachedData
	found, err := c.cache.GetJSON(ctx, offlineKey(userID, dataType), &data)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &data, nil
}

func (c *RedisOfflineCache) Put(ctx context.Context, data *out.CachedData, ttl time.Duration) error {
	return c.cache.SetJSON(ctx, offlineKey(data.UserID, data.DataType), data, ttl)
}

func (c *RedisOfflineCache) Exists(ctx context.Context, userID, dataType string) (bool, error) {
	return c.cache.Exists(ctx, offlineKey(userID, dataType))
}

var _ out.OfflineCachePort = (*RedisOfflineCache)(nil)
