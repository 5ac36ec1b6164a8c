// Package messaging provides Redis Streams adapters for device fan-out.
package messaging

import (
	"context"
	"fmt"

	"sync_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamDataChanged = "sync:data_changed"
)

// RedisDeviceNotifier implements out.DeviceNotifierPort using Redis Streams.
// Push gateways consume the stream and fan events out to the user's devices;
// the sync core only appends.
type RedisDeviceNotifier struct {
	client *redis.Client
	maxLen int64
}

// NewRedisDeviceNotifier creates a new RedisDeviceNotifier. maxLen caps the
// stream with approximate trimming; zero disables trimming.
func NewRedisDeviceNotifier(client *redis.Client, maxLen int64) *RedisDeviceNotifier {
	return &RedisDeviceNotifier{client: client, maxLen: maxLen}
}

// NotifyDataChanged appends a data-changed event to the stream.
func (n *RedisDeviceNotifier) NotifyDataChanged(ctx context.Context, event *out.DataChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: StreamDataChanged,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}

	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", StreamDataChanged, err)
	}
	return nil
}

// Ensure RedisDeviceNotifier implements out.DeviceNotifierPort
var _ out.DeviceNotifierPort = (*RedisDeviceNotifier)(nil)
