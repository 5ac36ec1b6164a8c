package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"sync_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamSyncUser = "sync:trigger"
)

// RedisProducer implements out.TriggerProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishSyncUser publishes a per-user sync cycle job.
func (p *RedisProducer) PublishSyncUser(ctx context.Context, job *out.SyncUserJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	return p.publish(ctx, StreamSyncUser, job)
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure RedisProducer implements out.TriggerProducer
var _ out.TriggerProducer = (*RedisProducer)(nil)
