package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"hlspackager/internal/models"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "hls:jobs"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror publishes job messages as JSON on a Redis Pub/Sub channel so
// observers attached to other processes can follow the same jobs.
type RedisMirror struct {
	client  redisPublisher
	closer  func() error
	channel string
}

// NewRedisMirror connects to the server described by a redis:// URL.
func NewRedisMirror(ctx context.Context, rawURL, channel string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisMirror(client, client.Close, channel), nil
}

func newRedisMirror(client redisPublisher, closer func() error, channel string) *RedisMirror {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisMirror{client: client, closer: closer, channel: channel}
}

// Mirror publishes msg on the configured channel.
func (m *RedisMirror) Mirror(ctx context.Context, msg models.PushMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.channel, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (m *RedisMirror) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
