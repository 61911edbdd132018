package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const redisEventChannel = "deskwire:events"

// RedisBridge mirrors hub events over a Redis pub/sub channel.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

// NewRedisBridge connects to Redis and verifies connectivity.
func NewRedisBridge(ctx context.Context, addr string) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBridge{client: client, channel: redisEventChannel}, nil
}

// Publish mirrors a frame to the Redis channel.
func (b *RedisBridge) Publish(ctx context.Context, frame BusFrame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal bus frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Run consumes frames from the Redis channel until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context, deliver func(BusFrame)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if closeErr := pubsub.Close(); closeErr != nil {
			slog.Debug("Failed to close redis subscription", "error", closeErr)
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			var frame BusFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				slog.Warn("Dropping malformed bus frame", "error", err)
				continue
			}
			deliver(frame)
		case <-ctx.Done():
			return nil
		}
	}
}

// Close releases the Redis connection.
func (b *RedisBridge) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
