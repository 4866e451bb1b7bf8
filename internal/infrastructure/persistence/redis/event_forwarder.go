package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// EventForwarder публикует конверты доменных событий в канал Redis.
// Подписчики (уведомления, бот) живут вне движка.
type EventForwarder struct {
	client  *Client
	channel string
}

// NewEventForwarder creates a forwarder publishing to channel.
func NewEventForwarder(client *Client, channel string) *EventForwarder {
	return &EventForwarder{client: client, channel: channel}
}

// Forward publishes env as JSON.
func (f *EventForwarder) Forward(ctx context.Context, env shared.EventEnvelope) error {
	if f.channel == "" {
		return errors.New("redis: events channel is empty")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	err = f.client.guard(ctx, func(ctx context.Context) error {
		return f.client.rdb.Publish(ctx, f.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", env.Type, err)
	}
	return nil
}

// Subscribe opens a subscription to the events channel.
// The caller must Close the returned PubSub.
func (f *EventForwarder) Subscribe(ctx context.Context) *redis.PubSub {
	return f.client.rdb.Subscribe(ctx, f.channel)
}
