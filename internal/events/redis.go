package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "wallet_transaction_events"

// RedisPublisher fans events out over a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *TransactionEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close is a no-op: the client is shared with the balance cache and closed by main.
func (p *RedisPublisher) Close() error { return nil }
