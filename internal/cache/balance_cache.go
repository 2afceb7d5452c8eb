// Package cache holds the read-through cache for balance listings.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet_engine/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:generate mockgen -source=balance_cache.go -destination=../mocks/mock_balance_cache.go -package=mocks BalanceCache

var ErrMiss = errors.New("cache miss")

const namespace = "balances"

// BalanceCache stores point-in-time balance listings. Entries are dropped
// after every committed transaction of the user and expire after a TTL.
type BalanceCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserBalances, error)
	Set(ctx context.Context, balances *models.UserBalances) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type RedisBalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisBalanceCache(client redis.UniversalClient, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func key(userID uuid.UUID) string {
	return namespace + ":user:" + userID.String()
}

func (c *RedisBalanceCache) Get(ctx context.Context, userID uuid.UUID) (*models.UserBalances, error) {
	raw, err := c.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var b models.UserBalances
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode cached balances: %w", err)
	}
	return &b, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, balances *models.UserBalances) error {
	raw, err := json.Marshal(balances)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(balances.UserID), raw, c.ttl).Err()
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, key(userID)).Err()
}

// NoopBalanceCache always misses.
type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(context.Context, uuid.UUID) (*models.UserBalances, error) {
	return nil, ErrMiss
}
func (NoopBalanceCache) Set(context.Context, *models.UserBalances) error { return nil }
func (NoopBalanceCache) Invalidate(context.Context, uuid.UUID) error     { return nil }
