package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// RedisBalanceCache stores balances under a per-ledger generation counter.
// Invalidation bumps the generation, so a value loaded before a posting
// committed is written under a stale generation and never read back.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBalanceCache instantiates the cache helper.
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func (c *RedisBalanceCache) version(ctx context.Context, id int64) (int64, error) {
	key := shared.BalanceVersionKey(id)
	if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
		return 0, err
	}
	return c.client.Get(ctx, key).Int64()
}

// Get returns the cached balance and the generation it was looked up at.
func (c *RedisBalanceCache) Get(ctx context.Context, id int64) (decimal.Decimal, int64, bool, error) {
	if c == nil || c.client == nil {
		return decimal.Zero, 0, false, nil
	}
	ver, err := c.version(ctx, id)
	if err != nil {
		return decimal.Zero, 0, false, err
	}
	raw, err := c.client.Get(ctx, shared.BalanceCacheKey(id, ver)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, ver, false, nil
	}
	if err != nil {
		return decimal.Zero, ver, false, err
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ver, false, err
	}
	return bal, ver, true, nil
}

// Set stores a balance for the given generation.
func (c *RedisBalanceCache) Set(ctx context.Context, id, version int64, balance decimal.Decimal) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, shared.BalanceCacheKey(id, version), balance.String(), c.ttl).Err()
}

// Invalidate bumps the generation of each ledger.
func (c *RedisBalanceCache) Invalidate(ctx context.Context, ids ...int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, id := range ids {
		pipe.Incr(ctx, shared.BalanceVersionKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}
