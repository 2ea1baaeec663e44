package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const redisKeyPrefix = "price:"

// Compile-time check to ensure RedisCache implements PriceCache.
var _ PriceCache = (*RedisCache)(nil)

// RedisCache is a PriceCache shared by every process pointed at the same
// Redis. Each symbol is a hash "price:<id>" with fields price and
// observed_at (RFC 3339 nano). Keys carry no TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (Observation, bool, error) {
	id := canonicalID(symbol)
	fields, err := c.client.HGetAll(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Observation{}, false, nil
		}
		return Observation{}, false, fmt.Errorf("hgetall %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Observation{}, false, nil
	}

	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return Observation{}, false, fmt.Errorf("parse cached price for %s: %w", id, err)
	}
	observedAt, err := time.Parse(time.RFC3339Nano, fields["observed_at"])
	if err != nil {
		return Observation{}, false, fmt.Errorf("parse cached observed_at for %s: %w", id, err)
	}

	return Observation{Symbol: id, Price: price, ObservedAt: observedAt}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, obs Observation) error {
	id := canonicalID(obs.Symbol)
	err := c.client.HSet(ctx, redisKeyPrefix+id,
		"price", obs.Price.String(),
		"observed_at", obs.ObservedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("hset %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
