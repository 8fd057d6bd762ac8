package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout is the timeout for verifying the Redis connection.
const connectionTimeout = 5 * time.Second

// NewRedisClient creates a Redis client and verifies the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// RedisCounter implements CounterStore on a shared Redis instance so that
// every worker process counts against the same per-domain windows.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a counter store backed by the given client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments the counter and sets its expiry in one round trip. The
// expiry is applied on every call; keys are window-bucketed by the caller so
// re-extending the TTL never stretches a window.
func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}

	return incr.Val(), nil
}
