package repository

import (
	"context"
	"fmt"
	"time"

	"slotbook/internal/config"

	"github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix     = "slotbook:event:"
	rateLimitKeyPrefix = "slotbook:rate:"
)

// RedisStore keeps processed webhook event ids and rate-limit counters in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient builds a Redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.Exists(ctx, eventKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event in redis: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records key. A repeated mark keeps the original TTL.
func (r *RedisStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.SetNX(ctx, eventKeyPrefix+key, time.Now().UTC().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark event in redis: %w", err)
	}
	return nil
}

func (r *RedisStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	rk := rateLimitKeyPrefix + key
	count, err := r.client.Incr(ctx, rk).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, rk, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis client if it was created.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
