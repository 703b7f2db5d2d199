package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"bizcal/internal/config"
)

// RedisBackend stores entries in redis with native key expiry.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(cfg config.CacheConfig) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})}
}

func (r *RedisBackend) Name() string { return "redis" }

// Ping is the startup ping.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete issues a single DEL for explicit candidate keys. Missing keys are
// not an error.
func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
