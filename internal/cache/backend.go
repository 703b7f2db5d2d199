// Package cache implements the read-through cache used by the aggregation
// service. A redis backend is pinged once at startup; when it is unreachable
// the process falls back to an in-process LRU for its whole lifetime.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizcal/internal/config"
	appLog "bizcal/internal/log"
)

// ErrUnavailable is reported when the distributed backend cannot be reached.
var ErrUnavailable = errors.New("cache backend unavailable")

// Backend is a plain key/value store with per-key TTL. Get reports a miss
// with ok=false and a nil error.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Name() string
	Close() error
}

// Open selects the backend. Redis is used only when configured and when the
// single startup ping succeeds within cfg.PingTimeout. There is no retry.
func Open(ctx context.Context, cfg config.CacheConfig) (Backend, error) {
	if cfg.RedisAddr != "" {
		rb := NewRedisBackend(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		err := rb.Ping(pingCtx)
		cancel()
		if err == nil {
			appLog.Info("cache backend selected", "backend", rb.Name(), "addr", cfg.RedisAddr)
			return rb, nil
		}
		_ = rb.Close()
		appLog.Error("cache ping failed, using in-process cache", fmt.Errorf("%w: %v", ErrUnavailable, err),
			"addr", cfg.RedisAddr, "timeout", cfg.PingTimeout.String())
	}

	mb, err := NewMemoryBackend(cfg.MemorySize)
	if err != nil {
		return nil, err
	}
	appLog.Info("cache backend selected", "backend", mb.Name(), "size", cfg.MemorySize)
	return mb, nil
}
