package cache

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is absent or expired
var ErrKeyNotFound = errors.New("cache: key not found")

// Cacher defines the cache operations the lifecycle layer depends on.
// Lease primitives are atomic: AcquireLock is a set-if-absent with TTL,
// ReleaseLock only deletes when the holder token matches.
type Cacher interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	AcquireLock(ctx context.Context, name, token string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) (bool, error)
	LockHolder(ctx context.Context, name string) (string, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config represents cache configuration
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewCacher creates a Redis-backed cache when enabled, falling back to the
// in-process implementation otherwise.
func NewCacher(cfg *Config) (Cacher, error) {
	if cfg != nil && cfg.Enabled {
		return NewRedisCache(cfg)
	}
	return NewMemoryCache(), nil
}
