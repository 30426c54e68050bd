package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock key only when the stored token matches,
// so a worker whose lease already expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache implements Cacher on Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(cfg *Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return val, err
}

// Set stores a value with expiration
func (r *RedisCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Delete removes a key
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Exists checks if a key exists
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

// AcquireLock atomically claims a named lock for the given token.
// Returns false when another holder owns a live lock.
func (r *RedisCache) AcquireLock(ctx context.Context, name, token string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, name, token, expiration).Result()
}

// ReleaseLock releases a named lock if the token still owns it
func (r *RedisCache) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{name}, token).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LockHolder returns the current holder token of a named lock
func (r *RedisCache) LockHolder(ctx context.Context, name string) (string, error) {
	val, err := r.client.Get(ctx, name).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return val, err
}

// HealthCheck pings the server
func (r *RedisCache) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
