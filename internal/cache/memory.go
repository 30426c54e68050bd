package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache implements Cacher in process memory with TTL support.
// Used when Redis is not configured, and in tests.
type MemoryCache struct {
	items    map[string]*memoryItem
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
}

type memoryItem struct {
	value      string
	expiration time.Time // zero means no expiry
}

func (it *memoryItem) expired(now time.Time) bool {
	return !it.expiration.IsZero() && now.After(it.expiration)
}

// NewMemoryCache creates a new in-process cache
func NewMemoryCache() *MemoryCache {
	mc := &MemoryCache{
		items:    make(map[string]*memoryItem),
		stopChan: make(chan struct{}),
	}
	go mc.cleanupLoop()
	return mc
}

// Get retrieves a value
func (mc *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, exists := mc.items[key]
	if !exists || item.expired(time.Now()) {
		delete(mc.items, key)
		return "", ErrKeyNotFound
	}
	return item.value, nil
}

// Set stores a value with expiration
func (mc *MemoryCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item := &memoryItem{value: value}
	if expiration > 0 {
		item.expiration = time.Now().Add(expiration)
	}
	mc.items[key] = item
	return nil
}

// Delete removes a key
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.items, key)
	return nil
}

// Exists checks if a key exists
func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, exists := mc.items[key]
	if !exists || item.expired(time.Now()) {
		delete(mc.items, key)
		return false, nil
	}
	return true, nil
}

// AcquireLock atomically claims a named lock for the given token
func (mc *MemoryCache) AcquireLock(ctx context.Context, name, token string, expiration time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	if item, exists := mc.items[name]; exists && !item.expired(now) {
		return false, nil
	}

	item := &memoryItem{value: token}
	if expiration > 0 {
		item.expiration = now.Add(expiration)
	}
	mc.items[name] = item
	return true, nil
}

// ReleaseLock releases a named lock if the token still owns it
func (mc *MemoryCache) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, exists := mc.items[name]
	if !exists || item.expired(time.Now()) || item.value != token {
		return false, nil
	}
	delete(mc.items, name)
	return true, nil
}

// LockHolder returns the current holder token of a named lock
func (mc *MemoryCache) LockHolder(ctx context.Context, name string) (string, error) {
	return mc.Get(ctx, name)
}

// HealthCheck always succeeds for the in-process cache
func (mc *MemoryCache) HealthCheck(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
	return nil
}

func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			mc.mu.Lock()
			for key, item := range mc.items {
				if item.expired(now) {
					delete(mc.items, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
