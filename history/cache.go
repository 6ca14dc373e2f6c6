package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps history lists per user. Implementations store copies: a
// caller never observes a partially written list.
type Cache interface {
	Get(ctx context.Context, userID string) ([]Item, bool, error)
	Set(ctx context.Context, userID string, items []Item) error
	Delete(ctx context.Context, userID string) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]Item
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string][]Item)}
}

func (c *MemoryCache) Get(_ context.Context, userID string) ([]Item, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items, ok := c.items[userID]
	if !ok {
		return nil, false, nil
	}
	return cloneItems(items), true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID string, items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[userID] = cloneItems(items)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, userID)
	return nil
}

// RedisCache stores each user's list as one JSON value.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects lazily; the first command dials.
func NewRedisCache(url, prefix string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCacheFromClient(redis.NewClient(opts), prefix, ttl), nil
}

func NewRedisCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "studio"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + ":history:" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) ([]Item, bool, error) {
	s, err := c.client.Get(ctx, c.key(userID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var items []Item
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(userID), b, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return append([]Item(nil), items...)
}
