package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores computed stats per user. Entries of one user are dropped
// together whenever that user's progress changes.
type Cache interface {
	Get(ctx context.Context, userID, field string) ([]byte, bool, error)
	Set(ctx context.Context, userID, field string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}

// NopCache caches nothing.
type NopCache struct{}

func (NopCache) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NopCache) Set(context.Context, string, string, []byte, time.Duration) error {
	return nil
}

func (NopCache) Invalidate(context.Context, string) error {
	return nil
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.Mutex
	now   func() time.Time
	users map[string]map[string]memoryEntry
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, users: make(map[string]map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, userID, field string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.users[userID][field]
	if !ok || !c.now().Before(e.expires) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID, field string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields, ok := c.users[userID]
	if !ok {
		fields = make(map[string]memoryEntry)
		c.users[userID] = fields
	}
	fields[field] = memoryEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, userID)
	return nil
}

// RedisCache keeps each user's stats in one Redis hash so a single DEL
// invalidates all of them.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a RedisCache. Keys are "<prefix>stats:<user>".
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// OpenRedis parses a redis:// URL and checks the server answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + "stats:" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID, field string) ([]byte, bool, error) {
	b, err := c.client.HGet(ctx, c.key(userID), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores the field and refreshes the hash TTL. Fields share the
// expiry of their hash.
func (c *RedisCache) Set(ctx context.Context, userID, field string, value []byte, ttl time.Duration) error {
	key := c.key(userID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, field, value)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}
