package polystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedDocument is a retrieved payload together with the directory entry
// it was read through. The entry is kept so that hits can still be owner
// checked.
type CachedDocument struct {
	Entry   DirectoryEntry `json:"entry"`
	Payload Value          `json:"payload"`
}

// Cache is a short-lived read-through cache in front of retrieve. Losing
// it never loses data.
type Cache interface {
	// Get reports whether docID was cached and unexpired
	Get(ctx context.Context, docID string) (CachedDocument, bool, error)
	Set(ctx context.Context, doc CachedDocument, ttl time.Duration) error
	Invalidate(ctx context.Context, docID string) error
	Close() error
}

// NoOpCache caches nothing
type NoOpCache struct{}

func (NoOpCache) Get(context.Context, string) (CachedDocument, bool, error) {
	return CachedDocument{}, false, nil
}
func (NoOpCache) Set(context.Context, CachedDocument, time.Duration) error { return nil }
func (NoOpCache) Invalidate(context.Context, string) error                 { return nil }
func (NoOpCache) Close() error                                             { return nil }

type memoryCacheItem struct {
	doc       CachedDocument
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Expired items are dropped when read
// and by Purge.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryCacheItem
	now   func() time.Time
}

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryCacheItem), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, docID string) (CachedDocument, bool, error) {
	c.mu.RLock()
	item, ok := c.items[docID]
	c.mu.RUnlock()
	if !ok {
		return CachedDocument{}, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[docID]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.items, docID)
		}
		c.mu.Unlock()
		return CachedDocument{}, false, nil
	}
	return item.doc, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, doc CachedDocument, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[doc.Entry.DocID] = memoryCacheItem{doc: doc, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, docID)
	return nil
}

// Purge drops every expired item and returns how many were removed
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for id, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of items, expired or not
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) Close() error { return nil }

// RedisCache stores cached documents as JSON strings with a Redis expiry
// under <prefix>:cache:<doc_id>.
type RedisCache struct {
	redis      *redis.Client
	prefix     string
	ownsClient bool
}

// NewRedisCache creates a cache over client. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{redis: client, prefix: prefix}
}

// NewRedisCacheWithOwnedClient creates a cache that closes client on Close
func NewRedisCacheWithOwnedClient(client *redis.Client, prefix string) *RedisCache {
	c := NewRedisCache(client, prefix)
	c.ownsClient = true
	return c
}

func (c *RedisCache) key(docID string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, docID)
}

func (c *RedisCache) Get(ctx context.Context, docID string) (CachedDocument, bool, error) {
	data, err := c.redis.Get(ctx, c.key(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedDocument{}, false, nil
	}
	if err != nil {
		return CachedDocument{}, false, err
	}
	var doc CachedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt item is a miss; the next Set overwrites it.
		return CachedDocument{}, false, nil
	}
	return doc, true, nil
}

func (c *RedisCache) Set(ctx context.Context, doc CachedDocument, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, c.key(doc.Entry.DocID), data, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, docID string) error {
	return c.redis.Del(ctx, c.key(docID)).Err()
}

// Close closes the Redis client if the cache owns it
func (c *RedisCache) Close() error {
	if c.ownsClient && c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
