package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tas-memory-service/config"
	"github.com/tas-memory-service/models"
)

const (
	// cacheKeyPrefix namespaces all research context cache keys.
	cacheKeyPrefix = "research_ctx"

	// defaultCacheTTL is applied when no TTL is configured (5 minutes).
	defaultCacheTTL = 5 * 60
)

// ResearchCache caches completed research contexts keyed by owner, query
// and options. A short TTL keeps repeated identical questions cheap while
// still reflecting fresh ingests quickly.
type ResearchCache interface {
	Get(ctx context.Context, key string) (*models.MemoryContext, error)
	Set(ctx context.Context, key string, result *models.MemoryContext) error
	InvalidateOwner(ctx context.Context, ownerID string) error
}

// researchCacheImpl implements ResearchCache using Redis when reachable,
// with an in-memory fallback.
type researchCacheImpl struct {
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	redis *redis.Client

	ttl      time.Duration
	enabled  bool
	useRedis bool
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewResearchCache creates a research cache from configuration. When
// caching is disabled every call is a no-op.
func NewResearchCache(cfg *config.RedisConfig) ResearchCache {
	if cfg == nil || !cfg.EnableCache {
		return &researchCacheImpl{enabled: false}
	}

	ttl := time.Duration(cfg.ResearchCacheTTL) * time.Second
	if ttl <= 0 {
		ttl = time.Duration(defaultCacheTTL) * time.Second
	}

	cache := &researchCacheImpl{
		memCache: make(map[string]cacheEntry),
		ttl:      ttl,
		enabled:  true,
	}

	if cfg.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err == nil {
			cache.redis = client
			cache.useRedis = true
		}
		// Unreachable Redis is not an error; fall back to memory.
	}

	return cache
}

// NewResearchCacheWithRedis creates a research cache on an existing client.
func NewResearchCacheWithRedis(client *redis.Client, ttl time.Duration) ResearchCache {
	if ttl <= 0 {
		ttl = time.Duration(defaultCacheTTL) * time.Second
	}
	return &researchCacheImpl{
		memCache: make(map[string]cacheEntry),
		redis:    client,
		ttl:      ttl,
		enabled:  true,
		useRedis: client != nil,
	}
}

// ResearchCacheKey derives the cache key from everything that affects the
// result: owner, query text, and the resolved loop options.
func ResearchCacheKey(ownerID, queryText string, opts models.ResearchOptions) string {
	h := sha256.New()
	h.Write([]byte(ownerID))
	h.Write([]byte{'|'})
	h.Write([]byte(queryText))
	fmt.Fprintf(h, "|%d|%d|%d|%f",
		opts.MaxIterations, opts.MaxPagesPerIteration, opts.MaxContextTokens, opts.MinRelevanceScore)
	return fmt.Sprintf("%s:%s", ownerID, hex.EncodeToString(h.Sum(nil))[:16])
}

func (c *researchCacheImpl) Get(ctx context.Context, key string) (*models.MemoryContext, error) {
	if !c.enabled {
		return nil, nil
	}

	prefixedKey := c.prefixKey(key)

	if c.useRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, prefixedKey).Bytes()
		if err == nil {
			var result models.MemoryContext
			if err := json.Unmarshal(data, &result); err != nil {
				c.redis.Del(ctx, prefixedKey)
				return nil, nil
			}
			return &result, nil
		}
		if err != redis.Nil {
			return c.getFromMemCache(prefixedKey)
		}
		return nil, nil
	}

	return c.getFromMemCache(prefixedKey)
}

func (c *researchCacheImpl) getFromMemCache(prefixedKey string) (*models.MemoryContext, error) {
	c.mu.RLock()
	entry, exists := c.memCache[prefixedKey]
	c.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.memCache, prefixedKey)
		c.mu.Unlock()
		return nil, nil
	}

	var result models.MemoryContext
	if err := json.Unmarshal(entry.data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached context: %w", err)
	}
	return &result, nil
}

func (c *researchCacheImpl) Set(ctx context.Context, key string, result *models.MemoryContext) error {
	if !c.enabled || result == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal context for caching: %w", err)
	}

	prefixedKey := c.prefixKey(key)

	if c.useRedis && c.redis != nil {
		if err := c.redis.Set(ctx, prefixedKey, data, c.ttl).Err(); err != nil {
			c.setInMemCache(prefixedKey, data)
			return nil
		}
		return nil
	}

	c.setInMemCache(prefixedKey, data)
	return nil
}

func (c *researchCacheImpl) setInMemCache(prefixedKey string, data []byte) {
	c.mu.Lock()
	c.memCache[prefixedKey] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// InvalidateOwner drops every cached context for one owner. Called after
// writes and deletes so stale recall does not outlive its TTL.
func (c *researchCacheImpl) InvalidateOwner(ctx context.Context, ownerID string) error {
	if !c.enabled {
		return nil
	}

	pattern := c.prefixKey(ownerID + ":*")

	if c.useRedis && c.redis != nil {
		var cursor uint64
		for {
			keys, newCursor, err := c.redis.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				c.redis.Del(ctx, keys...)
			}
			cursor = newCursor
			if cursor == 0 {
				break
			}
		}
	}

	prefix := c.prefixKey(ownerID + ":")
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.memCache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.memCache, key)
		}
	}
	return nil
}

func (c *researchCacheImpl) prefixKey(key string) string {
	return fmt.Sprintf("%s:%s", cacheKeyPrefix, key)
}
