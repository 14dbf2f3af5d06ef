package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-memory-service/config"
	"github.com/tas-memory-service/models"
)

func setupRedisCache(t *testing.T) (ResearchCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewResearchCacheWithRedis(client, 5*time.Minute), mr
}

func sampleContext() *models.MemoryContext {
	return &models.MemoryContext{
		Pages: []models.RetrievedPage{
			{Content: "remembered fact", TokenCount: 4, RelevanceScore: 0.8, Retriever: "keyword_bm25_native_fts"},
		},
		TotalTokens:         4,
		IterationsPerformed: 1,
	}
}

func TestResearchCacheKeyDeterministic(t *testing.T) {
	opts := models.DefaultResearchOptions()

	key1 := ResearchCacheKey("user-1", "where do I live?", opts)
	key2 := ResearchCacheKey("user-1", "where do I live?", opts)
	assert.Equal(t, key1, key2)

	assert.NotEqual(t, key1, ResearchCacheKey("user-2", "where do I live?", opts))
	assert.NotEqual(t, key1, ResearchCacheKey("user-1", "where do I work?", opts))

	changed := opts
	changed.MaxContextTokens = 4000
	assert.NotEqual(t, key1, ResearchCacheKey("user-1", "where do I live?", changed))
}

func TestResearchCacheKeyOwnerPrefixed(t *testing.T) {
	key := ResearchCacheKey("user-1", "q", models.DefaultResearchOptions())
	assert.Contains(t, key, "user-1:")
}

func TestResearchCacheSetGet(t *testing.T) {
	cache, _ := setupRedisCache(t)
	ctx := context.Background()

	key := ResearchCacheKey("user-1", "q", models.DefaultResearchOptions())

	miss, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Set(ctx, key, sampleContext()))

	hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 4, hit.TotalTokens)
	require.Len(t, hit.Pages, 1)
	assert.Equal(t, "remembered fact", hit.Pages[0].Content)
}

func TestResearchCacheTTLExpiry(t *testing.T) {
	cache, mr := setupRedisCache(t)
	ctx := context.Background()

	key := ResearchCacheKey("user-1", "q", models.DefaultResearchOptions())
	require.NoError(t, cache.Set(ctx, key, sampleContext()))

	mr.FastForward(6 * time.Minute)

	hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestResearchCacheInvalidateOwner(t *testing.T) {
	cache, _ := setupRedisCache(t)
	ctx := context.Background()

	opts := models.DefaultResearchOptions()
	keyOne := ResearchCacheKey("user-1", "first question", opts)
	keyTwo := ResearchCacheKey("user-1", "second question", opts)
	keyOther := ResearchCacheKey("user-2", "first question", opts)

	require.NoError(t, cache.Set(ctx, keyOne, sampleContext()))
	require.NoError(t, cache.Set(ctx, keyTwo, sampleContext()))
	require.NoError(t, cache.Set(ctx, keyOther, sampleContext()))

	require.NoError(t, cache.InvalidateOwner(ctx, "user-1"))

	hit, err := cache.Get(ctx, keyOne)
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = cache.Get(ctx, keyTwo)
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = cache.Get(ctx, keyOther)
	require.NoError(t, err)
	assert.NotNil(t, hit)
}

func TestResearchCacheDisabled(t *testing.T) {
	cache := NewResearchCache(&config.RedisConfig{EnableCache: false})
	ctx := context.Background()

	key := ResearchCacheKey("user-1", "q", models.DefaultResearchOptions())
	require.NoError(t, cache.Set(ctx, key, sampleContext()))

	hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestResearchCacheMemoryFallback(t *testing.T) {
	// No Redis host configured: the cache runs on the in-memory map.
	cache := NewResearchCache(&config.RedisConfig{EnableCache: true, ResearchCacheTTL: 300})
	ctx := context.Background()

	key := ResearchCacheKey("user-1", "q", models.DefaultResearchOptions())
	require.NoError(t, cache.Set(ctx, key, sampleContext()))

	hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 4, hit.TotalTokens)

	require.NoError(t, cache.InvalidateOwner(ctx, "user-1"))
	hit, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestResearchCacheCorruptEntryDropped(t *testing.T) {
	cache, mr := setupRedisCache(t)
	ctx := context.Background()

	key := ResearchCacheKey("user-1", "q", models.DefaultResearchOptions())
	require.NoError(t, mr.Set("research_ctx:"+key, "not json"))

	hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.False(t, mr.Exists("research_ctx:"+key))
}
