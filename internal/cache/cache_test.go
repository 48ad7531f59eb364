package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolzam/entitystore/internal/platform/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemoryCache(maxMemory int64) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 17, 21, 0, 0, 0, time.UTC)}
	cfg := DefaultCacheConfig()
	cfg.MaxMemory = maxMemory
	cfg.CleanupInterval = 0
	c := NewMemoryCache(cfg)
	c.now = clock.now
	return c, clock
}

func TestNewCache(t *testing.T) {
	t.Run("memory backend", func(t *testing.T) {
		c, err := NewCache(DefaultCacheConfig())
		require.NoError(t, err)
		defer c.Close()

		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("invalid backend", func(t *testing.T) {
		cfg := DefaultCacheConfig()
		cfg.Backend = CacheType("memcached")
		_, err := NewCache(cfg)
		assert.True(t, errors.Is(err, ErrInvalidCacheType))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := DefaultCacheConfig()
		cfg.Backend = CacheTypeRedis
		cfg.Redis.Address = "127.0.0.1:1"
		_, err := NewCache(cfg)
		assert.True(t, errors.Is(err, ErrCacheUnavailable))
	})
}

func TestFromPlatformConfig(t *testing.T) {
	cfg := FromPlatformConfig(config.CacheConfig{
		Enabled: true,
		Backend: "redis",
		Prefix:  "es:",
		TTL:     time.Minute,
		Redis: config.RedisConfig{
			Address: "redis:6379",
			Cluster: config.ClusterConfig{Enabled: true, Addresses: []string{"a:1", "b:2"}},
		},
	})
	assert.Equal(t, CacheTypeRedis, cfg.Backend)
	assert.Equal(t, "es:", cfg.Prefix)
	assert.Equal(t, time.Minute, cfg.TTL)
	assert.Equal(t, DefaultCacheConfig().MaxMemory, cfg.MaxMemory)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Redis.Cluster.Addresses)

	t.Run("disabled cache service", func(t *testing.T) {
		svc := NewGenericCacheServiceFromConfig(config.CacheConfig{Enabled: false, Backend: "memory"})
		assert.False(t, svc.IsEnabled())
		assert.Equal(t, ErrCacheDisabled, svc.CacheData(context.Background(), "k", 1))
	})

	t.Run("unreachable backend degrades to disabled", func(t *testing.T) {
		svc := NewGenericCacheServiceFromConfig(config.CacheConfig{
			Enabled: true,
			Backend: "redis",
			Redis:   config.RedisConfig{Address: "127.0.0.1:1"},
		})
		assert.False(t, svc.IsEnabled())
	})
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("basic operations", func(t *testing.T) {
		c, _ := newTestMemoryCache(0)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))
		value, err := c.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, []byte("value1"), value)

		value[0] = 'X'
		again, _ := c.Get(ctx, "key1")
		assert.Equal(t, []byte("value1"), again)

		exists, err := c.Exists(ctx, "key1")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, c.Delete(ctx, "key1"))
		_, err = c.Get(ctx, "key1")
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("ttl expiration", func(t *testing.T) {
		c, clock := newTestMemoryCache(0)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
		clock.advance(999 * time.Millisecond)
		_, err := c.Get(ctx, "k")
		require.NoError(t, err)

		clock.advance(time.Millisecond)
		_, err = c.Get(ctx, "k")
		assert.Equal(t, ErrKeyNotFound, err)
		assert.Equal(t, int64(0), c.Stats().MemoryUsage)
	})

	t.Run("set nx", func(t *testing.T) {
		c, clock := newTestMemoryCache(0)
		defer c.Close()

		won, err := c.SetNX(ctx, "claim", []byte("a"), time.Second)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = c.SetNX(ctx, "claim", []byte("b"), time.Second)
		require.NoError(t, err)
		assert.False(t, won)

		clock.advance(2 * time.Second)
		won, err = c.SetNX(ctx, "claim", []byte("c"), time.Second)
		require.NoError(t, err)
		assert.True(t, won)
		got, _ := c.Get(ctx, "claim")
		assert.Equal(t, []byte("c"), got)
	})

	t.Run("delete pattern", func(t *testing.T) {
		c, _ := newTestMemoryCache(0)
		defer c.Close()

		for _, k := range []string{"lookup:a", "lookup:b", "idem:a"} {
			require.NoError(t, c.Set(ctx, k, []byte("x"), time.Minute))
		}
		require.NoError(t, c.DeletePattern(ctx, "lookup:*"))
		assert.Equal(t, int64(1), c.Stats().Keys)
		exists, _ := c.Exists(ctx, "idem:a")
		assert.True(t, exists)
	})

	t.Run("eviction keeps the newest write", func(t *testing.T) {
		perEntry := size("k0", []byte("v"))
		c, clock := newTestMemoryCache(3 * perEntry)
		defer c.Close()

		for i := 0; i < 4; i++ {
			require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
			clock.advance(time.Second)
		}
		stats := c.Stats()
		assert.Equal(t, int64(3), stats.Keys)
		assert.Equal(t, int64(1), stats.Evictions)
		_, err := c.Get(ctx, "k0")
		assert.Equal(t, ErrKeyNotFound, err)
		_, err = c.Get(ctx, "k3")
		assert.NoError(t, err)
	})

	t.Run("closed cache", func(t *testing.T) {
		c, _ := newTestMemoryCache(0)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		_, err := c.Get(ctx, "k")
		assert.Equal(t, ErrCacheDisabled, err)
	})
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		text, pattern string
		want          bool
	}{
		{"a:b", "a:b", true},
		{"a:b", "a:*", true},
		{"a:b", "*", true},
		{"x:a:b", "*:b", true},
		{"a:1:b", "a:*:b", true},
		{"a", "a*a", false},
		{"b:a", "a:*", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchPattern(tc.text, tc.pattern), "%s ~ %s", tc.text, tc.pattern)
	}
}

func TestGenericCacheService(t *testing.T) {
	ctx := context.Background()
	mem, _ := newTestMemoryCache(0)
	defer mem.Close()

	cfg := DefaultCacheConfig()
	cfg.Prefix = "test"
	service := NewGenericCacheService(mem, cfg)

	t.Run("set and get", func(t *testing.T) {
		type record struct {
			ID   string `json:"_id"`
			Name string `json:"_name"`
		}
		in := record{ID: "1", Name: "Dune"}
		require.NoError(t, service.CacheData(ctx, "record:1", in, time.Minute))

		var out record
		require.NoError(t, service.GetCached(ctx, "record:1", &out))
		assert.Equal(t, in, out)

		exists, _ := mem.Exists(ctx, "test:record:1")
		assert.True(t, exists)
	})

	t.Run("miss", func(t *testing.T) {
		var out string
		assert.Equal(t, ErrKeyNotFound, service.GetCached(ctx, "record:404", &out))
	})

	t.Run("claim", func(t *testing.T) {
		won, err := service.Claim(ctx, "idem:x", "id-1")
		require.NoError(t, err)
		assert.True(t, won)

		won, err = service.Claim(ctx, "idem:x", "id-2")
		require.NoError(t, err)
		assert.False(t, won)

		var owner string
		require.NoError(t, service.GetCached(ctx, "idem:x", &owner))
		assert.Equal(t, "id-1", owner)
	})

	t.Run("invalidate", func(t *testing.T) {
		require.NoError(t, service.CacheData(ctx, "lookup:1", "a"))
		require.NoError(t, service.CacheData(ctx, "lookup:2", "b"))
		require.NoError(t, service.CacheData(ctx, "other:3", "c"))

		require.NoError(t, service.InvalidatePattern(ctx, "lookup:*"))
		var out string
		assert.Equal(t, ErrKeyNotFound, service.GetCached(ctx, "lookup:1", &out))
		require.NoError(t, service.GetCached(ctx, "other:3", &out))

		require.NoError(t, service.InvalidateKey(ctx, "other:3"))
		assert.Equal(t, ErrKeyNotFound, service.GetCached(ctx, "other:3", &out))
	})

	t.Run("invalid keys", func(t *testing.T) {
		for _, key := range []string{"", "has space", string(make([]byte, maxKeyLength+1))} {
			err := service.CacheData(ctx, key, 1)
			assert.True(t, errors.Is(err, ErrInvalidKey), "%q", key)
		}
	})

	t.Run("unserializable data", func(t *testing.T) {
		err := service.CacheData(ctx, "bad", make(chan int))
		assert.True(t, errors.Is(err, ErrSerializationFailed))
	})

	t.Run("hash keys are order independent", func(t *testing.T) {
		a := service.GenerateHashKey("lookup", map[string]interface{}{"ids": []string{"1", "2"}, "coll": "entities"})
		b := service.GenerateHashKey("lookup", map[string]interface{}{"coll": "entities", "ids": []string{"1", "2"}})
		c := service.GenerateHashKey("lookup", map[string]interface{}{"coll": "entities", "ids": []string{"2", "1"}})
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
		assert.Len(t, a, len("lookup:")+16)
	})

	t.Run("stats", func(t *testing.T) {
		stats := service.GetStats()
		assert.Greater(t, stats.Hits, int64(0))
		assert.Greater(t, stats.Misses, int64(0))
	})

	t.Run("nil service is disabled", func(t *testing.T) {
		var svc *GenericCacheService
		assert.False(t, svc.IsEnabled())
	})
}
