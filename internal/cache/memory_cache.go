package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// entryOverhead is the estimated bookkeeping cost of one entry in bytes.
const entryOverhead = 64

type cacheItem struct {
	value      []byte
	expiration time.Time
}

func (i *cacheItem) expired(now time.Time) bool {
	return !now.Before(i.expiration)
}

// MemoryCache implements Cache in process memory. Entries past their TTL are
// invisible immediately and reclaimed by a periodic sweep.
type MemoryCache struct {
	mu        sync.Mutex
	items     map[string]*cacheItem
	maxMemory int64
	used      int64
	ttl       time.Duration
	now       func() time.Time

	hits      int64
	misses    int64
	evictions int64

	stop   chan struct{}
	closed bool
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(config *CacheConfig) *MemoryCache {
	if config == nil {
		config = DefaultCacheConfig()
	}

	c := &MemoryCache{
		items:     make(map[string]*cacheItem),
		maxMemory: config.MaxMemory,
		ttl:       config.TTL,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.sweep(config.CleanupInterval)
	}
	return c
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheDisabled
	}
	item := c.live(key)
	if item == nil {
		c.misses++
		return nil, ErrKeyNotFound
	}
	c.hits++
	return append([]byte(nil), item.value...), nil
}

// Set stores a value in cache with expiration
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheDisabled
	}
	c.put(key, value, ttl)
	return nil
}

// SetNX stores a value only when no live entry exists for key
func (c *MemoryCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrCacheDisabled
	}
	if c.live(key) != nil {
		return false, nil
	}
	c.put(key, value, ttl)
	return true, nil
}

// Delete removes a value from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	return nil
}

// DeletePattern removes all keys matching the given pattern
func (c *MemoryCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if matchPattern(key, pattern) {
			c.remove(key)
		}
	}
	return nil
}

// Exists checks if a live key exists in cache
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.live(key) != nil, nil
}

// Close stops the sweeper and drops every entry
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	close(c.stop)
	c.items = make(map[string]*cacheItem)
	c.used = 0
	c.closed = true
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var keys int64
	for _, item := range c.items {
		if !item.expired(now) {
			keys++
		}
	}
	return CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		HitRatio:    hitRatio(c.hits, c.misses),
		Keys:        keys,
		MemoryUsage: c.used,
		Evictions:   c.evictions,
	}
}

// live returns the unexpired entry for key, dropping it if it has expired.
func (c *MemoryCache) live(key string) *cacheItem {
	item, ok := c.items[key]
	if !ok {
		return nil
	}
	if item.expired(c.now()) {
		c.remove(key)
		return nil
	}
	return item
}

func (c *MemoryCache) put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.remove(key)
	c.items[key] = &cacheItem{
		value:      append([]byte(nil), value...),
		expiration: c.now().Add(ttl),
	}
	c.used += size(key, value)
	c.evict(key)
}

func (c *MemoryCache) remove(key string) {
	if item, ok := c.items[key]; ok {
		c.used -= size(key, item.value)
		delete(c.items, key)
	}
}

// evict drops expired entries, then the entries closest to expiry, until the
// cache fits in maxMemory. The entry just written is kept.
func (c *MemoryCache) evict(keep string) {
	if c.maxMemory <= 0 || c.used <= c.maxMemory {
		return
	}
	c.removeExpired()

	keys := make([]string, 0, len(c.items))
	for key := range c.items {
		if key != keep {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.items[keys[i]].expiration.Before(c.items[keys[j]].expiration)
	})
	for _, key := range keys {
		if c.used <= c.maxMemory {
			return
		}
		c.remove(key)
		c.evictions++
	}
}

func (c *MemoryCache) removeExpired() {
	now := c.now()
	for key, item := range c.items {
		if item.expired(now) {
			c.remove(key)
		}
	}
}

func (c *MemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.removeExpired()
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func size(key string, value []byte) int64 {
	return int64(len(key) + len(value) + entryOverhead)
}

// matchPattern matches text against a glob where * spans any run of characters.
func matchPattern(text, pattern string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return text == pattern
	}
	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(text, part)
		if i < 0 {
			return false
		}
		text = text[i+len(part):]
	}
	return strings.HasSuffix(text, last)
}
