package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qolzam/entitystore/internal/pkg/log"
)

// maxKeyLength bounds keys accepted by the service.
const maxKeyLength = 250

// GenericCacheService stores JSON values under prefixed keys. Every method
// degrades to ErrCacheDisabled when caching is off, so callers can treat the
// cache as optional.
type GenericCacheService struct {
	cache  Cache
	config *CacheConfig
	stats  serviceStats
}

type serviceStats struct {
	hits    int64
	misses  int64
	errors  int64
	sets    int64
	deletes int64
}

// NewGenericCacheService creates a new generic cache service
func NewGenericCacheService(cache Cache, config *CacheConfig) *GenericCacheService {
	if config == nil {
		config = DefaultCacheConfig()
	}
	return &GenericCacheService{cache: cache, config: config}
}

// GetCached retrieves and unmarshals cached data into target
func (gcs *GenericCacheService) GetCached(ctx context.Context, key string, target interface{}) error {
	if !gcs.IsEnabled() {
		atomic.AddInt64(&gcs.stats.misses, 1)
		return ErrCacheDisabled
	}
	if err := validateKey(key); err != nil {
		return err
	}

	fullKey := gcs.buildKey(key)
	data, err := gcs.cache.Get(ctx, fullKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			atomic.AddInt64(&gcs.stats.misses, 1)
		} else {
			atomic.AddInt64(&gcs.stats.errors, 1)
			log.Error("Cache get error for key %s: %v", fullKey, err)
		}
		return err
	}

	if err := json.Unmarshal(data, target); err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache data unmarshal error for key %s: %v", fullKey, err)
		return fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	atomic.AddInt64(&gcs.stats.hits, 1)
	return nil
}

// CacheData marshals and stores data with the given TTL, or the default one
func (gcs *GenericCacheService) CacheData(ctx context.Context, key string, data interface{}, ttl ...time.Duration) error {
	fullKey, payload, err := gcs.prepare(key, data)
	if err != nil {
		return err
	}
	if err := gcs.cache.Set(ctx, fullKey, payload, gcs.ttl(ttl)); err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache set error for key %s: %v", fullKey, err)
		return err
	}
	atomic.AddInt64(&gcs.stats.sets, 1)
	return nil
}

// Claim stores data only if key is absent and reports whether this call won.
func (gcs *GenericCacheService) Claim(ctx context.Context, key string, data interface{}, ttl ...time.Duration) (bool, error) {
	fullKey, payload, err := gcs.prepare(key, data)
	if err != nil {
		return false, err
	}
	won, err := gcs.cache.SetNX(ctx, fullKey, payload, gcs.ttl(ttl))
	if err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache claim error for key %s: %v", fullKey, err)
		return false, err
	}
	if won {
		atomic.AddInt64(&gcs.stats.sets, 1)
	}
	return won, nil
}

// InvalidateKey removes a specific key from cache
func (gcs *GenericCacheService) InvalidateKey(ctx context.Context, key string) error {
	if !gcs.IsEnabled() {
		return ErrCacheDisabled
	}
	fullKey := gcs.buildKey(key)
	if err := gcs.cache.Delete(ctx, fullKey); err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache key invalidation error for key %s: %v", fullKey, err)
		return err
	}
	atomic.AddInt64(&gcs.stats.deletes, 1)
	return nil
}

// InvalidatePattern removes all keys matching pattern under the prefix
func (gcs *GenericCacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	if !gcs.IsEnabled() {
		return ErrCacheDisabled
	}
	fullPattern := gcs.buildKey(pattern)
	if err := gcs.cache.DeletePattern(ctx, fullPattern); err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache pattern invalidation error for pattern %s: %v", fullPattern, err)
		return err
	}
	atomic.AddInt64(&gcs.stats.deletes, 1)
	return nil
}

// Exists checks if a key exists in cache
func (gcs *GenericCacheService) Exists(ctx context.Context, key string) (bool, error) {
	if !gcs.IsEnabled() {
		return false, ErrCacheDisabled
	}
	return gcs.cache.Exists(ctx, gcs.buildKey(key))
}

// GenerateHashKey creates a deterministic key from a namespace and parameters.
// Parameter order does not matter.
func (gcs *GenericCacheService) GenerateHashKey(namespace string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(namespace + ":"))
	for _, k := range keys {
		var rendered string
		switch v := params[k].(type) {
		case string:
			rendered = v
		case nil:
			rendered = "nil"
		default:
			if raw, err := json.Marshal(v); err == nil {
				rendered = string(raw)
			} else {
				rendered = fmt.Sprintf("%v", v)
			}
		}
		fmt.Fprintf(h, "%s=%s;", k, rendered)
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GetStats merges service counters with backend statistics
func (gcs *GenericCacheService) GetStats() CacheStats {
	hits := atomic.LoadInt64(&gcs.stats.hits)
	misses := atomic.LoadInt64(&gcs.stats.misses)
	stats := CacheStats{Hits: hits, Misses: misses, HitRatio: hitRatio(hits, misses)}
	if gcs.cache != nil {
		backend := gcs.cache.Stats()
		stats.Keys = backend.Keys
		stats.MemoryUsage = backend.MemoryUsage
		stats.Evictions = backend.Evictions
	}
	return stats
}

// Close closes the cache service
func (gcs *GenericCacheService) Close() error {
	if gcs.cache != nil {
		return gcs.cache.Close()
	}
	return nil
}

// IsEnabled returns whether caching is enabled
func (gcs *GenericCacheService) IsEnabled() bool {
	return gcs != nil && gcs.config.Enabled && gcs.cache != nil
}

func (gcs *GenericCacheService) prepare(key string, data interface{}) (string, []byte, error) {
	if !gcs.IsEnabled() {
		return "", nil, ErrCacheDisabled
	}
	if err := validateKey(key); err != nil {
		return "", nil, err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache data marshal error for key %s: %v", key, err)
		return "", nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return gcs.buildKey(key), payload, nil
}

func (gcs *GenericCacheService) ttl(override []time.Duration) time.Duration {
	if len(override) > 0 && override[0] > 0 {
		return override[0]
	}
	return gcs.config.TTL
}

// buildKey constructs the full cache key with prefix
func (gcs *GenericCacheService) buildKey(key string) string {
	prefix := gcs.config.Prefix
	if prefix == "" {
		return key
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix + key
}

// validateKey rejects empty, oversized, or non-printable keys
func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for _, char := range key {
		if char <= 32 || char >= 127 {
			return fmt.Errorf("%w: contains invalid character", ErrInvalidKey)
		}
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, maxKeyLength)
	}
	return nil
}
