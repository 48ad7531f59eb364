package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is a byte-oriented key/value store with per-key expiry.
type Cache interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores a value only if the key is absent and reports whether it did
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a value by key
	Delete(ctx context.Context, key string) error

	// DeletePattern removes all keys matching a glob pattern (only * is special)
	DeletePattern(ctx context.Context, pattern string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the backend
	Close() error

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheConfig holds configuration for cache instances
type CacheConfig struct {
	Enabled bool `json:"enabled"`

	// TTL is the default time-to-live for cache entries
	TTL time.Duration `json:"ttl"`

	// Prefix is added to all keys written through GenericCacheService
	Prefix string `json:"prefix"`

	Backend CacheType `json:"backend"`

	// MaxMemory bounds the memory backend (in bytes). Zero means unbounded.
	MaxMemory int64 `json:"max_memory"`

	// CleanupInterval for expired item cleanup in the memory backend
	CleanupInterval time.Duration `json:"cleanup_interval"`

	Redis RedisConfig `json:"redis"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	Database     int           `json:"database"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age"`
	Cluster      ClusterConfig `json:"cluster"`
}

// ClusterConfig holds Redis cluster configuration
type ClusterConfig struct {
	Enabled   bool     `json:"enabled"`
	Addresses []string `json:"addresses"`
}

// CacheStats provides cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRatio    float64 `json:"hit_ratio"`
	Keys        int64   `json:"keys"`
	MemoryUsage int64   `json:"memory_usage"`
	Evictions   int64   `json:"evictions"`
}

// Common cache errors
var (
	ErrKeyNotFound           = errors.New("key not found")
	ErrCacheUnavailable      = errors.New("cache unavailable")
	ErrInvalidCacheType      = errors.New("invalid cache type")
	ErrCacheDisabled         = errors.New("cache disabled")
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")
	ErrInvalidKey            = errors.New("invalid cache key")
)

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:         true,
		TTL:             15 * time.Minute,
		Prefix:          "entitystore:",
		Backend:         CacheTypeMemory,
		MaxMemory:       100 * 1024 * 1024, // 100MB
		CleanupInterval: 5 * time.Minute,
		Redis: RedisConfig{
			Address:      "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 5,
			MaxConnAge:   30 * time.Minute,
		},
	}
}

// CacheType represents different cache backend types
type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

// IsValid checks if the cache type is valid
func (ct CacheType) IsValid() bool {
	switch ct {
	case CacheTypeMemory, CacheTypeRedis:
		return true
	default:
		return false
	}
}

func hitRatio(hits, misses int64) float64 {
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}
