package cache

import (
	"fmt"

	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/platform/config"
)

// NewCache creates the backend named by config.Backend
func NewCache(cfg *CacheConfig) (Cache, error) {
	if cfg == nil {
		cfg = DefaultCacheConfig()
	}

	switch cfg.Backend {
	case CacheTypeMemory:
		return NewMemoryCache(cfg), nil
	case CacheTypeRedis:
		return NewRedisCache(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCacheType, cfg.Backend)
	}
}

// FromPlatformConfig maps the process cache settings onto a CacheConfig
func FromPlatformConfig(pc config.CacheConfig) *CacheConfig {
	cfg := DefaultCacheConfig()
	cfg.Enabled = pc.Enabled
	cfg.Backend = CacheType(pc.Backend)
	cfg.Prefix = pc.Prefix
	if pc.TTL > 0 {
		cfg.TTL = pc.TTL
	}
	if pc.MaxMemory > 0 {
		cfg.MaxMemory = pc.MaxMemory
	}
	if pc.CleanupInterval > 0 {
		cfg.CleanupInterval = pc.CleanupInterval
	}
	cfg.Redis = RedisConfig{
		Address:      pc.Redis.Address,
		Password:     pc.Redis.Password,
		Database:     pc.Redis.Database,
		PoolSize:     pc.Redis.PoolSize,
		MinIdleConns: pc.Redis.MinIdleConns,
		MaxConnAge:   pc.Redis.MaxConnAge,
		Cluster: ClusterConfig{
			Enabled:   pc.Redis.Cluster.Enabled,
			Addresses: pc.Redis.Cluster.Addresses,
		},
	}
	return cfg
}

// NewGenericCacheServiceFromConfig builds the cache service from process
// configuration. A disabled cache, or a backend that cannot be reached, yields
// a service that reports ErrCacheDisabled so callers fall through to the
// database.
func NewGenericCacheServiceFromConfig(pc config.CacheConfig) *GenericCacheService {
	cfg := FromPlatformConfig(pc)
	if !cfg.Enabled {
		return NewGenericCacheService(nil, cfg)
	}
	backend, err := NewCache(cfg)
	if err != nil {
		log.Warn("Cache backend %s unavailable, continuing without cache: %v", cfg.Backend, err)
		return NewGenericCacheService(nil, cfg)
	}
	return NewGenericCacheService(backend, cfg)
}
