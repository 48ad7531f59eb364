// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/qolzam/entitystore/internal/cache"
	"github.com/qolzam/entitystore/internal/database/factory"
	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/pkg/log"
	platformconfig "github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
	limitsservices "github.com/qolzam/entitystore/limits/services"
	recordsservices "github.com/qolzam/entitystore/records/services"
)

// BaseService wires the database, cache and rule set shared by every record kind
type BaseService struct {
	Repository interfaces.Repository
	Records    repository.RecordRepository
	Cache      *cache.GenericCacheService
	Rules      *models.RuleSet
	Checker    *limitsservices.Checker

	config  *platformconfig.Config
	retries int
}

// NewBaseService connects the configured backends and parses the record rules
func NewBaseService(ctx context.Context, cfg *platformconfig.Config) (*BaseService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("platform configuration is required")
	}

	rules, err := models.NewRuleSet(cfg.Policies)
	if err != nil {
		return nil, err
	}

	repositoryFactory := factory.NewRepositoryFactoryFromPlatformConfig(cfg.Database)
	if err := repositoryFactory.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid repository configuration: %w", err)
	}
	repo, err := repositoryFactory.CreateRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	base := NewBaseServiceWithRepo(repo, cfg, rules)
	base.Cache = cache.NewGenericCacheServiceFromConfig(cfg.Cache)
	if err := base.HealthCheck(ctx); err != nil {
		_ = base.Close()
		return nil, err
	}
	log.Info("%s connected to %s database", cfg.Server.Name, cfg.Database.Type)
	return base, nil
}

// NewBaseServiceWithRepo wires an existing repository without caching.
// Used by tests to inject isolated repositories.
func NewBaseServiceWithRepo(repo interfaces.Repository, cfg *platformconfig.Config, rules *models.RuleSet) *BaseService {
	records := repository.NewRecordRepository(repo, repository.CollectionsFromConfig(cfg.Database.Collections))
	return &BaseService{
		Repository: repo,
		Records:    records,
		Rules:      rules,
		Checker:    limitsservices.NewChecker(rules, records),
		config:     cfg,
		retries:    3,
	}
}

// RecordService returns the write path of kind
func (s *BaseService) RecordService(kind models.Kind) recordsservices.RecordService {
	policy := s.config.Policies.Get(kind.EnvPrefix())
	return recordsservices.NewRecordService(kind, policy, s.Records, s.Checker, s.Cache)
}

// LookupResolver returns a resolver sharing the service cache
func (s *BaseService) LookupResolver() *recordsservices.LookupResolver {
	return recordsservices.NewLookupResolver(s.Records, s.Cache)
}

// ExecuteWithRetry runs fn until it succeeds, backing off linearly between attempts
func (s *BaseService) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i <= s.retries; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("operation failed after %d retries: %w", s.retries, lastErr)
}

// HealthCheck pings the database
func (s *BaseService) HealthCheck(ctx context.Context) error {
	return s.ExecuteWithRetry(ctx, func() error {
		err, ok := <-s.Repository.Ping(ctx)
		if !ok {
			return interfaces.ErrConnectionFailed
		}
		return err
	})
}

// Close releases the cache and the database connection
func (s *BaseService) Close() error {
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			log.Warn("failed to close cache: %v", err)
		}
	}
	if s.Repository != nil {
		return s.Repository.Close()
	}
	return nil
}

// GetDatabaseType returns the configured database type
func (s *BaseService) GetDatabaseType() string {
	return s.config.Database.Type
}
