// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package factory

import (
	"context"
	"fmt"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/database/memory"
	"github.com/qolzam/entitystore/internal/database/mongodb"
	"github.com/qolzam/entitystore/internal/database/postgresql"
	platformconfig "github.com/qolzam/entitystore/internal/platform/config"
)

// RepositoryFactory creates repository instances based on configuration
type RepositoryFactory struct {
	config *interfaces.RepositoryConfig
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(config *interfaces.RepositoryConfig) *RepositoryFactory {
	return &RepositoryFactory{
		config: config,
	}
}

// NewRepositoryFactoryFromPlatformConfig creates a new repository factory from platform config
func NewRepositoryFactoryFromPlatformConfig(dbConfig platformconfig.DatabaseConfig) *RepositoryFactory {
	config := &interfaces.RepositoryConfig{
		DatabaseType: dbConfig.Type,
	}

	// Set database-specific configuration
	switch dbConfig.Type {
	case interfaces.DatabaseTypeMongoDB:
		config.MongoConfig = &interfaces.MongoDBConfig{
			URI:            dbConfig.MongoDB.URI,
			Database:       dbConfig.MongoDB.Database,
			ConnectTimeout: dbConfig.MongoDB.ConnectTimeout,
			MaxPoolSize:    dbConfig.MongoDB.MaxPoolSize,
		}
	case interfaces.DatabaseTypePostgreSQL:
		config.PostgresConfig = &interfaces.PostgreSQLConfig{
			DSN:                dbConfig.Postgres.DSN,
			MaxOpenConnections: dbConfig.Postgres.MaxOpenConns,
			MaxIdleConnections: dbConfig.Postgres.MaxIdleConns,
			MaxLifetime:        dbConfig.Postgres.ConnMaxLifetime,
		}
	}

	return &RepositoryFactory{
		config: config,
	}
}

// CreateRepository creates a repository instance based on the configured database type
func (f *RepositoryFactory) CreateRepository(ctx context.Context) (interfaces.Repository, error) {
	if err := f.ValidateConfig(); err != nil {
		return nil, err
	}

	switch f.config.DatabaseType {
	case interfaces.DatabaseTypeMongoDB:
		mongoRepo, err := mongodb.NewMongoRepository(ctx, f.config.MongoConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB repository: %w", err)
		}
		return mongoRepo, nil
	case interfaces.DatabaseTypePostgreSQL:
		pgRepo, err := postgresql.NewPostgreSQLRepository(ctx, f.config.PostgresConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL repository: %w", err)
		}
		return pgRepo, nil
	default:
		return memory.NewMemoryRepository(), nil
	}
}

// ValidateConfig validates the repository configuration
func (f *RepositoryFactory) ValidateConfig() error {
	if f.config == nil {
		return fmt.Errorf("repository configuration is nil")
	}

	switch f.config.DatabaseType {
	case "":
		return fmt.Errorf("database type is required")
	case interfaces.DatabaseTypeMongoDB:
		if f.config.MongoConfig == nil || f.config.MongoConfig.URI == "" {
			return fmt.Errorf("MongoDB URI is required")
		}
		if f.config.MongoConfig.Database == "" {
			return fmt.Errorf("MongoDB database name is required")
		}
		if f.config.MongoConfig.MaxPoolSize <= 0 {
			f.config.MongoConfig.MaxPoolSize = 100 // Default pool size
		}
	case interfaces.DatabaseTypePostgreSQL:
		if f.config.PostgresConfig == nil || f.config.PostgresConfig.DSN == "" {
			return fmt.Errorf("PostgreSQL DSN is required")
		}
		if f.config.PostgresConfig.MaxOpenConnections <= 0 {
			f.config.PostgresConfig.MaxOpenConnections = 50
		}
		if f.config.PostgresConfig.MaxIdleConnections <= 0 {
			f.config.PostgresConfig.MaxIdleConnections = 10
		}
	case interfaces.DatabaseTypeMemory:
	default:
		return fmt.Errorf("unsupported database type: %s", f.config.DatabaseType)
	}
	return nil
}
