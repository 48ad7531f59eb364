// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package interfaces

import "time"

// RepositoryConfig represents the configuration for repository creation
type RepositoryConfig struct {
	DatabaseType string

	// MongoDB specific
	MongoConfig *MongoDBConfig

	// PostgreSQL specific
	PostgresConfig *PostgreSQLConfig
}

// MongoDBConfig represents MongoDB specific configuration
type MongoDBConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    int
}

// PostgreSQLConfig represents PostgreSQL specific configuration
type PostgreSQLConfig struct {
	DSN                string
	MaxOpenConnections int
	MaxIdleConnections int
	MaxLifetime        time.Duration
}
