// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package interfaces

import (
	"context"
	"time"

	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/value"
)

// Repository defines the interface for database operations over schema-less
// records. Queries are expressed as filter trees; each backend compiles them
// to its own query language.
type Repository interface {
	// Basic CRUD operations
	Save(ctx context.Context, collectionName string, record value.Object) <-chan RepositoryResult
	Find(ctx context.Context, collectionName string, f filter.Filter) <-chan QueryResult
	FindOne(ctx context.Context, collectionName string, where *filter.Where) <-chan SingleResult
	// Update replaces the first record matching where with record.
	Update(ctx context.Context, collectionName string, where *filter.Where, record value.Object) <-chan RepositoryResult

	// Aggregation operations
	Count(ctx context.Context, collectionName string, where *filter.Where) <-chan CountResult
	CountRelations(ctx context.Context, q RelationQuery) <-chan CountResult

	// Connection management
	Ping(ctx context.Context) <-chan error
	Close() error
}

// RelationQuery counts relation records whose own fields match Where and
// whose linked list and entity match ListWhere and EntityWhere.
type RelationQuery struct {
	Collection       string
	ListCollection   string
	EntityCollection string
	Where            *filter.Where
	ListWhere        *filter.Where
	EntityWhere      *filter.Where
}

// Record fields linking a relation to its list and entity.
const (
	FieldID       = "_id"
	FieldListID   = "_listId"
	FieldEntityID = "_entityId"
)

// RepositoryResult represents the result of a repository operation
type RepositoryResult struct {
	Result interface{}
	Error  error
}

// QueryResult carries the records of a find operation
type QueryResult struct {
	Records []value.Object
	Error   error
}

// SingleResult represents a single document result
type SingleResult struct {
	Record value.Object
	Error  error
}

// NoResult reports whether the lookup found nothing.
func (r SingleResult) NoResult() bool {
	return r.Error == ErrNoDocuments
}

// CountResult represents the result of a count operation
type CountResult struct {
	Count int64
	Error error
}

// Database configuration constants
const (
	DatabaseTypeMongoDB    = "mongodb"
	DatabaseTypePostgreSQL = "postgresql"
	DatabaseTypeMemory     = "memory"
)

// Common errors
var (
	ErrNoDocuments          = NewRepositoryError("no documents found", "NOT_FOUND")
	ErrDuplicateKey         = NewRepositoryError("duplicate key error", "DUPLICATE_KEY")
	ErrInvalidFilter        = NewRepositoryError("invalid filter", "INVALID_FILTER")
	ErrConnectionFailed     = NewRepositoryError("database connection failed", "CONNECTION_FAILED")
	ErrUnsupportedOperation = NewRepositoryError("unsupported operation", "UNSUPPORTED_OPERATION")
)

// RepositoryError represents a repository specific error
type RepositoryError struct {
	Message string
	Code    string
	Time    time.Time
}

func (e *RepositoryError) Error() string {
	return e.Message
}

// NewRepositoryError creates a new repository error
func NewRepositoryError(message, code string) *RepositoryError {
	return &RepositoryError{
		Message: message,
		Code:    code,
		Time:    time.Now(),
	}
}

// Await reads the single value a repository channel delivers, or fails when
// ctx ends first.
func Await[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v, ok := <-ch:
		if !ok {
			var zero T
			return zero, ErrConnectionFailed
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
