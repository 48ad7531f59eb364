// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgresql

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/value"
)

// PostgreSQLRepository implements the Repository interface for PostgreSQL.
// Each collection is a table holding records in a JSONB column.
type PostgreSQLRepository struct {
	db     *sqlx.DB
	schema string
	tables sync.Map // collection name -> struct{}
}

// NewPostgreSQLRepository creates a new PostgreSQL repository
func NewPostgreSQLRepository(ctx context.Context, config *interfaces.PostgreSQLConfig) (*PostgreSQLRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL with sqlx: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(config.MaxOpenConnections)
	}
	if config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(config.MaxIdleConnections)
	}
	if config.MaxLifetime > 0 {
		db.SetConnMaxLifetime(config.MaxLifetime)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgreSQLRepository{db: db, schema: "public"}, nil
}

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// getTableName returns the table name for a collection
func (r *PostgreSQLRepository) getTableName(collectionName string) (string, error) {
	if !collectionNamePattern.MatchString(collectionName) {
		return "", fmt.Errorf("invalid collection name %q", collectionName)
	}
	return fmt.Sprintf("%s.%s", r.schema, pq.QuoteIdentifier(collectionName)), nil
}

// generateIndexName creates collection-specific index names to avoid conflicts
func generateIndexName(collectionName, indexType string) string {
	return pq.QuoteIdentifier(fmt.Sprintf("idx_%s_%s", strings.ToLower(collectionName), indexType))
}

// ensureTable ensures the table exists
func (r *PostgreSQLRepository) ensureTable(ctx context.Context, collectionName string) (string, error) {
	tableName, err := r.getTableName(collectionName)
	if err != nil {
		return "", err
	}
	if _, ok := r.tables.Load(collectionName); ok {
		return tableName, nil
	}

	createQuery := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		object_id VARCHAR(255) UNIQUE NOT NULL,
		data JSONB NOT NULL,
		created_date BIGINT,
		last_updated BIGINT
	)`, tableName)

	if _, err := r.db.ExecContext(ctx, createQuery); err != nil {
		// Concurrent creation surfaces as duplicate_table or a catalog unique violation
		if pgErr, ok := err.(*pq.Error); !ok || (pgErr.Code != "42P07" && pgErr.Code != "23505") {
			return "", fmt.Errorf("failed to create table %s: %w", tableName, err)
		}
	}

	indexQueries := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (data)",
			generateIndexName(collectionName, "data_gin"), tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (created_date)",
			generateIndexName(collectionName, "created_date"), tableName),
	}
	for _, indexQuery := range indexQueries {
		if _, err := r.db.ExecContext(ctx, indexQuery); err != nil {
			log.Warn("Failed to create index: %s", err.Error())
		}
	}

	r.tables.Store(collectionName, struct{}{})
	return tableName, nil
}

func recordID(record value.Object) (string, error) {
	id, ok := record[interfaces.FieldID].(value.String)
	if !ok || id == "" {
		return "", fmt.Errorf("record has no %s", interfaces.FieldID)
	}
	return string(id), nil
}

// Save inserts a single record
func (r *PostgreSQLRepository) Save(ctx context.Context, collectionName string, record value.Object) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)

	go func() {
		defer close(result)

		tableName, err := r.ensureTable(ctx, collectionName)
		if err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}
		id, err := recordID(record)
		if err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}
		jsonData, err := record.MarshalJSON()
		if err != nil {
			result <- interfaces.RepositoryResult{Error: fmt.Errorf("failed to marshal data: %w", err)}
			return
		}

		now := time.Now().UnixMilli()
		query := fmt.Sprintf(`INSERT INTO %s (object_id, data, created_date, last_updated) VALUES ($1, $2, $3, $4)`, tableName)
		if _, err := r.db.ExecContext(ctx, query, id, jsonData, now, now); err != nil {
			if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" { // Unique violation
				result <- interfaces.RepositoryResult{Error: interfaces.ErrDuplicateKey}
				return
			}
			log.Error("PostgreSQL Save error: %s", err.Error())
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		result <- interfaces.RepositoryResult{Result: id}
	}()

	return result
}

// Find retrieves records matching the filter
func (r *PostgreSQLRepository) Find(ctx context.Context, collectionName string, f filter.Filter) <-chan interfaces.QueryResult {
	result := make(chan interfaces.QueryResult, 1)

	go func() {
		defer close(result)

		tableName, err := r.ensureTable(ctx, collectionName)
		if err != nil {
			result <- interfaces.QueryResult{Error: err}
			return
		}

		whereClause, args := CompileWhere("data", f.Where)
		query := fmt.Sprintf("SELECT data FROM %s WHERE %s%s", tableName, whereClause, orderBy("data", f.OrderTerms()))
		if f.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", f.Limit)
		}
		if f.Skip > 0 {
			query += fmt.Sprintf(" OFFSET %d", f.Skip)
		}

		var rows [][]byte
		if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
			log.Error("PostgreSQL Find error: %s", err.Error())
			result <- interfaces.QueryResult{Error: err}
			return
		}

		records := make([]value.Object, 0, len(rows))
		for _, raw := range rows {
			record, err := value.ParseObjectJSON(raw)
			if err != nil {
				result <- interfaces.QueryResult{Error: fmt.Errorf("failed to decode record: %w", err)}
				return
			}
			records = append(records, project(record, f.Fields))
		}

		result <- interfaces.QueryResult{Records: records}
	}()

	return result
}

// project keeps only the listed fields; an empty list keeps everything.
func project(record value.Object, fields []string) value.Object {
	if len(fields) == 0 {
		return record
	}
	out := make(value.Object, len(fields))
	for _, f := range fields {
		if v, ok := record[f]; ok {
			out[f] = v
		}
	}
	return out
}

// FindOne retrieves a single record
func (r *PostgreSQLRepository) FindOne(ctx context.Context, collectionName string, where *filter.Where) <-chan interfaces.SingleResult {
	result := make(chan interfaces.SingleResult, 1)

	go func() {
		defer close(result)

		found, err := interfaces.Await(ctx, r.Find(ctx, collectionName, filter.Filter{Where: where, Limit: 1}))
		if err == nil {
			err = found.Error
		}
		if err != nil {
			result <- interfaces.SingleResult{Error: err}
			return
		}
		if len(found.Records) == 0 {
			result <- interfaces.SingleResult{Error: interfaces.ErrNoDocuments}
			return
		}

		result <- interfaces.SingleResult{Record: found.Records[0]}
	}()

	return result
}

// Update replaces the first record matching where
func (r *PostgreSQLRepository) Update(ctx context.Context, collectionName string, where *filter.Where, record value.Object) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)

	go func() {
		defer close(result)

		tableName, err := r.ensureTable(ctx, collectionName)
		if err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}
		jsonData, err := record.MarshalJSON()
		if err != nil {
			result <- interfaces.RepositoryResult{Error: fmt.Errorf("failed to marshal data: %w", err)}
			return
		}

		b := &queryBuilder{}
		dataArg := b.bind(jsonData)
		updatedArg := b.bind(time.Now().UnixMilli())
		whereClause := b.where("data", where)
		query := fmt.Sprintf(`UPDATE %s SET data = %s::jsonb, last_updated = %s WHERE id = (SELECT id FROM %s WHERE %s LIMIT 1)`,
			tableName, dataArg, updatedArg, tableName, whereClause)

		res, err := r.db.ExecContext(ctx, query, b.args...)
		if err != nil {
			log.Error("PostgreSQL Update error: %s", err.Error())
			result <- interfaces.RepositoryResult{Error: err}
			return
		}
		affected, err := res.RowsAffected()
		if err != nil {
			result <- interfaces.RepositoryResult{Error: err}
			return
		}
		if affected == 0 {
			result <- interfaces.RepositoryResult{Error: interfaces.ErrNoDocuments}
			return
		}

		result <- interfaces.RepositoryResult{Result: affected}
	}()

	return result
}

// Count counts records matching where
func (r *PostgreSQLRepository) Count(ctx context.Context, collectionName string, where *filter.Where) <-chan interfaces.CountResult {
	result := make(chan interfaces.CountResult, 1)

	go func() {
		defer close(result)

		tableName, err := r.ensureTable(ctx, collectionName)
		if err != nil {
			result <- interfaces.CountResult{Error: err}
			return
		}

		whereClause, args := CompileWhere("data", where)
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tableName, whereClause)

		var count int64
		if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
			log.Error("PostgreSQL Count error: %s", err.Error())
			result <- interfaces.CountResult{Error: err}
			return
		}

		result <- interfaces.CountResult{Count: count}
	}()

	return result
}

// CountRelations counts relation records joined to their list and entity
func (r *PostgreSQLRepository) CountRelations(ctx context.Context, q interfaces.RelationQuery) <-chan interfaces.CountResult {
	result := make(chan interfaces.CountResult, 1)

	go func() {
		defer close(result)

		tables := map[string]string{}
		for _, name := range []string{q.Collection, q.ListCollection, q.EntityCollection} {
			tableName, err := r.ensureTable(ctx, name)
			if err != nil {
				result <- interfaces.CountResult{Error: err}
				return
			}
			tables[name] = tableName
		}

		query, args := RelationCountQuery(q, tables)

		var count int64
		if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
			log.Error("PostgreSQL CountRelations error: %s", err.Error())
			result <- interfaces.CountResult{Error: err}
			return
		}

		result <- interfaces.CountResult{Count: count}
	}()

	return result
}

// RelationCountQuery builds the statement used by CountRelations. Lists and
// entities are joined only when they are filtered.
func RelationCountQuery(q interfaces.RelationQuery, tables map[string]string) (string, []interface{}) {
	b := &queryBuilder{}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT COUNT(*) FROM %s AS r", tables[q.Collection])

	conditions := []string{b.where("r.data", q.Where)}
	if !q.ListWhere.IsEmpty() {
		fmt.Fprintf(&sb, " JOIN %s AS l ON l.object_id = %s", tables[q.ListCollection], textPath("r.data", interfaces.FieldListID))
		conditions = append(conditions, b.where("l.data", q.ListWhere))
	}
	if !q.EntityWhere.IsEmpty() {
		fmt.Fprintf(&sb, " JOIN %s AS e ON e.object_id = %s", tables[q.EntityCollection], textPath("r.data", interfaces.FieldEntityID))
		conditions = append(conditions, b.where("e.data", q.EntityWhere))
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(joinAnd(conditions))
	return sb.String(), b.args
}

// Ping checks the database connection
func (r *PostgreSQLRepository) Ping(ctx context.Context) <-chan error {
	result := make(chan error, 1)

	go func() {
		defer close(result)
		result <- r.db.PingContext(ctx)
	}()

	return result
}

// Close closes the database connection
func (r *PostgreSQLRepository) Close() error {
	return r.db.Close()
}

var _ interfaces.Repository = (*PostgreSQLRepository)(nil)
