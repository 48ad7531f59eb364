// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/value"
)

// MongoRepository implements the Repository interface for MongoDB
type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// NewMongoRepository creates a new MongoDB repository
func NewMongoRepository(ctx context.Context, config *interfaces.MongoDBConfig) (*MongoRepository, error) {
	clientOptions := options.Client().ApplyURI(config.URI)

	if config.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(uint64(config.MaxPoolSize))
	}
	if config.ConnectTimeout > 0 {
		clientOptions.SetConnectTimeout(config.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoRepository{
		client:   client,
		database: client.Database(config.Database),
		dbName:   config.Database,
	}, nil
}

// Save inserts a single record
func (r *MongoRepository) Save(ctx context.Context, collectionName string, record value.Object) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)

	go func() {
		defer close(result)

		collection := r.database.Collection(collectionName)

		_, err := collection.InsertOne(ctx, toBSON(record))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				result <- interfaces.RepositoryResult{Error: interfaces.ErrDuplicateKey}
				return
			}
			log.Error("MongoDB Save error: %s", err.Error())
			result <- interfaces.RepositoryResult{Error: err}
			return
		}

		result <- interfaces.RepositoryResult{Result: record[interfaces.FieldID]}
	}()

	return result
}

// Find retrieves records matching the filter
func (r *MongoRepository) Find(ctx context.Context, collectionName string, f filter.Filter) <-chan interfaces.QueryResult {
	result := make(chan interfaces.QueryResult, 1)

	go func() {
		defer close(result)

		collection := r.database.Collection(collectionName)

		findOptions := options.Find()
		if f.Limit > 0 {
			findOptions.SetLimit(int64(f.Limit))
		}
		if f.Skip > 0 {
			findOptions.SetSkip(int64(f.Skip))
		}
		if terms := f.OrderTerms(); len(terms) > 0 {
			findOptions.SetSort(sortDocument(terms))
		}
		if len(f.Fields) > 0 {
			findOptions.SetProjection(projection(f.Fields))
		}

		cursor, err := collection.Find(ctx, CompileWhere(f.Where), findOptions)
		if err != nil {
			log.Error("MongoDB Find error: %s", err.Error())
			result <- interfaces.QueryResult{Error: err}
			return
		}
		defer cursor.Close(ctx)

		var records []value.Object
		for cursor.Next(ctx) {
			var doc bson.M
			if err := cursor.Decode(&doc); err != nil {
				result <- interfaces.QueryResult{Error: err}
				return
			}
			records = append(records, fromBSON(doc))
		}
		if err := cursor.Err(); err != nil {
			log.Error("MongoDB Find cursor error: %s", err.Error())
			result <- interfaces.QueryResult{Error: err}
			return
		}

		result <- interfaces.QueryResult{Records: records}
	}()

	return result
}

// FindOne retrieves a single record
func (r *MongoRepository) FindOne(ctx context.Context, collectionName string, where *filter.Where) <-chan interfaces.SingleResult {
	result := make(chan interfaces.SingleResult, 1)

	go func() {
		defer close(result)

		collection := r.database.Collection(collectionName)

		var doc bson.M
		err := collection.FindOne(ctx, CompileWhere(where)).Decode(&doc)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				result <- interfaces.SingleResult{Error: interfaces.ErrNoDocuments}
				return
			}
			log.Error("MongoDB FindOne error: %s", err.Error())
			result <- interfaces.SingleResult{Error: err}
			return
		}

		result <- interfaces.SingleResult{Record: fromBSON(doc)}
	}()

	return result
}

// Update replaces the first record matching where
func (r *MongoRepository) Update(ctx context.Context, collectionName string, where *filter.Where, record value.Object) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)

	go func() {
		defer close(result)

		collection := r.database.Collection(collectionName)

		updateResult, err := collection.ReplaceOne(ctx, CompileWhere(where), toBSON(record))
		if err != nil {
			log.Error("MongoDB Update error: %s", err.Error())
			result <- interfaces.RepositoryResult{Error: err}
			return
		}
		if updateResult.MatchedCount == 0 {
			result <- interfaces.RepositoryResult{Error: interfaces.ErrNoDocuments}
			return
		}

		result <- interfaces.RepositoryResult{Result: updateResult.ModifiedCount}
	}()

	return result
}

// Count counts records matching where
func (r *MongoRepository) Count(ctx context.Context, collectionName string, where *filter.Where) <-chan interfaces.CountResult {
	result := make(chan interfaces.CountResult, 1)

	go func() {
		defer close(result)

		collection := r.database.Collection(collectionName)

		count, err := collection.CountDocuments(ctx, CompileWhere(where))
		if err != nil {
			log.Error("MongoDB Count error: %s", err.Error())
			result <- interfaces.CountResult{Error: err}
			return
		}

		result <- interfaces.CountResult{Count: count}
	}()

	return result
}

// CountRelations counts relation records joined to their list and entity
func (r *MongoRepository) CountRelations(ctx context.Context, q interfaces.RelationQuery) <-chan interfaces.CountResult {
	result := make(chan interfaces.CountResult, 1)

	go func() {
		defer close(result)

		collection := r.database.Collection(q.Collection)

		cursor, err := collection.Aggregate(ctx, RelationPipeline(q))
		if err != nil {
			log.Error("MongoDB CountRelations error: %s", err.Error())
			result <- interfaces.CountResult{Error: err}
			return
		}
		defer cursor.Close(ctx)

		var rows []struct {
			Count int64 `bson:"count"`
		}
		if err := cursor.All(ctx, &rows); err != nil {
			log.Error("MongoDB CountRelations decode error: %s", err.Error())
			result <- interfaces.CountResult{Error: err}
			return
		}
		if len(rows) == 0 {
			result <- interfaces.CountResult{Count: 0}
			return
		}

		result <- interfaces.CountResult{Count: rows[0].Count}
	}()

	return result
}

// RelationPipeline builds the aggregation used by CountRelations.
func RelationPipeline(q interfaces.RelationQuery) bson.A {
	return relationPipeline(relationStages{
		where: q.Where,
		joins: []relationJoin{
			{from: q.ListCollection, localField: interfaces.FieldListID, as: "_list", where: q.ListWhere},
			{from: q.EntityCollection, localField: interfaces.FieldEntityID, as: "_entity", where: q.EntityWhere},
		},
	})
}

// Ping checks the database connection
func (r *MongoRepository) Ping(ctx context.Context) <-chan error {
	result := make(chan error, 1)

	go func() {
		defer close(result)
		result <- r.client.Ping(ctx, nil)
	}()

	return result
}

// Close closes the database connection
func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ interfaces.Repository = (*MongoRepository)(nil)
