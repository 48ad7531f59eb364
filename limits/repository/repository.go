// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package repository

import (
	"context"
	"fmt"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/internal/value"
	"github.com/qolzam/entitystore/limits/models"
)

// Counter is the store capability the limit checker needs.
type Counter interface {
	// Count returns the number of records of kind matching where
	Count(ctx context.Context, kind models.Kind, where *filter.Where) (int64, error)

	// CountRelations counts relation records matching where whose list and
	// entity match listWhere and entityWhere
	CountRelations(ctx context.Context, where, listWhere, entityWhere *filter.Where) (int64, error)
}

// RecordRepository persists governed records by kind.
type RecordRepository interface {
	Counter

	// Save inserts a new record
	Save(ctx context.Context, kind models.Kind, record value.Object) error

	// FindByID retrieves a record by its _id
	FindByID(ctx context.Context, kind models.Kind, id string) (value.Object, error)

	// Find retrieves records matching the filter
	Find(ctx context.Context, kind models.Kind, f filter.Filter) ([]value.Object, error)

	// FindOne retrieves the first record matching where
	FindOne(ctx context.Context, kind models.Kind, where *filter.Where) (value.Object, error)

	// Replace overwrites the record with the given _id
	Replace(ctx context.Context, kind models.Kind, id string, record value.Object) error
}

// Collections names the collection holding each kind.
type Collections map[models.Kind]string

// CollectionsFromConfig maps configured collection names onto kinds.
func CollectionsFromConfig(c config.CollectionsConfig) Collections {
	return Collections{
		models.KindEntity:         c.Entities,
		models.KindList:           c.Lists,
		models.KindRelation:       c.Relations,
		models.KindEntityReaction: c.EntityReactions,
		models.KindListReaction:   c.ListReactions,
	}
}

// Name returns the collection of kind.
func (c Collections) Name(kind models.Kind) (string, error) {
	name, ok := c[kind]
	if !ok || name == "" {
		return "", fmt.Errorf("no collection configured for %s", kind)
	}
	return name, nil
}

// recordRepository adapts a database Repository to kind-addressed records
type recordRepository struct {
	db          interfaces.Repository
	collections Collections
}

// NewRecordRepository creates a RecordRepository over db
func NewRecordRepository(db interfaces.Repository, collections Collections) RecordRepository {
	return &recordRepository{db: db, collections: collections}
}

func (r *recordRepository) Count(ctx context.Context, kind models.Kind, where *filter.Where) (int64, error) {
	coll, err := r.collections.Name(kind)
	if err != nil {
		return 0, err
	}
	res, err := interfaces.Await(ctx, r.db.Count(ctx, coll, where))
	if err != nil {
		return 0, err
	}
	return res.Count, res.Error
}

func (r *recordRepository) CountRelations(ctx context.Context, where, listWhere, entityWhere *filter.Where) (int64, error) {
	q := interfaces.RelationQuery{Where: where, ListWhere: listWhere, EntityWhere: entityWhere}
	var err error
	if q.Collection, err = r.collections.Name(models.KindRelation); err != nil {
		return 0, err
	}
	if q.ListCollection, err = r.collections.Name(models.KindList); err != nil {
		return 0, err
	}
	if q.EntityCollection, err = r.collections.Name(models.KindEntity); err != nil {
		return 0, err
	}
	res, err := interfaces.Await(ctx, r.db.CountRelations(ctx, q))
	if err != nil {
		return 0, err
	}
	return res.Count, res.Error
}

func (r *recordRepository) Save(ctx context.Context, kind models.Kind, record value.Object) error {
	coll, err := r.collections.Name(kind)
	if err != nil {
		return err
	}
	res, err := interfaces.Await(ctx, r.db.Save(ctx, coll, record))
	if err != nil {
		return err
	}
	return res.Error
}

func (r *recordRepository) FindByID(ctx context.Context, kind models.Kind, id string) (value.Object, error) {
	return r.FindOne(ctx, kind, filter.Eq(interfaces.FieldID, id))
}

func (r *recordRepository) Find(ctx context.Context, kind models.Kind, f filter.Filter) ([]value.Object, error) {
	coll, err := r.collections.Name(kind)
	if err != nil {
		return nil, err
	}
	res, err := interfaces.Await(ctx, r.db.Find(ctx, coll, f))
	if err != nil {
		return nil, err
	}
	return res.Records, res.Error
}

func (r *recordRepository) FindOne(ctx context.Context, kind models.Kind, where *filter.Where) (value.Object, error) {
	coll, err := r.collections.Name(kind)
	if err != nil {
		return nil, err
	}
	res, err := interfaces.Await(ctx, r.db.FindOne(ctx, coll, where))
	if err != nil {
		return nil, err
	}
	return res.Record, res.Error
}

func (r *recordRepository) Replace(ctx context.Context, kind models.Kind, id string, record value.Object) error {
	coll, err := r.collections.Name(kind)
	if err != nil {
		return err
	}
	res, err := interfaces.Await(ctx, r.db.Update(ctx, coll, filter.Eq(interfaces.FieldID, id), record))
	if err != nil {
		return err
	}
	return res.Error
}
