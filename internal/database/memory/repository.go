// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package memory is an in-process Repository that evaluates filters with the
// same matcher used for local checks. It backs tests and DB_TYPE=memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/value"
)

// MemoryRepository keeps collections as ordered record slices.
type MemoryRepository struct {
	mu          sync.RWMutex
	collections map[string][]value.Object
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{collections: map[string][]value.Object{}}
}

func deliver[T any](v T) <-chan T {
	ch := make(chan T, 1)
	ch <- v
	close(ch)
	return ch
}

// Save inserts a single record
func (r *MemoryRepository) Save(ctx context.Context, collectionName string, record value.Object) <-chan interfaces.RepositoryResult {
	if err := ctx.Err(); err != nil {
		return deliver(interfaces.RepositoryResult{Error: err})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, hasID := record[interfaces.FieldID]
	if hasID {
		for _, existing := range r.collections[collectionName] {
			if value.Equal(existing[interfaces.FieldID], id) {
				return deliver(interfaces.RepositoryResult{Error: interfaces.ErrDuplicateKey})
			}
		}
	}
	r.collections[collectionName] = append(r.collections[collectionName], clone(record))
	return deliver(interfaces.RepositoryResult{Result: id})
}

// Find retrieves records matching the filter
func (r *MemoryRepository) Find(ctx context.Context, collectionName string, f filter.Filter) <-chan interfaces.QueryResult {
	if err := ctx.Err(); err != nil {
		return deliver(interfaces.QueryResult{Error: err})
	}

	r.mu.RLock()
	matched := r.match(collectionName, f.Where)
	r.mu.RUnlock()

	if terms := f.OrderTerms(); len(terms) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i], matched[j], terms)
		})
	}
	if f.Skip > 0 {
		if f.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Skip:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	records := make([]value.Object, 0, len(matched))
	for _, record := range matched {
		records = append(records, project(record, f.Fields))
	}
	return deliver(interfaces.QueryResult{Records: records})
}

// FindOne retrieves a single record
func (r *MemoryRepository) FindOne(ctx context.Context, collectionName string, where *filter.Where) <-chan interfaces.SingleResult {
	if err := ctx.Err(); err != nil {
		return deliver(interfaces.SingleResult{Error: err})
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.collections[collectionName] {
		if filter.Matches(record, where) {
			return deliver(interfaces.SingleResult{Record: clone(record)})
		}
	}
	return deliver(interfaces.SingleResult{Error: interfaces.ErrNoDocuments})
}

// Update replaces the first record matching where
func (r *MemoryRepository) Update(ctx context.Context, collectionName string, where *filter.Where, record value.Object) <-chan interfaces.RepositoryResult {
	if err := ctx.Err(); err != nil {
		return deliver(interfaces.RepositoryResult{Error: err})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.collections[collectionName]
	for i, existing := range records {
		if filter.Matches(existing, where) {
			records[i] = clone(record)
			return deliver(interfaces.RepositoryResult{Result: int64(1)})
		}
	}
	return deliver(interfaces.RepositoryResult{Error: interfaces.ErrNoDocuments})
}

// Count counts records matching where
func (r *MemoryRepository) Count(ctx context.Context, collectionName string, where *filter.Where) <-chan interfaces.CountResult {
	if err := ctx.Err(); err != nil {
		return deliver(interfaces.CountResult{Error: err})
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, record := range r.collections[collectionName] {
		if filter.Matches(record, where) {
			count++
		}
	}
	return deliver(interfaces.CountResult{Count: count})
}

// CountRelations counts relation records joined to their list and entity
func (r *MemoryRepository) CountRelations(ctx context.Context, q interfaces.RelationQuery) <-chan interfaces.CountResult {
	if err := ctx.Err(); err != nil {
		return deliver(interfaces.CountResult{Error: err})
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, relation := range r.collections[q.Collection] {
		if !filter.Matches(relation, q.Where) {
			continue
		}
		if !r.joined(q.ListCollection, relation[interfaces.FieldListID], q.ListWhere) {
			continue
		}
		if !r.joined(q.EntityCollection, relation[interfaces.FieldEntityID], q.EntityWhere) {
			continue
		}
		count++
	}
	return deliver(interfaces.CountResult{Count: count})
}

// joined reports whether the record with the given id matches where. An
// empty where needs no join.
func (r *MemoryRepository) joined(collectionName string, id value.Value, where *filter.Where) bool {
	if where.IsEmpty() {
		return true
	}
	for _, record := range r.collections[collectionName] {
		if value.Equal(record[interfaces.FieldID], id) {
			return filter.Matches(record, where)
		}
	}
	return false
}

// Ping checks the database connection
func (r *MemoryRepository) Ping(ctx context.Context) <-chan error {
	return deliver(ctx.Err())
}

// Close releases nothing; the data stays readable.
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) match(collectionName string, where *filter.Where) []value.Object {
	var out []value.Object
	for _, record := range r.collections[collectionName] {
		if filter.Matches(record, where) {
			out = append(out, clone(record))
		}
	}
	return out
}

func less(a, b value.Object, terms []filter.OrderTerm) bool {
	for _, term := range terms {
		c, ok := filter.Compare(value.Lookup(a, term.Field), value.Lookup(b, term.Field))
		if !ok || c == 0 {
			continue
		}
		if term.Descending {
			return c > 0
		}
		return c < 0
	}
	return false
}

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

func clone(record value.Object) value.Object {
	out, _ := cloneValue(record).(value.Object)
	return out
}

func cloneValue(v value.Value) value.Value {
	switch t := v.(type) {
	case value.Object:
		out := make(value.Object, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case value.Array:
		out := make(value.Array, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

var _ interfaces.Repository = (*MemoryRepository)(nil)
