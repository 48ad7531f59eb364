// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/qolzam/entitystore/internal/cache"
	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/value"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
)

const lookupNamespace = "lookup"

// Reference prefixes of records a field can point at
const (
	EntityReferencePrefix = "tapp://localhost/entities/"
	ListReferencePrefix   = "tapp://localhost/lists/"
)

// ParseReference splits a tapp reference into kind and id.
func ParseReference(ref string) (models.Kind, string, bool) {
	switch {
	case strings.HasPrefix(ref, EntityReferencePrefix):
		id := strings.TrimPrefix(ref, EntityReferencePrefix)
		return models.KindEntity, id, id != ""
	case strings.HasPrefix(ref, ListReferencePrefix):
		id := strings.TrimPrefix(ref, ListReferencePrefix)
		return models.KindList, id, id != ""
	}
	return 0, "", false
}

// Reference renders the tapp reference of a record.
func Reference(kind models.Kind, id string) string {
	if kind == models.KindList {
		return ListReferencePrefix + id
	}
	return EntityReferencePrefix + id
}

// LookupResolver replaces record references with the records they name
type LookupResolver struct {
	repo  repository.RecordRepository
	cache *cache.GenericCacheService
}

// NewLookupResolver creates a LookupResolver. cacheService may be nil.
func NewLookupResolver(repo repository.RecordRepository, cacheService *cache.GenericCacheService) *LookupResolver {
	if cacheService == nil {
		cacheService = cache.NewGenericCacheService(nil, &cache.CacheConfig{Enabled: false})
	}
	return &LookupResolver{repo: repo, cache: cacheService}
}

// Resolve returns a copy of record whose reference fields hold the referenced
// records. References that resolve to nothing are left as they are.
func (r *LookupResolver) Resolve(ctx context.Context, record value.Object, fields ...string) (value.Object, error) {
	wanted := map[models.Kind]map[string]bool{}
	for _, field := range fields {
		for _, ref := range references(record[field]) {
			kind, id, ok := ParseReference(ref)
			if !ok {
				continue
			}
			if wanted[kind] == nil {
				wanted[kind] = map[string]bool{}
			}
			wanted[kind][id] = true
		}
	}

	resolved := map[string]value.Object{}
	for kind, set := range wanted {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		records, err := r.fetch(ctx, kind, ids)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			resolved[Reference(kind, value.Format(rec[interfaces.FieldID]))] = rec
		}
	}

	out := copyObject(record)
	for _, field := range fields {
		if v, ok := record[field]; ok {
			out[field] = substitute(v, resolved)
		}
	}
	return out, nil
}

// fetch loads the records of kind with the given ids, through the cache.
func (r *LookupResolver) fetch(ctx context.Context, kind models.Kind, ids []string) ([]value.Object, error) {
	key := r.cache.GenerateHashKey(lookupNamespace, map[string]interface{}{
		"kind": kind.String(),
		"ids":  ids,
	})

	var cached []json.RawMessage
	if err := r.cache.GetCached(ctx, key, &cached); err == nil {
		records := make([]value.Object, 0, len(cached))
		for _, raw := range cached {
			rec, err := value.ParseObjectJSON(raw)
			if err != nil {
				records = nil
				break
			}
			records = append(records, rec)
		}
		if records != nil {
			return records, nil
		}
	} else if !errors.Is(err, cache.ErrCacheDisabled) && !errors.Is(err, cache.ErrKeyNotFound) {
		log.WarnWithContext(ctx, "lookup cache read failed for %s: %v", kind, err)
	}

	inq := make(value.Array, len(ids))
	for i, id := range ids {
		inq[i] = value.String(id)
	}
	records, err := r.repo.Find(ctx, kind, filter.Filter{Where: filter.Op(interfaces.FieldID, filter.OpInq, inq)})
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheData(ctx, key, records); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		log.WarnWithContext(ctx, "lookup cache write failed for %s: %v", kind, err)
	}
	return records, nil
}

func references(v value.Value) []string {
	switch t := v.(type) {
	case value.String:
		return []string{string(t)}
	case value.Array:
		var refs []string
		for _, item := range t {
			if s, ok := item.(value.String); ok {
				refs = append(refs, string(s))
			}
		}
		return refs
	}
	return nil
}

func substitute(v value.Value, resolved map[string]value.Object) value.Value {
	switch t := v.(type) {
	case value.String:
		if rec, ok := resolved[string(t)]; ok {
			return rec
		}
	case value.Array:
		out := make(value.Array, len(t))
		for i, item := range t {
			out[i] = substitute(item, resolved)
		}
		return out
	}
	return v
}
