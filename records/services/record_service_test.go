// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolzam/entitystore/internal/cache"
	"github.com/qolzam/entitystore/internal/database/memory"
	"github.com/qolzam/entitystore/internal/database/observability"
	"github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/internal/value"
	limitserrors "github.com/qolzam/entitystore/limits/errors"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
	limitsservices "github.com/qolzam/entitystore/limits/services"
	recorderrors "github.com/qolzam/entitystore/records/errors"
)

var t0 = time.Date(2024, 1, 17, 21, 0, 0, 0, time.UTC)

// steppingClock advances one minute per reading.
type steppingClock struct{ t time.Time }

func (c *steppingClock) now() time.Time {
	current := c.t
	c.t = c.t.Add(time.Minute)
	return current
}

func fixedClock() time.Time { return t0 }

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("E%d", n), nil
	}
}

func newStore() repository.RecordRepository {
	return repository.NewRecordRepository(memory.NewMemoryRepository(), repository.Collections{
		models.KindEntity:   "entities",
		models.KindList:     "lists",
		models.KindRelation: "relations",
	})
}

func newMemoryCacheService() *cache.GenericCacheService {
	cfg := cache.DefaultCacheConfig()
	cfg.CleanupInterval = 0
	return cache.NewGenericCacheService(cache.NewMemoryCache(cfg), cfg)
}

type fixture struct {
	store repository.RecordRepository
	cache *cache.GenericCacheService
	svc   RecordService
}

func newFixture(t *testing.T, policy config.KindPolicy, cacheService *cache.GenericCacheService, opts ...Option) fixture {
	t.Helper()
	rules, err := models.NewRuleSet(config.PoliciesConfig{models.KindEntity.EnvPrefix(): policy})
	require.NoError(t, err)

	store := newStore()
	checker := limitsservices.NewChecker(rules, store,
		limitsservices.WithClock(fixedClock),
		limitsservices.WithMetrics(observability.NewMetricsCollector()))
	opts = append([]Option{WithClock(fixedClock), WithIDGenerator(sequentialIDs())}, opts...)
	return fixture{
		store: store,
		cache: cacheService,
		svc:   NewRecordService(models.KindEntity, policy, store, checker, cacheService, opts...),
	}
}

func obj(m map[string]interface{}) value.Object {
	return value.ToObject(m)
}

func (f fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.Count(context.Background(), models.KindEntity, nil)
	require.NoError(t, err)
	return n
}

func TestCreate_Enrichment(t *testing.T) {
	ctx := context.Background()

	t.Run("fills system fields and defaults", func(t *testing.T) {
		f := newFixture(t, config.KindPolicy{DefaultKind: "book", AutoApprove: true}, nil)

		created, err := f.svc.Create(ctx, obj(map[string]interface{}{"_name": "Dune: Part Two!"}))
		require.NoError(t, err)

		assert.Equal(t, value.String("E1"), created["_id"])
		assert.Equal(t, value.Date(t0), created[FieldCreatedDateTime])
		assert.Equal(t, value.Date(t0), created[FieldLastUpdatedDateTime])
		assert.Equal(t, value.Date(t0), created[FieldValidFromDateTime])
		assert.Equal(t, value.String("book"), created[FieldKind])
		assert.Equal(t, value.String(DefaultVisibility), created[FieldVisibility])
		assert.Equal(t, value.String("dune-part-two"), created[FieldSlug])
		assert.NotContains(t, created, FieldIdempotencyKey)

		stored, err := f.svc.Get(ctx, "E1")
		require.NoError(t, err)
		assert.Equal(t, created, stored)
	})

	t.Run("keeps caller values", func(t *testing.T) {
		f := newFixture(t, config.KindPolicy{DefaultKind: "book"}, nil)

		created, err := f.svc.Create(ctx, obj(map[string]interface{}{
			"_id":         "custom",
			"_kind":       "movie",
			"_visibility": "public",
			"_name":       "Arrival",
			"_slug":       "first-contact",
		}))
		require.NoError(t, err)

		assert.Equal(t, value.String("custom"), created["_id"])
		assert.Equal(t, value.String("movie"), created[FieldKind])
		assert.Equal(t, value.String("public"), created[FieldVisibility])
		assert.Equal(t, value.String("first-contact"), created[FieldSlug])
		assert.NotContains(t, created, FieldValidFromDateTime)
	})

	t.Run("does not modify the input", func(t *testing.T) {
		f := newFixture(t, config.KindPolicy{DefaultKind: "book"}, nil)
		input := obj(map[string]interface{}{"_name": "Dune"})

		_, err := f.svc.Create(ctx, input)
		require.NoError(t, err)
		assert.Len(t, input, 1)
	})

	t.Run("duplicate id", func(t *testing.T) {
		f := newFixture(t, config.KindPolicy{}, nil)
		_, err := f.svc.Create(ctx, obj(map[string]interface{}{"_id": "X"}))
		require.NoError(t, err)

		_, err = f.svc.Create(ctx, obj(map[string]interface{}{"_id": "X"}))
		require.Error(t, err)
		assert.True(t, errors.Is(err, recorderrors.ErrRecordAlreadyExists))
		var recordErr *recorderrors.RecordError
		require.True(t, errors.As(err, &recordErr))
		assert.Equal(t, "ENTITY-ALREADY-EXISTS", recordErr.Code())
		assert.Equal(t, http.StatusConflict, recordErr.Status())
	})
}

func TestCreate_Checks(t *testing.T) {
	ctx := context.Background()

	t.Run("limit rejects the write past the scope size", func(t *testing.T) {
		f := newFixture(t, config.KindPolicy{
			DefaultKind:  "book",
			RecordLimits: `[{"scope":"where[_kind]=book","limit":2}]`,
		}, nil)

		for i := 0; i < 2; i++ {
			_, err := f.svc.Create(ctx, obj(map[string]interface{}{"title": i}))
			require.NoError(t, err)
		}
		_, err := f.svc.Create(ctx, obj(map[string]interface{}{"title": 3}))
		require.Error(t, err)

		var limitErr *limitserrors.LimitExceededError
		require.True(t, errors.As(err, &limitErr))
		assert.Equal(t, "ENTITY-LIMIT-EXCEEDED", limitErr.Code())
		assert.Equal(t, int64(2), f.count(t))

		_, err = f.svc.Create(ctx, obj(map[string]interface{}{"_kind": "movie"}))
		assert.NoError(t, err)
	})

	t.Run("uniqueness rejects a second record in the scope", func(t *testing.T) {
		f := newFixture(t, config.KindPolicy{
			DefaultKind:      "book",
			UniquenessFields: []string{"_kind", "_slug"},
		}, nil)

		_, err := f.svc.Create(ctx, obj(map[string]interface{}{"_name": "Dune"}))
		require.NoError(t, err)

		_, err = f.svc.Create(ctx, obj(map[string]interface{}{"_name": "DUNE"}))
		require.Error(t, err)
		var uniqueErr *limitserrors.UniquenessViolationError
		require.True(t, errors.As(err, &uniqueErr))
		assert.Equal(t, "where[_kind]=book&where[_slug]=dune", uniqueErr.Scope)
		assert.Equal(t, int64(1), f.count(t))

		_, err = f.svc.Update(ctx, "E1", obj(map[string]interface{}{"rating": 5}))
		assert.NoError(t, err, "a record never conflicts with itself")
	})
}

func TestCreate_Idempotency(t *testing.T) {
	ctx := context.Background()
	policy := config.KindPolicy{DefaultKind: "book", IdempotencyFields: []string{"_ownerUsers", "meta.isbn"}}
	data := func(owner string) value.Object {
		return obj(map[string]interface{}{
			"_ownerUsers": []interface{}{owner},
			"meta":        map[string]interface{}{"isbn": "978-0441013593"},
		})
	}

	t.Run("replays through the cache", func(t *testing.T) {
		f := newFixture(t, policy, newMemoryCacheService())

		first, err := f.svc.Create(ctx, data("u1"))
		require.NoError(t, err)
		require.Contains(t, first, FieldIdempotencyKey)
		assert.Len(t, string(first[FieldIdempotencyKey].(value.String)), 64)

		second, err := f.svc.Create(ctx, data("u1"))
		require.NoError(t, err)
		assert.Equal(t, first["_id"], second["_id"])
		assert.Equal(t, int64(1), f.count(t))
		assert.Equal(t, int64(1), f.cache.GetStats().Hits)

		third, err := f.svc.Create(ctx, data("u2"))
		require.NoError(t, err)
		assert.NotEqual(t, first["_id"], third["_id"])
		assert.Equal(t, int64(2), f.count(t))
	})

	t.Run("replays through the repository without a cache", func(t *testing.T) {
		f := newFixture(t, policy, nil)

		first, err := f.svc.Create(ctx, data("u1"))
		require.NoError(t, err)
		second, err := f.svc.Create(ctx, data("u1"))
		require.NoError(t, err)
		assert.Equal(t, first["_id"], second["_id"])
		assert.Equal(t, int64(1), f.count(t))
	})

	t.Run("a write in flight blocks the same key", func(t *testing.T) {
		cacheService := newMemoryCacheService()
		f := newFixture(t, policy, cacheService)
		svc := f.svc.(*recordService)

		key, ok, err := svc.idempotencyKey(data("u1"))
		require.NoError(t, err)
		require.True(t, ok)
		won, err := cacheService.Claim(ctx, svc.idempotencyCacheKey(key)+":lock", "other")
		require.NoError(t, err)
		require.True(t, won)

		_, err = f.svc.Create(ctx, data("u1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, recorderrors.ErrIdempotencyInFlight))
		assert.Equal(t, int64(0), f.count(t))
	})

	t.Run("claim is released after the write", func(t *testing.T) {
		cacheService := newMemoryCacheService()
		f := newFixture(t, policy, cacheService)

		created, err := f.svc.Create(ctx, data("u1"))
		require.NoError(t, err)

		svc := f.svc.(*recordService)
		lockKey := svc.idempotencyCacheKey(string(created[FieldIdempotencyKey].(value.String))) + ":lock"
		held, err := cacheService.Exists(ctx, lockKey)
		require.NoError(t, err)
		assert.False(t, held)
	})
}

func TestUpdateAndReplace(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{t: t0}
	f := newFixture(t, config.KindPolicy{DefaultKind: "book"}, nil, WithClock(clock.now))

	created, err := f.svc.Create(ctx, obj(map[string]interface{}{"_name": "Dune", "rating": 4, "genre": "sf"}))
	require.NoError(t, err)
	id := string(created["_id"].(value.String))

	t.Run("update merges the patch", func(t *testing.T) {
		updated, err := f.svc.Update(ctx, id, obj(map[string]interface{}{
			"_id":    "hijack",
			"_name":  "Dune Messiah",
			"rating": 5,
		}))
		require.NoError(t, err)

		assert.Equal(t, created["_id"], updated["_id"])
		assert.Equal(t, created[FieldCreatedDateTime], updated[FieldCreatedDateTime])
		assert.Equal(t, value.Date(t0.Add(time.Minute)), updated[FieldLastUpdatedDateTime])
		assert.Equal(t, value.String("dune-messiah"), updated[FieldSlug])
		assert.Equal(t, value.Number(5), updated["rating"])
		assert.Equal(t, value.String("sf"), updated["genre"])

		stored, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, updated, stored)
	})

	t.Run("replace keeps only identity fields", func(t *testing.T) {
		replaced, err := f.svc.Replace(ctx, id, obj(map[string]interface{}{"_name": "Children of Dune"}))
		require.NoError(t, err)

		assert.Equal(t, created["_id"], replaced["_id"])
		assert.Equal(t, created[FieldCreatedDateTime], replaced[FieldCreatedDateTime])
		assert.Equal(t, value.String("children-of-dune"), replaced[FieldSlug])
		assert.Equal(t, value.String("book"), replaced[FieldKind])
		assert.NotContains(t, replaced, "rating")
		assert.NotContains(t, replaced, "genre")
		assert.Equal(t, int64(1), f.count(t))
	})

	t.Run("missing record", func(t *testing.T) {
		for _, write := range []func() (value.Object, error){
			func() (value.Object, error) { return f.svc.Update(ctx, "nope", obj(nil)) },
			func() (value.Object, error) { return f.svc.Replace(ctx, "nope", obj(nil)) },
			func() (value.Object, error) { return f.svc.Get(ctx, "nope") },
		} {
			_, err := write()
			require.Error(t, err)
			assert.True(t, errors.Is(err, recorderrors.ErrRecordNotFound))
			var recordErr *recorderrors.RecordError
			require.True(t, errors.As(err, &recordErr))
			assert.Equal(t, "ENTITY-NOT-FOUND", recordErr.Code())
			assert.Equal(t, http.StatusNotFound, recordErr.Status())
		}
	})
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Dune":                "dune",
		"Dune: Part Two!":     "dune-part-two",
		"  leading and tail ": "leading-and-tail",
		"a--b__c":             "a-b-c",
		"Crème Brûlée 2":      "crème-brûlée-2",
		"!!!":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}
