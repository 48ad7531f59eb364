// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolzam/entitystore/internal/cache"
	"github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/internal/value"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
)

// brokenCache fails every operation.
type brokenCache struct{}

var errBroken = errors.New("cache backend down")

func (brokenCache) Get(context.Context, string) ([]byte, error)              { return nil, errBroken }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error { return errBroken }
func (brokenCache) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errBroken
}
func (brokenCache) Delete(context.Context, string) error         { return errBroken }
func (brokenCache) DeletePattern(context.Context, string) error  { return errBroken }
func (brokenCache) Exists(context.Context, string) (bool, error) { return false, errBroken }
func (brokenCache) Close() error                                 { return nil }
func (brokenCache) Stats() cache.CacheStats                      { return cache.CacheStats{} }

func seedReferences(t *testing.T, store repository.RecordRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, models.KindEntity, obj(map[string]interface{}{"_id": "E1", "_kind": "book", "title": "Dune"})))
	require.NoError(t, store.Save(ctx, models.KindEntity, obj(map[string]interface{}{"_id": "E2", "_kind": "book", "title": "Emma"})))
	require.NoError(t, store.Save(ctx, models.KindList, obj(map[string]interface{}{"_id": "L1", "_kind": "shelf"})))
}

func TestParseReference(t *testing.T) {
	kind, id, ok := ParseReference("tapp://localhost/entities/E1")
	assert.True(t, ok)
	assert.Equal(t, models.KindEntity, kind)
	assert.Equal(t, "E1", id)

	kind, id, ok = ParseReference("tapp://localhost/lists/L1")
	assert.True(t, ok)
	assert.Equal(t, models.KindList, kind)
	assert.Equal(t, "L1", id)

	for _, ref := range []string{"tapp://localhost/entities/", "https://example.com/entities/E1", "E1"} {
		_, _, ok := ParseReference(ref)
		assert.False(t, ok, ref)
	}

	assert.Equal(t, "tapp://localhost/lists/L1", Reference(models.KindList, "L1"))
	assert.Equal(t, "tapp://localhost/entities/E1", Reference(models.KindEntity, "E1"))
}

func TestLookupResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	seedReferences(t, store)
	resolver := NewLookupResolver(store, nil)

	record := obj(map[string]interface{}{
		"_id":  "R1",
		"book": "tapp://localhost/entities/E1",
		"shelves": []interface{}{
			"tapp://localhost/lists/L1",
			"tapp://localhost/entities/missing",
		},
		"note": "tapp://localhost/entities/E2",
	})

	resolved, err := resolver.Resolve(ctx, record, "book", "shelves", "absent")
	require.NoError(t, err)

	book, ok := resolved["book"].(value.Object)
	require.True(t, ok)
	assert.Equal(t, value.String("Dune"), book["title"])

	shelves, ok := resolved["shelves"].(value.Array)
	require.True(t, ok)
	require.Len(t, shelves, 2)
	shelf, ok := shelves[0].(value.Object)
	require.True(t, ok)
	assert.Equal(t, value.String("shelf"), shelf["_kind"])
	assert.Equal(t, value.String("tapp://localhost/entities/missing"), shelves[1])

	assert.Equal(t, value.String("tapp://localhost/entities/E2"), resolved["note"], "fields not asked for stay references")
	assert.NotContains(t, resolved, "absent")
	assert.Equal(t, value.String("tapp://localhost/entities/E1"), record["book"], "input is not modified")
}

func TestLookupResolver_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("results are cached until a write invalidates them", func(t *testing.T) {
		cacheService := newMemoryCacheService()
		f := newFixture(t, config.KindPolicy{}, cacheService)
		seedReferences(t, f.store)
		resolver := NewLookupResolver(f.store, cacheService)
		record := obj(map[string]interface{}{"book": "tapp://localhost/entities/E1"})

		first, err := resolver.Resolve(ctx, record, "book")
		require.NoError(t, err)
		assert.Equal(t, value.String("Dune"), first["book"].(value.Object)["title"])

		// bypass the service so nothing invalidates the cache
		require.NoError(t, f.store.Replace(ctx, models.KindEntity, "E1",
			obj(map[string]interface{}{"_id": "E1", "_kind": "book", "title": "Dune (2nd ed.)"})))

		cached, err := resolver.Resolve(ctx, record, "book")
		require.NoError(t, err)
		assert.Equal(t, value.String("Dune"), cached["book"].(value.Object)["title"])
		assert.Equal(t, int64(1), cacheService.GetStats().Hits)

		_, err = f.svc.Update(ctx, "E1", obj(map[string]interface{}{"title": "Dune (3rd ed.)"}))
		require.NoError(t, err)

		fresh, err := resolver.Resolve(ctx, record, "book")
		require.NoError(t, err)
		assert.Equal(t, value.String("Dune (3rd ed.)"), fresh["book"].(value.Object)["title"])
	})

	t.Run("cache failures do not fail the lookup", func(t *testing.T) {
		store := newStore()
		seedReferences(t, store)
		cfg := cache.DefaultCacheConfig()
		resolver := NewLookupResolver(store, cache.NewGenericCacheService(brokenCache{}, cfg))

		resolved, err := resolver.Resolve(ctx, obj(map[string]interface{}{"book": "tapp://localhost/entities/E2"}), "book")
		require.NoError(t, err)
		assert.Equal(t, value.String("Emma"), resolved["book"].(value.Object)["title"])
	})
}
