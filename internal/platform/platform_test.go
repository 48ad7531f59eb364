package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	platformconfig "github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/internal/value"
	limitserrors "github.com/qolzam/entitystore/limits/errors"
	"github.com/qolzam/entitystore/limits/models"
)

func memoryConfig(t *testing.T, extra map[string]string) *platformconfig.Config {
	t.Helper()
	env := map[string]string{
		"DB_TYPE":                "memory",
		"CACHE_CLEANUP_INTERVAL": "0s",
		"ENTITY_RECORD_LIMITS":   `[{"scope":"where[_kind]=book","limit":1}]`,
		"ENTITY_DEFAULT_KIND":    "book",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := platformconfig.LoadFromMap(env)
	require.NoError(t, err)
	return cfg
}

func TestNewBaseService(t *testing.T) {
	ctx := context.Background()

	t.Run("memory backend wires the write path", func(t *testing.T) {
		base, err := NewBaseService(ctx, memoryConfig(t, nil))
		require.NoError(t, err)
		defer base.Close()

		assert.Equal(t, interfaces.DatabaseTypeMemory, base.GetDatabaseType())
		assert.True(t, base.Cache.IsEnabled())
		require.NoError(t, base.HealthCheck(ctx))

		books := base.RecordService(models.KindEntity)
		created, err := books.Create(ctx, value.Object{"_name": value.String("Dune")})
		require.NoError(t, err)
		assert.Equal(t, value.String("book"), created["_kind"])

		_, err = books.Create(ctx, value.Object{"_name": value.String("Emma")})
		var limitErr *limitserrors.LimitExceededError
		require.True(t, errors.As(err, &limitErr))
		assert.Equal(t, 1, limitErr.Limit)

		shelf, err := base.RecordService(models.KindList).Create(ctx, value.Object{
			"book": value.String("tapp://localhost/entities/" + string(created["_id"].(value.String))),
		})
		require.NoError(t, err)
		resolved, err := base.LookupResolver().Resolve(ctx, shelf, "book")
		require.NoError(t, err)
		assert.Equal(t, value.String("Dune"), resolved["book"].(value.Object)["_name"])
	})

	t.Run("malformed rules fail construction", func(t *testing.T) {
		_, err := NewBaseService(ctx, memoryConfig(t, map[string]string{"LIST_RECORD_LIMITS": "nope"}))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidRuleConfig))
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewBaseService(ctx, nil)
		require.Error(t, err)
	})
}

func TestExecuteWithRetry(t *testing.T) {
	base := &BaseService{retries: 2}
	ctx := context.Background()

	calls := 0
	err := base.ExecuteWithRetry(ctx, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := errors.New("down")
	err = base.ExecuteWithRetry(ctx, func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 3, calls)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = base.ExecuteWithRetry(canceled, func() error { return boom })
	assert.True(t, errors.Is(err, context.Canceled))
}
