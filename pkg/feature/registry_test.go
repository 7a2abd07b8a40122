package feature_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/feature"
)

func TestRegistryCreateFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("AppliesDefaults", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		flag, err := f.registry.CreateFlag(ctx, feature.CreateFlagParams{Key: "dark_mode"}, "tester")
		require.NoError(t, err)
		assert.Equal(t, feature.FlagTypeBoolean, flag.Type)
		assert.Equal(t, feature.FlagStatusActive, flag.Status)
		assert.Equal(t, 100, flag.RolloutPercentage)
		assert.True(t, flag.IsGlobal)
		assert.Equal(t, "tester", flag.CreatedBy)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.registry.CreateFlag(ctx, feature.CreateFlagParams{}, "tester")
		assert.ErrorIs(t, err, feature.ErrInvalidFlag)
	})

	t.Run("InvalidType", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.registry.CreateFlag(ctx, feature.CreateFlagParams{
			Key:  "dark_mode",
			Type: feature.FlagType("banana"),
		}, "tester")
		assert.ErrorIs(t, err, feature.ErrInvalidFlag)
	})

	t.Run("RolloutOutOfRange", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.registry.CreateFlag(ctx, feature.CreateFlagParams{
			Key:               "dark_mode",
			RolloutPercentage: intPtr(101),
		}, "tester")
		assert.ErrorIs(t, err, feature.ErrInvalidFlag)
	})

	t.Run("DuplicateKeyWithinScope", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode"})

		_, err := f.registry.CreateFlag(ctx, feature.CreateFlagParams{Key: "dark_mode"}, "tester")
		assert.ErrorIs(t, err, feature.ErrDuplicateKey)

		// The same key in a different tenant scope is a distinct flag.
		_, err = f.registry.CreateFlag(ctx, feature.CreateFlagParams{Key: "dark_mode", TenantID: "tenant-1"}, "tester")
		assert.NoError(t, err)
	})
}

func TestRegistryCacheInvalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("UpdateIsVisibleImmediately", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		flag := f.createFlag(t, feature.CreateFlagParams{
			Key:          "greeting",
			Type:         feature.FlagTypeString,
			DefaultValue: "hello",
		})
		f.setValue(t, flag.ID, "production", "bonjour", feature.UpdateValueOptions{})

		evaluator := f.evaluator()
		result := evaluator.EvaluateFlag(ctx, "greeting", prodContext("user-1"))
		require.Equal(t, "bonjour", result.Value)

		// The first evaluation populated the cache; the upsert must evict it.
		f.setValue(t, flag.ID, "production", "hola", feature.UpdateValueOptions{})

		result = evaluator.EvaluateFlag(ctx, "greeting", prodContext("user-1"))
		assert.Equal(t, "hola", result.Value)
		assert.Equal(t, feature.ReasonEvaluated, result.Reason)
	})

	t.Run("StaleUntilTTLWhenStorageChangesUnderneath", func(t *testing.T) {
		t.Parallel()

		var (
			mu  sync.Mutex
			now = time.Now()
		)
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		advance := func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}

		cache := feature.NewMemoryCache(feature.WithClock(clock))
		t.Cleanup(func() { _ = cache.Close() })

		storage := feature.NewMemoryStorage()
		registry := feature.NewRegistry(storage,
			feature.WithCache(cache),
			feature.WithCacheTTL(time.Minute))
		t.Cleanup(func() { _ = registry.Close() })

		flag, err := registry.CreateFlag(ctx, feature.CreateFlagParams{
			Key:          "greeting",
			Type:         feature.FlagTypeString,
			DefaultValue: "hello",
		}, "tester")
		require.NoError(t, err)
		_, err = registry.UpdateFlagValue(ctx, flag.ID, "production", "bonjour", feature.UpdateValueOptions{}, "tester")
		require.NoError(t, err)

		first, err := registry.GetFlagValue(ctx, flag.ID, "production", "")
		require.NoError(t, err)
		require.Equal(t, "bonjour", first.Value)

		// Mutate storage directly, as another process would. The registry
		// keeps serving the cached row until the TTL passes.
		stale := *first
		stale.Value = "hola"
		require.NoError(t, storage.UpsertFlagValue(ctx, &stale))

		cached, err := registry.GetFlagValue(ctx, flag.ID, "production", "")
		require.NoError(t, err)
		assert.Equal(t, "bonjour", cached.Value)

		advance(2 * time.Minute)

		fresh, err := registry.GetFlagValue(ctx, flag.ID, "production", "")
		require.NoError(t, err)
		assert.Equal(t, "hola", fresh.Value)
	})

	t.Run("ClearCache", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		flag := f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode", DefaultValue: false})
		f.setValue(t, flag.ID, "production", true, feature.UpdateValueOptions{})

		_, err := f.registry.GetFlagValue(ctx, flag.ID, "production", "")
		require.NoError(t, err)

		f.registry.ClearCache(ctx)

		stale := feature.FlagValue{ID: flag.ID, FlagID: flag.ID, Environment: "production", Value: false, Enabled: true}
		require.NoError(t, f.storage.UpsertFlagValue(ctx, &stale))

		fresh, err := f.registry.GetFlagValue(ctx, flag.ID, "production", "")
		require.NoError(t, err)
		assert.Equal(t, false, fresh.Value)
	})
}

func TestRegistryUpdateFlagValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("UnknownFlag", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.registry.UpdateFlagValue(ctx, uuid.New(), "production", true, feature.UpdateValueOptions{}, "tester")
		assert.ErrorIs(t, err, feature.ErrFlagNotFound)
	})

	t.Run("EmptyEnvironment", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		flag := f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode"})

		_, err := f.registry.UpdateFlagValue(ctx, flag.ID, "", true, feature.UpdateValueOptions{}, "tester")
		assert.ErrorIs(t, err, feature.ErrInvalidFlag)
	})

	t.Run("RolloutOutOfRange", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		flag := f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode"})

		_, err := f.registry.UpdateFlagValue(ctx, flag.ID, "production", true, feature.UpdateValueOptions{
			RolloutPercentage: intPtr(-1),
		}, "tester")
		assert.ErrorIs(t, err, feature.ErrInvalidFlag)
	})

	t.Run("EnabledDefaultsToTrue", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		flag := f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode"})

		row, err := f.registry.UpdateFlagValue(ctx, flag.ID, "production", true, feature.UpdateValueOptions{}, "tester")
		require.NoError(t, err)
		assert.True(t, row.Enabled)
	})
}

func TestRegistryAddDependency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("SelfDependency", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		flag := f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode"})

		_, err := f.registry.AddDependency(ctx, flag.ID, flag.ID, feature.DependencyRequires, nil, "tester")
		assert.ErrorIs(t, err, feature.ErrInvalidDependency)
	})

	t.Run("UnknownType", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := f.createFlag(t, feature.CreateFlagParams{Key: "flag_a"})
		b := f.createFlag(t, feature.CreateFlagParams{Key: "flag_b"})

		_, err := f.registry.AddDependency(ctx, a.ID, b.ID, feature.DependencyType("banana"), nil, "tester")
		assert.ErrorIs(t, err, feature.ErrInvalidDependency)
	})

	t.Run("UnknownFlag", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := f.createFlag(t, feature.CreateFlagParams{Key: "flag_a"})

		_, err := f.registry.AddDependency(ctx, a.ID, uuid.New(), feature.DependencyRequires, nil, "tester")
		assert.ErrorIs(t, err, feature.ErrFlagNotFound)
	})

	t.Run("ResolvesDependencyKey", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := f.createFlag(t, feature.CreateFlagParams{Key: "flag_a"})
		b := f.createFlag(t, feature.CreateFlagParams{Key: "flag_b"})

		dep, err := f.registry.AddDependency(ctx, a.ID, b.ID, feature.DependencyRequires, nil, "tester")
		require.NoError(t, err)
		assert.Equal(t, "flag_b", dep.DependsOnKey)
	})

	t.Run("RejectsDirectCycle", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := f.createFlag(t, feature.CreateFlagParams{Key: "flag_a"})
		b := f.createFlag(t, feature.CreateFlagParams{Key: "flag_b"})

		_, err := f.registry.AddDependency(ctx, a.ID, b.ID, feature.DependencyRequires, nil, "tester")
		require.NoError(t, err)

		_, err = f.registry.AddDependency(ctx, b.ID, a.ID, feature.DependencyRequires, nil, "tester")
		assert.ErrorIs(t, err, feature.ErrDependencyCycle)
	})

	t.Run("RejectsTransitiveCycle", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := f.createFlag(t, feature.CreateFlagParams{Key: "flag_a"})
		b := f.createFlag(t, feature.CreateFlagParams{Key: "flag_b"})
		c := f.createFlag(t, feature.CreateFlagParams{Key: "flag_c"})

		_, err := f.registry.AddDependency(ctx, a.ID, b.ID, feature.DependencyRequires, nil, "tester")
		require.NoError(t, err)
		_, err = f.registry.AddDependency(ctx, b.ID, c.ID, feature.DependencyRequires, nil, "tester")
		require.NoError(t, err)

		_, err = f.registry.AddDependency(ctx, c.ID, a.ID, feature.DependencyRequires, nil, "tester")
		assert.ErrorIs(t, err, feature.ErrDependencyCycle)
	})

	t.Run("AllowsDiamond", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		base := f.createFlag(t, feature.CreateFlagParams{Key: "base"})
		left := f.createFlag(t, feature.CreateFlagParams{Key: "left"})
		right := f.createFlag(t, feature.CreateFlagParams{Key: "right"})
		top := f.createFlag(t, feature.CreateFlagParams{Key: "top"})

		for _, edge := range [][2]*feature.Flag{{top, left}, {top, right}, {left, base}, {right, base}} {
			_, err := f.registry.AddDependency(ctx, edge[0].ID, edge[1].ID, feature.DependencyRequires, nil, "tester")
			require.NoError(t, err)
		}
	})
}

func TestRegistryGetTenantFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode", DefaultValue: false})
	f.createFlag(t, feature.CreateFlagParams{Key: "beta_search"})
	f.createFlag(t, feature.CreateFlagParams{Key: "retired", Status: feature.FlagStatusArchived})
	f.createFlag(t, feature.CreateFlagParams{Key: "dark_mode", DefaultValue: true, TenantID: "tenant-1"})
	f.createFlag(t, feature.CreateFlagParams{Key: "tenant_only", TenantID: "tenant-1"})

	t.Run("TenantView", func(t *testing.T) {
		t.Parallel()
		flags, err := f.registry.GetTenantFlags(ctx, "tenant-1")
		require.NoError(t, err)

		byKey := make(map[string]*feature.Flag, len(flags))
		for _, flag := range flags {
			byKey[flag.Key] = flag
		}
		require.Len(t, byKey, 3)
		assert.Contains(t, byKey, "beta_search")
		assert.Contains(t, byKey, "tenant_only")
		assert.NotContains(t, byKey, "retired", "inactive flags are excluded")
		require.Contains(t, byKey, "dark_mode")
		assert.Equal(t, "tenant-1", byKey["dark_mode"].TenantID,
			"the tenant definition shadows the global one")
	})

	t.Run("GlobalView", func(t *testing.T) {
		t.Parallel()
		flags, err := f.registry.GetTenantFlags(ctx, "")
		require.NoError(t, err)

		require.Len(t, flags, 2)
		for _, flag := range flags {
			assert.Empty(t, flag.TenantID)
		}
	})
}
