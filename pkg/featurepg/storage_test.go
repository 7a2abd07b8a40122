package featurepg_test

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/feature"
	"github.com/dmitrymomot/flagkit/pkg/featurepg"
	"github.com/dmitrymomot/flagkit/pkg/pg"
)

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(featurepg.Migrations(), ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, entry := range entries {
		assert.Regexp(t, `\.sql$`, entry.Name())
	}
}

// newTestStorage connects to the database named by TEST_DATABASE_URL and runs
// the migrations. Tests are skipped when the variable is unset so the suite
// stays runnable without infrastructure.
func newTestStorage(t *testing.T) *featurepg.Storage {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pg.Connect(ctx, pg.Config{
		ConnectionString: dsn,
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, featurepg.Migrations(), slog.New(slog.NewTextHandler(io.Discard, nil))))

	return featurepg.New(pool)
}

// uniqueKey keeps test rows from colliding across runs against a shared
// database.
func uniqueKey(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

func newStoredFlag(key, tenantID string) *feature.Flag {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &feature.Flag{
		ID:                uuid.New(),
		Key:               key,
		Name:              key,
		Type:              feature.FlagTypeBoolean,
		DefaultValue:      false,
		Status:            feature.FlagStatusActive,
		IsGlobal:          tenantID == "",
		TenantID:          tenantID,
		RolloutPercentage: 100,
		CreatedBy:         "integration",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestStorageFlags(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		flag := newStoredFlag(uniqueKey("dark_mode"), "")
		flag.TargetUsers = []string{"user-1"}
		flag.Tags = []string{"ui"}
		require.NoError(t, storage.CreateFlag(ctx, flag))

		got, err := storage.GetFlag(ctx, flag.Key, "")
		require.NoError(t, err)
		assert.Equal(t, flag.ID, got.ID)
		assert.Equal(t, flag.Key, got.Key)
		assert.Equal(t, []string{"user-1"}, got.TargetUsers)
		assert.Equal(t, []string{"ui"}, got.Tags)
		assert.True(t, got.IsGlobal)

		byID, err := storage.GetFlagByID(ctx, flag.ID)
		require.NoError(t, err)
		assert.Equal(t, flag.Key, byID.Key)
	})

	t.Run("DuplicateKeyWithinScope", func(t *testing.T) {
		key := uniqueKey("dup")
		require.NoError(t, storage.CreateFlag(ctx, newStoredFlag(key, "")))

		err := storage.CreateFlag(ctx, newStoredFlag(key, ""))
		assert.ErrorIs(t, err, feature.ErrDuplicateKey)

		// Same key under a tenant scope is a distinct row.
		assert.NoError(t, storage.CreateFlag(ctx, newStoredFlag(key, "tenant-1")))
	})

	t.Run("ExactScopeLookup", func(t *testing.T) {
		key := uniqueKey("scoped")
		require.NoError(t, storage.CreateFlag(ctx, newStoredFlag(key, "tenant-1")))

		_, err := storage.GetFlag(ctx, key, "")
		assert.ErrorIs(t, err, feature.ErrFlagNotFound,
			"storage reads are exact-scope; scope fallback belongs to the registry")
	})
}

func TestStorageFlagValues(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	flag := newStoredFlag(uniqueKey("greeting"), "")
	require.NoError(t, storage.CreateFlag(ctx, flag))

	now := time.Now().UTC().Truncate(time.Microsecond)
	first := &feature.FlagValue{
		ID:          uuid.New(),
		FlagID:      flag.ID,
		Environment: "production",
		Value:       "bonjour",
		Enabled:     true,
		Conditions: feature.ConditionSet{
			{Property: "plan", Operator: feature.OpIn, Value: []any{"premium"}},
		},
		UpdatedBy: "integration",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, storage.UpsertFlagValue(ctx, first))

	got, err := storage.GetFlagValue(ctx, flag.ID, "production", "")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", got.Value)
	require.Len(t, got.Conditions, 1)
	assert.Equal(t, feature.OpIn, got.Conditions[0].Operator)

	// A second upsert for the same scope updates the row in place.
	second := *first
	second.ID = uuid.New()
	second.Value = "hola"
	second.UpdatedAt = now.Add(time.Second)
	require.NoError(t, storage.UpsertFlagValue(ctx, &second))

	got, err = storage.GetFlagValue(ctx, flag.ID, "production", "")
	require.NoError(t, err)
	assert.Equal(t, "hola", got.Value)
	assert.Equal(t, first.ID, got.ID, "the conflict update keeps the original row identity")

	_, err = storage.GetFlagValue(ctx, flag.ID, "staging", "")
	assert.ErrorIs(t, err, feature.ErrValueNotFound)
}

func TestStorageDependencies(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	flag := newStoredFlag(uniqueKey("dependent"), "")
	base := newStoredFlag(uniqueKey("base"), "")
	require.NoError(t, storage.CreateFlag(ctx, flag))
	require.NoError(t, storage.CreateFlag(ctx, base))

	dep := &feature.Dependency{
		ID:             uuid.New(),
		FlagID:         flag.ID,
		DependsOnID:    base.ID,
		Type:           feature.DependencyRequires,
		ConditionValue: "dark",
		CreatedBy:      "integration",
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, storage.CreateDependency(ctx, dep))

	deps, err := storage.ListDependencies(ctx, flag.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, base.ID, deps[0].DependsOnID)
	assert.Equal(t, base.Key, deps[0].DependsOnKey, "the dependency key is resolved by the join")
	assert.Equal(t, feature.DependencyRequires, deps[0].Type)
	assert.Equal(t, "dark", deps[0].ConditionValue)

	// An edge to a flag that doesn't exist trips the foreign key.
	orphan := &feature.Dependency{
		ID:          uuid.New(),
		FlagID:      flag.ID,
		DependsOnID: uuid.New(),
		Type:        feature.DependencyRequires,
		CreatedAt:   time.Now(),
	}
	assert.ErrorIs(t, storage.CreateDependency(ctx, orphan), feature.ErrFlagNotFound)
}

func TestStorageSegments(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	name := uniqueKey("beta_testers")
	now := time.Now().UTC().Truncate(time.Microsecond)

	global := &feature.Segment{
		ID: uuid.New(), Name: name, IsActive: true,
		Conditions: feature.ConditionSet{{Property: "beta", Operator: feature.OpEq, Value: true}},
		CreatedAt:  now, UpdatedAt: now,
	}
	tenant := &feature.Segment{
		ID: uuid.New(), Name: name, TenantID: "tenant-1", IsActive: true,
		Conditions: feature.ConditionSet{{Property: "beta", Operator: feature.OpEq, Value: false}},
		CreatedAt:  now, UpdatedAt: now,
	}
	require.NoError(t, storage.CreateSegment(ctx, global))
	require.NoError(t, storage.CreateSegment(ctx, tenant))

	segments, err := storage.ListSegments(ctx, []string{name}, "tenant-1")
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, tenant.ID, segments[0].ID, "the tenant segment shadows the global one")

	segments, err = storage.ListSegments(ctx, []string{name}, "tenant-2")
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, global.ID, segments[0].ID, "other tenants fall back to the global segment")
}

func TestStorageEvaluations(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	flag := newStoredFlag(uniqueKey("audited"), "")
	require.NoError(t, storage.CreateFlag(ctx, flag))

	record := &feature.EvaluationRecord{
		ID:          uuid.New(),
		FlagID:      flag.ID,
		UserID:      "user-1",
		Environment: "production",
		Value:       true,
		Reason:      feature.ReasonEvaluated,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	assert.NoError(t, storage.CreateEvaluation(ctx, record))
}
