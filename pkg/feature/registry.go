package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Registry provides CRUD over flag definitions, per-environment values,
// dependencies and segments, fronted by a TTL cache. Reads prefer
// tenant-scoped rows over global rows via explicit two-step lookups;
// every mutation invalidates the cached entries of the affected flag.
type Registry struct {
	storage   Storage
	cache     Cache
	ownsCache bool
	cacheTTL  time.Duration
	logger    *slog.Logger
}

// RegistryOption configures a Registry during construction.
type RegistryOption func(*Registry)

// WithCache injects a cache instance. Constructing the cache once per process
// and sharing it explicitly avoids hidden global state and lets tests supply
// a fake-clock cache.
func WithCache(cache Cache) RegistryOption {
	return func(r *Registry) {
		if cache != nil {
			r.cache = cache
			r.ownsCache = false
		}
	}
}

// WithCacheTTL overrides the default TTL for cached flags and value rows.
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithRegistryLogger configures the logger used for operator diagnostics.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry over the given storage. Unless WithCache is
// used, the registry owns a process-local in-memory cache and closes it with
// Close.
func NewRegistry(storage Storage, opts ...RegistryOption) *Registry {
	if storage == nil {
		panic("feature: storage cannot be nil")
	}

	r := &Registry{
		storage:   storage,
		cache:     NewMemoryCache(),
		ownsCache: true,
		cacheTTL:  DefaultCacheTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// scopeLabel normalizes a tenant id into the scope component of cache keys.
func scopeLabel(tenantID string) string {
	if tenantID == "" {
		return GlobalScope
	}
	return tenantID
}

func flagCacheKey(key, tenantID string) string {
	return "flag:" + key + ":" + scopeLabel(tenantID)
}

func valueCacheKey(flagID uuid.UUID, environment, tenantID string) string {
	return "value:" + flagID.String() + ":" + environment + ":" + scopeLabel(tenantID)
}

// GetFlag resolves a flag by key, preferring a tenant-scoped definition over
// a global one when both exist. It returns ErrFlagNotFound when neither
// scope has the key.
func (r *Registry) GetFlag(ctx context.Context, key, tenantID string) (*Flag, error) {
	if tenantID != "" {
		flag, err := r.getScopedFlag(ctx, key, tenantID)
		if err == nil {
			return flag, nil
		}
		if !errors.Is(err, ErrFlagNotFound) {
			return nil, err
		}
	}
	return r.getScopedFlag(ctx, key, "")
}

func (r *Registry) getScopedFlag(ctx context.Context, key, tenantID string) (*Flag, error) {
	cacheKey := flagCacheKey(key, tenantID)
	if cached, ok := r.cache.Get(ctx, cacheKey); ok {
		if flag, ok := cached.(*Flag); ok {
			return flag, nil
		}
	}

	flag, err := r.storage.GetFlag(ctx, key, tenantID)
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, cacheKey, flag, r.cacheTTL)
	return flag, nil
}

// GetFlagValue resolves the value row for a flag and environment, preferring
// a tenant-scoped row over a global one. It returns ErrValueNotFound when
// neither scope has a row.
func (r *Registry) GetFlagValue(ctx context.Context, flagID uuid.UUID, environment, tenantID string) (*FlagValue, error) {
	if tenantID != "" {
		value, err := r.getScopedValue(ctx, flagID, environment, tenantID)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrValueNotFound) {
			return nil, err
		}
	}
	return r.getScopedValue(ctx, flagID, environment, "")
}

func (r *Registry) getScopedValue(ctx context.Context, flagID uuid.UUID, environment, tenantID string) (*FlagValue, error) {
	cacheKey := valueCacheKey(flagID, environment, tenantID)
	if cached, ok := r.cache.Get(ctx, cacheKey); ok {
		if value, ok := cached.(*FlagValue); ok {
			return value, nil
		}
	}

	value, err := r.storage.GetFlagValue(ctx, flagID, environment, tenantID)
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, cacheKey, value, r.cacheTTL)
	return value, nil
}

// CreateFlagParams describes a new flag. Zero values fall back to sensible
// defaults: status active, rollout 100, type boolean.
type CreateFlagParams struct {
	Key               string
	Name              string
	Description       string
	Type              FlagType
	DefaultValue      any
	Status            FlagStatus
	IsGlobal          bool
	TenantID          string
	Environments      []string
	Tags              []string
	RolloutPercentage *int
	TargetUsers       []string
	TargetSegments    []string
}

// CreateFlag validates and persists a new flag definition. A key collision
// within the tenant scope fails with ErrDuplicateKey.
func (r *Registry) CreateFlag(ctx context.Context, params CreateFlagParams, createdBy string) (*Flag, error) {
	if params.Key == "" {
		return nil, errors.Join(ErrInvalidFlag, errors.New("flag key cannot be empty"))
	}
	if params.Type == "" {
		params.Type = FlagTypeBoolean
	}
	if !params.Type.Valid() {
		return nil, errors.Join(ErrInvalidFlag, fmt.Errorf("unknown flag type %q", params.Type))
	}
	if params.Status == "" {
		params.Status = FlagStatusActive
	}
	if !params.Status.Valid() {
		return nil, errors.Join(ErrInvalidFlag, fmt.Errorf("unknown flag status %q", params.Status))
	}

	rollout := 100
	if params.RolloutPercentage != nil {
		rollout = *params.RolloutPercentage
		if rollout < 0 || rollout > 100 {
			return nil, errors.Join(ErrInvalidFlag, errors.New("rollout percentage must be between 0 and 100"))
		}
	}

	now := time.Now()
	flag := &Flag{
		ID:                uuid.New(),
		Key:               params.Key,
		Name:              params.Name,
		Description:       params.Description,
		Type:              params.Type,
		DefaultValue:      params.DefaultValue,
		Status:            params.Status,
		IsGlobal:          params.TenantID == "",
		TenantID:          params.TenantID,
		Environments:      params.Environments,
		Tags:              params.Tags,
		RolloutPercentage: rollout,
		TargetUsers:       params.TargetUsers,
		TargetSegments:    params.TargetSegments,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := r.storage.CreateFlag(ctx, flag); err != nil {
		return nil, err
	}
	return flag, nil
}

// UpdateValueOptions carries the optional fields of a value upsert.
type UpdateValueOptions struct {
	// TenantID scopes the row; empty targets the global row.
	TenantID string
	// Enabled defaults to true when nil.
	Enabled *bool
	// RolloutPercentage overrides the flag-level percentage for this
	// environment when non-nil.
	RolloutPercentage *int
	// Conditions gates the value behind a condition set.
	Conditions ConditionSet
}

// UpdateFlagValue upserts the value row keyed by flag, environment and tenant
// scope, then invalidates every cached entry of the flag so the next
// evaluation in this process observes the new value.
func (r *Registry) UpdateFlagValue(ctx context.Context, flagID uuid.UUID, environment string, value any, opts UpdateValueOptions, updatedBy string) (*FlagValue, error) {
	if environment == "" {
		return nil, errors.Join(ErrInvalidFlag, errors.New("environment cannot be empty"))
	}
	if opts.RolloutPercentage != nil && (*opts.RolloutPercentage < 0 || *opts.RolloutPercentage > 100) {
		return nil, errors.Join(ErrInvalidFlag, errors.New("rollout percentage must be between 0 and 100"))
	}

	flag, err := r.storage.GetFlagByID(ctx, flagID)
	if err != nil {
		return nil, err
	}

	enabled := true
	if opts.Enabled != nil {
		enabled = *opts.Enabled
	}

	now := time.Now()
	row := &FlagValue{
		ID:                uuid.New(),
		FlagID:            flagID,
		Environment:       environment,
		TenantID:          opts.TenantID,
		Value:             value,
		Enabled:           enabled,
		RolloutPercentage: opts.RolloutPercentage,
		Conditions:        opts.Conditions,
		UpdatedBy:         updatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := r.storage.UpsertFlagValue(ctx, row); err != nil {
		return nil, err
	}

	r.invalidateFlag(ctx, flag)
	return row, nil
}

// AddDependency validates and persists a dependency edge. Edges that would
// make the dependency graph cyclic are rejected with ErrDependencyCycle, so
// evaluation-time recursion stays bounded.
func (r *Registry) AddDependency(ctx context.Context, flagID, dependsOnID uuid.UUID, depType DependencyType, conditionValue any, createdBy string) (*Dependency, error) {
	if !depType.Valid() {
		return nil, errors.Join(ErrInvalidDependency, fmt.Errorf("unknown dependency type %q", depType))
	}
	if flagID == dependsOnID {
		return nil, errors.Join(ErrInvalidDependency, errors.New("flag cannot depend on itself"))
	}

	flag, err := r.storage.GetFlagByID(ctx, flagID)
	if err != nil {
		return nil, err
	}
	dependsOn, err := r.storage.GetFlagByID(ctx, dependsOnID)
	if err != nil {
		return nil, err
	}

	if err := r.wouldCreateCycle(ctx, flagID, dependsOnID); err != nil {
		return nil, err
	}

	dep := &Dependency{
		ID:             uuid.New(),
		FlagID:         flagID,
		DependsOnID:    dependsOnID,
		DependsOnKey:   dependsOn.Key,
		Type:           depType,
		ConditionValue: conditionValue,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now(),
	}

	if err := r.storage.CreateDependency(ctx, dep); err != nil {
		return nil, err
	}

	r.invalidateFlag(ctx, flag)
	return dep, nil
}

// wouldCreateCycle walks the existing dependency graph from the new target;
// reaching the source flag means the new edge closes a cycle.
func (r *Registry) wouldCreateCycle(ctx context.Context, flagID, dependsOnID uuid.UUID) error {
	visited := map[uuid.UUID]bool{}
	queue := []uuid.UUID{dependsOnID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == flagID {
			return ErrDependencyCycle
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		edges, err := r.storage.ListDependencies(ctx, current)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			queue = append(queue, edge.DependsOnID)
		}
	}
	return nil
}

// GetTenantFlags returns the active flags visible to a tenant: tenant-scoped
// flags plus global flags, with tenant flags shadowing global flags that
// share a key.
func (r *Registry) GetTenantFlags(ctx context.Context, tenantID string) ([]*Flag, error) {
	globalFlags, err := r.storage.ListFlags(ctx, "")
	if err != nil {
		return nil, err
	}

	var tenantFlags []*Flag
	if tenantID != "" {
		tenantFlags, err = r.storage.ListFlags(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	}

	result := make([]*Flag, 0, len(globalFlags)+len(tenantFlags))
	shadowed := make(map[string]bool, len(tenantFlags))
	for _, flag := range tenantFlags {
		if flag.Status != FlagStatusActive {
			continue
		}
		shadowed[flag.Key] = true
		result = append(result, flag)
	}
	for _, flag := range globalFlags {
		if flag.Status != FlagStatusActive || shadowed[flag.Key] {
			continue
		}
		result = append(result, flag)
	}
	return result, nil
}

// ListDependencies returns the outgoing dependency edges of a flag.
func (r *Registry) ListDependencies(ctx context.Context, flagID uuid.UUID) ([]Dependency, error) {
	return r.storage.ListDependencies(ctx, flagID)
}

// ListSegments returns the active segments with the given names visible to
// the tenant.
func (r *Registry) ListSegments(ctx context.Context, names []string, tenantID string) ([]*Segment, error) {
	return r.storage.ListSegments(ctx, names, tenantID)
}

// CreateSegment validates and persists a named audience segment.
func (r *Registry) CreateSegment(ctx context.Context, segment *Segment) (*Segment, error) {
	if segment == nil || segment.Name == "" {
		return nil, errors.Join(ErrInvalidFlag, errors.New("segment name cannot be empty"))
	}

	stored := *segment
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if err := r.storage.CreateSegment(ctx, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// RecordEvaluation appends one evaluation audit row.
func (r *Registry) RecordEvaluation(ctx context.Context, record *EvaluationRecord) error {
	return r.storage.CreateEvaluation(ctx, record)
}

// invalidateFlag drops the flag's definition entries for both scopes and
// every value entry carrying the flag id.
func (r *Registry) invalidateFlag(ctx context.Context, flag *Flag) {
	r.cache.Delete(ctx, flagCacheKey(flag.Key, flag.TenantID))
	if flag.TenantID != "" {
		r.cache.Delete(ctx, flagCacheKey(flag.Key, ""))
	}

	id := flag.ID.String()
	r.cache.DeleteFunc(ctx, func(key string) bool {
		return strings.Contains(key, id)
	})
}

// ClearCache drops every cached entry.
func (r *Registry) ClearCache(ctx context.Context) {
	r.cache.Clear(ctx)
}

// Close releases the registry's resources. The injected storage is owned by
// the caller; a cache constructed by the registry itself is closed here.
func (r *Registry) Close() error {
	if r.ownsCache {
		return r.cache.Close()
	}
	return nil
}
