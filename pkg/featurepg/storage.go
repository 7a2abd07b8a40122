package featurepg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/flagkit/pkg/feature"
	"github.com/dmitrymomot/flagkit/pkg/pg"
)

var _ feature.Storage = (*Storage)(nil)

// Storage is the PostgreSQL implementation of feature.Storage. All scoped
// lookups are exact: the empty tenant id targets rows whose tenant column is
// NULL (the global scope).
type Storage struct {
	pool *pgxpool.Pool
}

// New creates a storage over the given connection pool. The pool is owned by
// the caller; Close does not close it.
func New(pool *pgxpool.Pool) *Storage {
	if pool == nil {
		panic("featurepg: pool cannot be nil")
	}
	return &Storage{pool: pool}
}

const flagColumns = `id, key, name, description, flag_type, default_value, status, is_global,
	COALESCE(tenant_id, ''), environments, tags, rollout_percentage, target_users,
	target_segments, created_by, created_at, updated_at`

func (s *Storage) GetFlag(ctx context.Context, key, tenantID string) (*feature.Flag, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+flagColumns+`
		FROM feature_flags
		WHERE key = $1 AND tenant_id IS NOT DISTINCT FROM $2`,
		key, nullTenant(tenantID))

	flag, err := scanFlag(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, feature.ErrFlagNotFound
		}
		return nil, fmt.Errorf("featurepg: get flag %q: %w", key, err)
	}
	return flag, nil
}

func (s *Storage) GetFlagByID(ctx context.Context, id uuid.UUID) (*feature.Flag, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+flagColumns+`
		FROM feature_flags
		WHERE id = $1`, id)

	flag, err := scanFlag(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, feature.ErrFlagNotFound
		}
		return nil, fmt.Errorf("featurepg: get flag %s: %w", id, err)
	}
	return flag, nil
}

func (s *Storage) CreateFlag(ctx context.Context, flag *feature.Flag) error {
	defaultValue, err := json.Marshal(flag.DefaultValue)
	if err != nil {
		return fmt.Errorf("featurepg: encode default value: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO feature_flags (
			id, key, name, description, flag_type, default_value, status, is_global,
			tenant_id, environments, tags, rollout_percentage, target_users,
			target_segments, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		flag.ID, flag.Key, flag.Name, flag.Description, string(flag.Type), defaultValue,
		string(flag.Status), flag.IsGlobal, nullTenant(flag.TenantID),
		emptySlice(flag.Environments), emptySlice(flag.Tags), flag.RolloutPercentage,
		emptySlice(flag.TargetUsers), emptySlice(flag.TargetSegments),
		flag.CreatedBy, flag.CreatedAt, flag.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return feature.ErrDuplicateKey
		}
		return fmt.Errorf("featurepg: create flag %q: %w", flag.Key, err)
	}
	return nil
}

func (s *Storage) ListFlags(ctx context.Context, tenantID string) ([]*feature.Flag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+flagColumns+`
		FROM feature_flags
		WHERE tenant_id IS NOT DISTINCT FROM $1
		ORDER BY key`, nullTenant(tenantID))
	if err != nil {
		return nil, fmt.Errorf("featurepg: list flags: %w", err)
	}
	defer rows.Close()

	var flags []*feature.Flag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("featurepg: list flags: %w", err)
		}
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

func (s *Storage) GetFlagValue(ctx context.Context, flagID uuid.UUID, environment, tenantID string) (*feature.FlagValue, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, flag_id, environment, COALESCE(tenant_id, ''), value, enabled,
			rollout_percentage, conditions, updated_by, created_at, updated_at
		FROM feature_flag_values
		WHERE flag_id = $1 AND environment = $2 AND tenant_id IS NOT DISTINCT FROM $3`,
		flagID, environment, nullTenant(tenantID))

	var (
		value    feature.FlagValue
		rawValue []byte
		rawConds []byte
	)
	err := row.Scan(&value.ID, &value.FlagID, &value.Environment, &value.TenantID,
		&rawValue, &value.Enabled, &value.RolloutPercentage, &rawConds,
		&value.UpdatedBy, &value.CreatedAt, &value.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, feature.ErrValueNotFound
		}
		return nil, fmt.Errorf("featurepg: get flag value %s/%s: %w", flagID, environment, err)
	}

	if value.Value, err = decodeJSON(rawValue); err != nil {
		return nil, fmt.Errorf("featurepg: decode flag value %s/%s: %w", flagID, environment, err)
	}
	if value.Conditions, err = decodeConditions(rawConds); err != nil {
		return nil, fmt.Errorf("featurepg: decode conditions %s/%s: %w", flagID, environment, err)
	}
	return &value, nil
}

func (s *Storage) UpsertFlagValue(ctx context.Context, value *feature.FlagValue) error {
	rawValue, err := json.Marshal(value.Value)
	if err != nil {
		return fmt.Errorf("featurepg: encode value: %w", err)
	}
	rawConds, err := encodeConditions(value.Conditions)
	if err != nil {
		return fmt.Errorf("featurepg: encode conditions: %w", err)
	}

	// On conflict the row keeps its original identity; scan it back so the
	// caller's value reflects the stored row either way.
	err = s.pool.QueryRow(ctx, `
		INSERT INTO feature_flag_values (
			id, flag_id, environment, tenant_id, value, enabled,
			rollout_percentage, conditions, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (flag_id, environment, COALESCE(tenant_id, '')) DO UPDATE SET
			value = EXCLUDED.value,
			enabled = EXCLUDED.enabled,
			rollout_percentage = EXCLUDED.rollout_percentage,
			conditions = EXCLUDED.conditions,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		value.ID, value.FlagID, value.Environment, nullTenant(value.TenantID),
		rawValue, value.Enabled, value.RolloutPercentage, rawConds,
		value.UpdatedBy, value.CreatedAt, value.UpdatedAt).
		Scan(&value.ID, &value.CreatedAt)
	if err != nil {
		return fmt.Errorf("featurepg: upsert flag value %s/%s: %w", value.FlagID, value.Environment, err)
	}
	return nil
}

func (s *Storage) ListDependencies(ctx context.Context, flagID uuid.UUID) ([]feature.Dependency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.flag_id, d.depends_on_flag_id, f.key, d.dependency_type,
			d.condition_value, d.created_by, d.created_at
		FROM feature_flag_dependencies d
		JOIN feature_flags f ON f.id = d.depends_on_flag_id
		WHERE d.flag_id = $1
		ORDER BY d.created_at`, flagID)
	if err != nil {
		return nil, fmt.Errorf("featurepg: list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []feature.Dependency
	for rows.Next() {
		var (
			dep      feature.Dependency
			depType  string
			rawValue []byte
		)
		if err := rows.Scan(&dep.ID, &dep.FlagID, &dep.DependsOnID, &dep.DependsOnKey,
			&depType, &rawValue, &dep.CreatedBy, &dep.CreatedAt); err != nil {
			return nil, fmt.Errorf("featurepg: list dependencies: %w", err)
		}
		dep.Type = feature.DependencyType(depType)
		if dep.ConditionValue, err = decodeJSON(rawValue); err != nil {
			return nil, fmt.Errorf("featurepg: decode condition value: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func (s *Storage) CreateDependency(ctx context.Context, dep *feature.Dependency) error {
	rawValue, err := json.Marshal(dep.ConditionValue)
	if err != nil {
		return fmt.Errorf("featurepg: encode condition value: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO feature_flag_dependencies (
			id, flag_id, depends_on_flag_id, dependency_type, condition_value,
			created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		dep.ID, dep.FlagID, dep.DependsOnID, string(dep.Type), rawValue,
		dep.CreatedBy, dep.CreatedAt)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return feature.ErrFlagNotFound
		}
		if pg.IsDuplicateKeyError(err) {
			return feature.ErrInvalidDependency
		}
		return fmt.Errorf("featurepg: create dependency: %w", err)
	}
	return nil
}

func (s *Storage) ListSegments(ctx context.Context, names []string, tenantID string) ([]*feature.Segment, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, COALESCE(tenant_id, ''), conditions, is_active,
			created_at, updated_at
		FROM feature_flag_segments
		WHERE name = ANY($1)
			AND is_active
			AND (tenant_id IS NULL OR tenant_id IS NOT DISTINCT FROM $2)
		ORDER BY name`, names, nullTenant(tenantID))
	if err != nil {
		return nil, fmt.Errorf("featurepg: list segments: %w", err)
	}
	defer rows.Close()

	// Tenant-scoped segments shadow global ones that share a name.
	byName := make(map[string]*feature.Segment, len(names))
	for rows.Next() {
		var (
			segment  feature.Segment
			rawConds []byte
		)
		if err := rows.Scan(&segment.ID, &segment.Name, &segment.Description,
			&segment.TenantID, &rawConds, &segment.IsActive,
			&segment.CreatedAt, &segment.UpdatedAt); err != nil {
			return nil, fmt.Errorf("featurepg: list segments: %w", err)
		}
		if segment.Conditions, err = decodeConditions(rawConds); err != nil {
			return nil, fmt.Errorf("featurepg: decode segment %q: %w", segment.Name, err)
		}

		if existing, ok := byName[segment.Name]; ok && existing.TenantID != "" {
			continue
		}
		seg := segment
		byName[segment.Name] = &seg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	segments := make([]*feature.Segment, 0, len(byName))
	for _, name := range names {
		if segment, ok := byName[name]; ok {
			segments = append(segments, segment)
		}
	}
	return segments, nil
}

func (s *Storage) CreateSegment(ctx context.Context, segment *feature.Segment) error {
	rawConds, err := encodeConditions(segment.Conditions)
	if err != nil {
		return fmt.Errorf("featurepg: encode conditions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO feature_flag_segments (
			id, name, description, tenant_id, conditions, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		segment.ID, segment.Name, segment.Description, nullTenant(segment.TenantID),
		rawConds, segment.IsActive, segment.CreatedAt, segment.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return feature.ErrDuplicateKey
		}
		return fmt.Errorf("featurepg: create segment %q: %w", segment.Name, err)
	}
	return nil
}

func (s *Storage) CreateEvaluation(ctx context.Context, record *feature.EvaluationRecord) error {
	rawValue, err := json.Marshal(record.Value)
	if err != nil {
		return fmt.Errorf("featurepg: encode evaluation value: %w", err)
	}
	rawConds, err := encodeConditions(record.MatchedConditions)
	if err != nil {
		return fmt.Errorf("featurepg: encode matched conditions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO feature_flag_evaluations (
			id, flag_id, user_id, tenant_id, environment, value,
			matched_conditions, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.FlagID, record.UserID, nullTenant(record.TenantID),
		record.Environment, rawValue, rawConds, string(record.Reason), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("featurepg: create evaluation: %w", err)
	}
	return nil
}

// Close releases storage resources. The pool belongs to the caller, so this
// is a no-op.
func (s *Storage) Close() error {
	return nil
}

// scanner abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanFlag(row scanner) (*feature.Flag, error) {
	var (
		flag       feature.Flag
		flagType   string
		status     string
		rawDefault []byte
	)
	err := row.Scan(&flag.ID, &flag.Key, &flag.Name, &flag.Description, &flagType,
		&rawDefault, &status, &flag.IsGlobal, &flag.TenantID, &flag.Environments,
		&flag.Tags, &flag.RolloutPercentage, &flag.TargetUsers, &flag.TargetSegments,
		&flag.CreatedBy, &flag.CreatedAt, &flag.UpdatedAt)
	if err != nil {
		return nil, err
	}

	flag.Type = feature.FlagType(flagType)
	flag.Status = feature.FlagStatus(status)
	if flag.DefaultValue, err = decodeJSON(rawDefault); err != nil {
		return nil, err
	}
	return &flag, nil
}

// nullTenant maps the empty tenant id to SQL NULL, the global scope.
func nullTenant(tenantID string) *string {
	if tenantID == "" {
		return nil
	}
	return &tenantID
}

// emptySlice keeps NOT NULL array columns satisfied for nil slices.
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeJSON(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func encodeConditions(cs feature.ConditionSet) ([]byte, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	return json.Marshal(cs)
}

func decodeConditions(raw []byte) (feature.ConditionSet, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var cs feature.ConditionSet
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}
