package feature

import (
	"context"

	"github.com/google/uuid"
)

// Storage is the persistence boundary of the feature subsystem. Lookups are
// exact-scope: a tenantID selects rows for that tenant only, the empty string
// selects global rows. Scope precedence (tenant row over global row) is the
// Registry's concern, implemented as explicit two-step lookups.
type Storage interface {
	// GetFlag returns the flag with the given key in exactly the given
	// tenant scope, or ErrFlagNotFound.
	GetFlag(ctx context.Context, key, tenantID string) (*Flag, error)

	// GetFlagByID returns the flag with the given id, or ErrFlagNotFound.
	GetFlagByID(ctx context.Context, id uuid.UUID) (*Flag, error)

	// CreateFlag persists a new flag. It returns ErrDuplicateKey when a flag
	// with the same key already exists in the same tenant scope.
	CreateFlag(ctx context.Context, flag *Flag) error

	// ListFlags returns all flags in exactly the given tenant scope.
	ListFlags(ctx context.Context, tenantID string) ([]*Flag, error)

	// GetFlagValue returns the value row for the flag, environment and exact
	// tenant scope, or ErrValueNotFound.
	GetFlagValue(ctx context.Context, flagID uuid.UUID, environment, tenantID string) (*FlagValue, error)

	// UpsertFlagValue inserts or replaces the value row keyed by
	// (flag, environment, tenant scope).
	UpsertFlagValue(ctx context.Context, value *FlagValue) error

	// ListDependencies returns the outgoing dependency edges of a flag with
	// DependsOnKey resolved.
	ListDependencies(ctx context.Context, flagID uuid.UUID) ([]Dependency, error)

	// CreateDependency persists a new dependency edge.
	CreateDependency(ctx context.Context, dep *Dependency) error

	// ListSegments returns the active segments with the given names visible
	// to the tenant: tenant-scoped rows plus global rows, with tenant rows
	// shadowing global rows of the same name.
	ListSegments(ctx context.Context, names []string, tenantID string) ([]*Segment, error)

	// CreateSegment persists a new segment.
	CreateSegment(ctx context.Context, segment *Segment) error

	// CreateEvaluation appends one evaluation audit record.
	CreateEvaluation(ctx context.Context, record *EvaluationRecord) error

	// Close releases any resources used by the storage.
	Close() error
}
