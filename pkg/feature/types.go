package feature

import (
	"time"

	"github.com/google/uuid"
)

// FlagType describes the kind of value a flag evaluates to.
type FlagType string

const (
	FlagTypeBoolean FlagType = "boolean"
	FlagTypeString  FlagType = "string"
	FlagTypeNumber  FlagType = "number"
	FlagTypeJSON    FlagType = "json"
)

// Valid reports whether the flag type is one of the supported kinds.
func (t FlagType) Valid() bool {
	switch t {
	case FlagTypeBoolean, FlagTypeString, FlagTypeNumber, FlagTypeJSON:
		return true
	}
	return false
}

// FlagStatus describes a flag's lifecycle state. Only active flags evaluate
// beyond their default value.
type FlagStatus string

const (
	FlagStatusActive   FlagStatus = "active"
	FlagStatusInactive FlagStatus = "inactive"
	FlagStatusArchived FlagStatus = "archived"
)

// Valid reports whether the status is one of the supported lifecycle states.
func (s FlagStatus) Valid() bool {
	switch s {
	case FlagStatusActive, FlagStatusInactive, FlagStatusArchived:
		return true
	}
	return false
}

// DependencyType describes how one flag constrains another.
type DependencyType string

const (
	// DependencyRequires means the flag is only enabled while the depended-on
	// flag evaluates enabled (and, when a condition value is set, to that value).
	DependencyRequires DependencyType = "requires"
	// DependencyConflicts means the flag is disabled while the depended-on
	// flag evaluates enabled (or to the condition value, when set).
	DependencyConflicts DependencyType = "conflicts"
	// DependencyImplies is advisory: enabling the flag should enable the
	// depended-on flag. It is recorded but not checked during evaluation.
	DependencyImplies DependencyType = "implies"
)

// Valid reports whether the dependency type is one of the supported kinds.
func (t DependencyType) Valid() bool {
	switch t {
	case DependencyRequires, DependencyConflicts, DependencyImplies:
		return true
	}
	return false
}

// GlobalScope is the tenant scope used for flags, values and segments that
// are not bound to a tenant. An empty TenantID denotes this scope.
const GlobalScope = "global"

// Flag is a feature flag definition. Key uniqueness is scoped to the tenant
// (or the global scope when TenantID is empty); a tenant-scoped flag with the
// same key as a global flag shadows it for that tenant.
type Flag struct {
	ID                uuid.UUID  `json:"id"`
	Key               string     `json:"key"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Type              FlagType   `json:"flag_type"`
	DefaultValue      any        `json:"default_value"`
	Status            FlagStatus `json:"status"`
	IsGlobal          bool       `json:"is_global"`
	TenantID          string     `json:"tenant_id,omitempty"`
	Environments      []string   `json:"environments,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	RolloutPercentage int        `json:"rollout_percentage"`
	TargetUsers       []string   `json:"target_users,omitempty"`
	TargetSegments    []string   `json:"target_segments,omitempty"`
	CreatedBy         string     `json:"created_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at,omitzero"`
	UpdatedAt         time.Time  `json:"updated_at,omitzero"`
}

// Scope returns the tenant scope the flag belongs to.
func (f *Flag) Scope() string {
	if f.TenantID == "" {
		return GlobalScope
	}
	return f.TenantID
}

// FlagValue is the per-environment override of a flag. Tenant-scoped rows
// take precedence over global rows for the same flag and environment.
type FlagValue struct {
	ID          uuid.UUID `json:"id"`
	FlagID      uuid.UUID `json:"flag_id"`
	Environment string    `json:"environment"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Value       any       `json:"value"`
	Enabled     bool      `json:"enabled"`
	// RolloutPercentage overrides the flag-level percentage for this
	// environment when non-nil.
	RolloutPercentage *int         `json:"rollout_percentage,omitempty"`
	Conditions        ConditionSet `json:"conditions,omitempty"`
	UpdatedBy         string       `json:"updated_by,omitempty"`
	CreatedAt         time.Time    `json:"created_at,omitzero"`
	UpdatedAt         time.Time    `json:"updated_at,omitzero"`
}

// Dependency is a directed constraint edge between two flags.
type Dependency struct {
	ID          uuid.UUID `json:"id"`
	FlagID      uuid.UUID `json:"flag_id"`
	DependsOnID uuid.UUID `json:"depends_on_flag_id"`
	// DependsOnKey is the key of the depended-on flag, resolved by the
	// storage layer so the evaluator can recurse without an extra lookup.
	DependsOnKey string         `json:"depends_on_key"`
	Type         DependencyType `json:"dependency_type"`
	// ConditionValue, when set, is the value the depended-on flag must (for
	// requires) or must not (for conflicts) evaluate to.
	ConditionValue any       `json:"condition_value,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

// Segment is a named, reusable audience definition. Segments never own state;
// they are resolved to their condition set at evaluation time.
type Segment struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	TenantID    string       `json:"tenant_id,omitempty"`
	Conditions  ConditionSet `json:"conditions,omitempty"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at,omitzero"`
	UpdatedAt   time.Time    `json:"updated_at,omitzero"`
}

// EvaluationRecord is an append-only audit row describing one evaluation
// outcome. Records are written as a side effect of successful evaluations and
// never read back by this package.
type EvaluationRecord struct {
	ID                uuid.UUID    `json:"id"`
	FlagID            uuid.UUID    `json:"flag_id"`
	UserID            string       `json:"user_id,omitempty"`
	TenantID          string       `json:"tenant_id,omitempty"`
	Environment       string       `json:"environment"`
	Value             any          `json:"value"`
	MatchedConditions ConditionSet `json:"matched_conditions,omitempty"`
	Reason            Reason       `json:"reason"`
	CreatedAt         time.Time    `json:"created_at"`
}

// EvaluationContext carries the request-scoped data a flag is evaluated
// against. Environment is required; everything else is optional.
type EvaluationContext struct {
	UserID           string         `json:"user_id,omitempty"`
	TenantID         string         `json:"tenant_id,omitempty"`
	Environment      string         `json:"environment"`
	UserProperties   map[string]any `json:"user_properties,omitempty"`
	CustomProperties map[string]any `json:"custom_properties,omitempty"`
}

// Evaluation is the outcome of evaluating one flag against one context.
type Evaluation struct {
	FlagKey     string `json:"flag_key"`
	Value       any    `json:"value"`
	Enabled     bool   `json:"enabled"`
	Reason      Reason `json:"reason"`
	VariationID string `json:"variation_id,omitempty"`
}

// Reason is a machine-readable code explaining an evaluation outcome.
type Reason string

const (
	ReasonEvaluated              Reason = "EVALUATED"
	ReasonFlagNotFound           Reason = "FLAG_NOT_FOUND"
	ReasonFlagInactive           Reason = "FLAG_INACTIVE"
	ReasonDefaultValue           Reason = "DEFAULT_VALUE"
	ReasonDisabledForEnvironment Reason = "DISABLED_FOR_ENVIRONMENT"
	ReasonNotInRollout           Reason = "NOT_IN_ROLLOUT"
	ReasonNotTargetedUser        Reason = "NOT_TARGETED_USER"
	ReasonNotInTargetSegment     Reason = "NOT_IN_TARGET_SEGMENT"
	ReasonConditionsNotMet       Reason = "CONDITIONS_NOT_MET"
	ReasonEvaluationError        Reason = "EVALUATION_ERROR"

	// reasonDependencyPrefix prefixes dependency failures; the full reason
	// carries a human-readable detail, e.g. "DEPENDENCY_NOT_MET: requires
	// new_billing to be enabled".
	reasonDependencyPrefix = "DEPENDENCY_NOT_MET"
)

// DependencyNotMet builds the reason code for an unsatisfied dependency.
func DependencyNotMet(detail string) Reason {
	return Reason(reasonDependencyPrefix + ": " + detail)
}

// IsDependencyNotMet reports whether the reason denotes an unsatisfied
// dependency.
func (r Reason) IsDependencyNotMet() bool {
	return len(r) >= len(reasonDependencyPrefix) &&
		string(r[:len(reasonDependencyPrefix)]) == reasonDependencyPrefix
}
