package feature

import "errors"

// Predefined errors for the feature package.
var (
	// ErrFlagNotFound indicates that the requested feature flag was not found.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrValueNotFound indicates that no value row exists for the requested
	// flag, environment and tenant scope.
	ErrValueNotFound = errors.New("feature flag value not found")

	// ErrSegmentNotFound indicates that a referenced segment does not exist.
	ErrSegmentNotFound = errors.New("feature segment not found")

	// ErrInvalidFlag indicates that the provided flag parameters are invalid.
	ErrInvalidFlag = errors.New("invalid feature flag parameters")

	// ErrDuplicateKey indicates that a flag with the same key already exists
	// within the target tenant scope.
	ErrDuplicateKey = errors.New("feature flag key already exists in scope")

	// ErrInvalidDependency indicates that a dependency edge is malformed,
	// e.g. an unknown type or a self-reference.
	ErrInvalidDependency = errors.New("invalid feature flag dependency")

	// ErrDependencyCycle indicates that adding a dependency edge would make
	// the dependency graph cyclic.
	ErrDependencyCycle = errors.New("feature flag dependency cycle")

	// ErrInvalidCondition indicates a condition that cannot be decoded, e.g.
	// an unknown operator in the persisted representation.
	ErrInvalidCondition = errors.New("invalid feature flag condition")

	// ErrSinkClosed indicates a write to an evaluation record sink that has
	// already been closed.
	ErrSinkClosed = errors.New("evaluation record sink closed")
)
