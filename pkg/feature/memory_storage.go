package feature

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage is an in-memory implementation of the Storage interface.
// It's useful for testing and simple single-process applications.
type MemoryStorage struct {
	mu          sync.RWMutex
	flags       map[scopedKey]*Flag
	flagsByID   map[uuid.UUID]*Flag
	values      map[valueKey]*FlagValue
	deps        map[uuid.UUID][]Dependency
	segments    map[scopedKey]*Segment
	evaluations []EvaluationRecord
}

type scopedKey struct {
	key      string
	tenantID string
}

type valueKey struct {
	flagID      uuid.UUID
	environment string
	tenantID    string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		flags:     make(map[scopedKey]*Flag),
		flagsByID: make(map[uuid.UUID]*Flag),
		values:    make(map[valueKey]*FlagValue),
		deps:      make(map[uuid.UUID][]Dependency),
		segments:  make(map[scopedKey]*Segment),
	}
}

func (m *MemoryStorage) GetFlag(ctx context.Context, key, tenantID string) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[scopedKey{key: key, tenantID: tenantID}]
	if !exists {
		return nil, ErrFlagNotFound
	}
	return copyFlag(flag), nil
}

func (m *MemoryStorage) GetFlagByID(ctx context.Context, id uuid.UUID) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flagsByID[id]
	if !exists {
		return nil, ErrFlagNotFound
	}
	return copyFlag(flag), nil
}

func (m *MemoryStorage) CreateFlag(ctx context.Context, flag *Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sk := scopedKey{key: flag.Key, tenantID: flag.TenantID}
	if _, exists := m.flags[sk]; exists {
		return ErrDuplicateKey
	}

	stored := copyFlag(flag)
	m.flags[sk] = stored
	m.flagsByID[flag.ID] = stored
	return nil
}

func (m *MemoryStorage) ListFlags(ctx context.Context, tenantID string) ([]*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Flag, 0)
	for sk, flag := range m.flags {
		if sk.tenantID == tenantID {
			result = append(result, copyFlag(flag))
		}
	}
	return result, nil
}

func (m *MemoryStorage) GetFlagValue(ctx context.Context, flagID uuid.UUID, environment, tenantID string) (*FlagValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.values[valueKey{flagID: flagID, environment: environment, tenantID: tenantID}]
	if !exists {
		return nil, ErrValueNotFound
	}
	valueCopy := *value
	return &valueCopy, nil
}

func (m *MemoryStorage) UpsertFlagValue(ctx context.Context, value *FlagValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vk := valueKey{flagID: value.FlagID, environment: value.Environment, tenantID: value.TenantID}
	if existing, exists := m.values[vk]; exists {
		value.ID = existing.ID
		value.CreatedAt = existing.CreatedAt
	}
	valueCopy := *value
	m.values[vk] = &valueCopy
	return nil
}

func (m *MemoryStorage) ListDependencies(ctx context.Context, flagID uuid.UUID) ([]Dependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.deps[flagID]), nil
}

func (m *MemoryStorage) CreateDependency(ctx context.Context, dep *Dependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *dep
	if stored.DependsOnKey == "" {
		if target, exists := m.flagsByID[stored.DependsOnID]; exists {
			stored.DependsOnKey = target.Key
		}
	}
	m.deps[dep.FlagID] = append(m.deps[dep.FlagID], stored)
	return nil
}

func (m *MemoryStorage) ListSegments(ctx context.Context, names []string, tenantID string) ([]*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Segment, 0, len(names))
	for _, name := range names {
		segment, exists := m.segments[scopedKey{key: name, tenantID: tenantID}]
		if !exists && tenantID != "" {
			segment, exists = m.segments[scopedKey{key: name}]
		}
		if !exists || !segment.IsActive {
			continue
		}
		segmentCopy := *segment
		segmentCopy.Conditions = slices.Clone(segment.Conditions)
		result = append(result, &segmentCopy)
	}
	return result, nil
}

func (m *MemoryStorage) CreateSegment(ctx context.Context, segment *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sk := scopedKey{key: segment.Name, tenantID: segment.TenantID}
	if _, exists := m.segments[sk]; exists {
		return ErrDuplicateKey
	}
	segmentCopy := *segment
	segmentCopy.Conditions = slices.Clone(segment.Conditions)
	m.segments[sk] = &segmentCopy
	return nil
}

func (m *MemoryStorage) CreateEvaluation(ctx context.Context, record *EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evaluations = append(m.evaluations, *record)
	return nil
}

// Evaluations returns a snapshot of the recorded evaluation rows. Intended
// for tests; production storages never read records back.
func (m *MemoryStorage) Evaluations() []EvaluationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.evaluations)
}

// Close releases any resources. For the memory storage, this is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// copyFlag returns a deep enough copy to prevent external modification of
// stored state through shared slices.
func copyFlag(flag *Flag) *Flag {
	flagCopy := *flag
	flagCopy.Environments = slices.Clone(flag.Environments)
	flagCopy.Tags = slices.Clone(flag.Tags)
	flagCopy.TargetUsers = slices.Clone(flag.TargetUsers)
	flagCopy.TargetSegments = slices.Clone(flag.TargetSegments)
	return &flagCopy
}
