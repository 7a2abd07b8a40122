package feature

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxDepth bounds dependency recursion. Write-time cycle checks keep
// the graph acyclic; the depth budget is a backstop for graphs mutated by
// other replicas between those checks.
const DefaultMaxDepth = 10

// Evaluator answers "what value, and why" for a flag and a request context.
// It never fails outward: any internal error degrades the flag to a safe
// disabled default with an EVALUATION_ERROR reason.
type Evaluator struct {
	registry *Registry
	recorder RecordSink
	logger   *slog.Logger
	maxDepth int
}

// Option configures an Evaluator during construction.
type Option func(*Evaluator)

// WithLogger configures the logger used for operator diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder configures the sink receiving one evaluation record per
// successful evaluation. Sink failures are logged and discarded; the audit
// trail being down never blocks or fails an evaluation.
func WithRecorder(sink RecordSink) Option {
	return func(e *Evaluator) {
		e.recorder = sink
	}
}

// WithMaxDepth overrides the dependency recursion budget.
func WithMaxDepth(depth int) Option {
	return func(e *Evaluator) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// New creates an evaluator over the given registry.
func New(registry *Registry, opts ...Option) *Evaluator {
	if registry == nil {
		panic("feature: registry cannot be nil")
	}

	e := &Evaluator{
		registry: registry,
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateFlag evaluates one flag against a context, short-circuiting at the
// first decisive outcome. It never returns an error or panics to the caller;
// a flag-service failure degrades the feature to its default.
func (e *Evaluator) EvaluateFlag(ctx context.Context, flagKey string, ec EvaluationContext) (result Evaluation) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.ErrorContext(ctx, "feature evaluation panicked",
				slog.String("flag_key", flagKey),
				slog.Any("panic", rec))
			result = Evaluation{
				FlagKey: flagKey,
				Value:   false,
				Enabled: false,
				Reason:  ReasonEvaluationError,
			}
		}
	}()

	return e.evaluate(ctx, flagKey, ec, make(map[string]bool), 0)
}

// EvaluateFlags evaluates each key independently and concurrently. Results
// are keyed by flag key; partial success is expected and each result carries
// its own reason.
func (e *Evaluator) EvaluateFlags(ctx context.Context, flagKeys []string, ec EvaluationContext) map[string]Evaluation {
	results := make(map[string]Evaluation, len(flagKeys))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, key := range flagKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			evaluation := e.EvaluateFlag(ctx, key, ec)
			mu.Lock()
			results[key] = evaluation
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	return results
}

func (e *Evaluator) evaluate(ctx context.Context, flagKey string, ec EvaluationContext, visited map[string]bool, depth int) Evaluation {
	flag, err := e.registry.GetFlag(ctx, flagKey, ec.TenantID)
	if err != nil {
		if errors.Is(err, ErrFlagNotFound) {
			return Evaluation{FlagKey: flagKey, Value: false, Enabled: false, Reason: ReasonFlagNotFound}
		}
		return e.evaluationError(ctx, flagKey, err)
	}

	if flag.Status != FlagStatusActive {
		return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: false, Reason: ReasonFlagInactive}
	}

	// Mark the flag for the duration of its own dependency resolution only,
	// so shared dependencies deeper in the graph aren't mistaken for cycles.
	visited[flagKey] = true
	satisfied, detail, err := e.checkDependencies(ctx, flag, ec, visited, depth)
	delete(visited, flagKey)
	if err != nil {
		return e.evaluationError(ctx, flagKey, err)
	}
	if !satisfied {
		return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: false, Reason: DependencyNotMet(detail)}
	}

	value, err := e.registry.GetFlagValue(ctx, flag.ID, ec.Environment, ec.TenantID)
	if err != nil {
		if errors.Is(err, ErrValueNotFound) {
			// The flag exists and is active, but nothing overrides the
			// default for this environment.
			return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: true, Reason: ReasonDefaultValue}
		}
		return e.evaluationError(ctx, flagKey, err)
	}

	if !value.Enabled {
		return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: false, Reason: ReasonDisabledForEnvironment}
	}

	rollout := flag.RolloutPercentage
	if value.RolloutPercentage != nil {
		rollout = *value.RolloutPercentage
	}
	if !InRollout(ec.UserID, rollout) {
		return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: false, Reason: ReasonNotInRollout}
	}

	if len(flag.TargetUsers) > 0 && (ec.UserID == "" || !slices.Contains(flag.TargetUsers, ec.UserID)) {
		return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: false, Reason: ReasonNotTargetedUser}
	}

	if len(flag.TargetSegments) > 0 {
		matched, err := e.matchSegments(ctx, flag.TargetSegments, flag.TenantID, ec)
		if err != nil {
			return e.evaluationError(ctx, flagKey, err)
		}
		if !matched {
			return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: false, Reason: ReasonNotInTargetSegment}
		}
	}

	if len(value.Conditions) > 0 && !value.Conditions.Match(ec) {
		return Evaluation{FlagKey: flagKey, Value: flag.DefaultValue, Enabled: false, Reason: ReasonConditionsNotMet}
	}

	e.recordEvaluation(ctx, flag, value, ec)

	return Evaluation{FlagKey: flagKey, Value: value.Value, Enabled: true, Reason: ReasonEvaluated}
}

func (e *Evaluator) evaluationError(ctx context.Context, flagKey string, err error) Evaluation {
	e.logger.WarnContext(ctx, "feature evaluation failed",
		slog.String("flag_key", flagKey),
		slog.Any("error", err))
	return Evaluation{FlagKey: flagKey, Value: false, Enabled: false, Reason: ReasonEvaluationError}
}

// recordEvaluation emits the audit record for a successful evaluation.
// Fire-and-forget: sink errors and panics never reach the evaluation result.
func (e *Evaluator) recordEvaluation(ctx context.Context, flag *Flag, value *FlagValue, ec EvaluationContext) {
	if e.recorder == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.WarnContext(ctx, "evaluation record sink panicked",
				slog.String("flag_key", flag.Key),
				slog.Any("panic", rec))
		}
	}()

	record := &EvaluationRecord{
		ID:                uuid.New(),
		FlagID:            flag.ID,
		UserID:            ec.UserID,
		TenantID:          ec.TenantID,
		Environment:       ec.Environment,
		Value:             value.Value,
		MatchedConditions: value.Conditions,
		Reason:            ReasonEvaluated,
		CreatedAt:         time.Now(),
	}

	if err := e.recorder.Record(ctx, record); err != nil {
		e.logger.WarnContext(ctx, "evaluation record write failed",
			slog.String("flag_key", flag.Key),
			slog.Any("error", err))
	}
}
