package feature

import (
	"context"
	"fmt"
)

// checkDependencies resolves the flag's dependency edges by recursively
// evaluating each depended-on flag with the same context. It returns whether
// every edge is satisfied and, when one is not, a human-readable detail for
// the DEPENDENCY_NOT_MET reason. A flag with no edges is trivially satisfied.
func (e *Evaluator) checkDependencies(ctx context.Context, flag *Flag, ec EvaluationContext, visited map[string]bool, depth int) (bool, string, error) {
	edges, err := e.registry.ListDependencies(ctx, flag.ID)
	if err != nil {
		return false, "", err
	}

	for _, edge := range edges {
		// implies is a write-time constraint on the admin surface, advisory
		// during evaluation.
		if edge.Type == DependencyImplies {
			continue
		}

		if visited[edge.DependsOnKey] {
			return false, fmt.Sprintf("dependency cycle involving %s", edge.DependsOnKey), nil
		}
		if depth+1 > e.maxDepth {
			return false, fmt.Sprintf("dependency depth limit exceeded at %s", edge.DependsOnKey), nil
		}

		result := e.evaluate(ctx, edge.DependsOnKey, ec, visited, depth+1)

		// An edge points at the dependency when it is enabled and, if a
		// condition value is set, evaluates to that value.
		pointed := result.Enabled &&
			(edge.ConditionValue == nil || looseEqual(result.Value, edge.ConditionValue))

		switch edge.Type {
		case DependencyRequires:
			if !pointed {
				return false, fmt.Sprintf("requires %s to be enabled", edge.DependsOnKey), nil
			}
		case DependencyConflicts:
			if pointed {
				return false, fmt.Sprintf("conflicts with %s", edge.DependsOnKey), nil
			}
		}
	}

	return true, "", nil
}
