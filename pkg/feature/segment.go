package feature

import "context"

// matchSegments resolves the named segments in the flag's tenant scope and
// reports whether the context satisfies at least one of them. Segments
// combine with OR semantics; names that resolve to no active segment simply
// don't match.
func (e *Evaluator) matchSegments(ctx context.Context, names []string, tenantID string, ec EvaluationContext) (bool, error) {
	segments, err := e.registry.ListSegments(ctx, names, tenantID)
	if err != nil {
		return false, err
	}

	for _, segment := range segments {
		if segment.Conditions.Match(ec) {
			return true, nil
		}
	}
	return false, nil
}
