// Package feature provides runtime feature-flag evaluation with staged
// percentage rollouts, audience targeting and cross-flag dependency
// constraints.
//
// Given a flag key and an evaluation context (user, tenant, environment,
// arbitrary properties), the package decides what value a capability should
// take and reports a machine-readable reason for the outcome. It is a
// library invoked in-process: it does not serve HTTP and owns no routes.
//
// # Architecture
//
// The package is built around four core pieces:
//
//  1. Storage - the persistence boundary (in-memory or PostgreSQL via
//     the featurepg package)
//  2. Registry - CRUD over flags, values, dependencies and segments,
//     fronted by a TTL cache
//  3. Evaluator - the decision procedure answering "what value, and why"
//  4. RecordSink - a best-effort audit trail of evaluation outcomes
//
// Evaluation resolves the flag definition (tenant-scoped definitions shadow
// global ones), checks its dependency edges by recursively evaluating the
// depended-on flags, then applies the environment value row: enabled switch,
// percentage rollout, user targeting, segment targeting and the row's
// condition set, in that order, short-circuiting at the first decisive
// outcome.
//
// # Usage
//
//	storage := feature.NewMemoryStorage()
//	registry := feature.NewRegistry(storage)
//	defer registry.Close()
//
//	evaluator := feature.New(registry,
//		feature.WithRecorder(feature.NewStorageSink(storage)),
//	)
//
//	result := evaluator.EvaluateFlag(ctx, "dark_mode", feature.EvaluationContext{
//		UserID:      "user-42",
//		Environment: "production",
//	})
//	if result.Enabled {
//		// Dark mode is on for this user.
//	}
//
// # Determinism
//
// Percentage rollouts bucket users with a base-31 polynomial hash of the
// user id, so a user's bucket is stable across calls, processes and
// restarts. Anonymous contexts all hash to the same bucket.
//
// # Failure model
//
// EvaluateFlag never returns an error: any internal failure degrades the
// flag to its default value with reason EVALUATION_ERROR, so a flag-service
// outage turns features off rather than breaking the calling request.
// Registry mutations, which represent explicit administrative intent, do
// propagate storage errors. Audit-record delivery is fire-and-forget.
//
// # Consistency
//
// The cache is an in-process accelerator with a bounded TTL, not a source
// of truth. A mutation through the Registry invalidates this process's
// cache immediately; other replicas observe the change when their TTL
// expires. The reads composing one evaluation are independent point reads
// and may reflect slightly different moments under concurrent
// administrative writes.
package feature
