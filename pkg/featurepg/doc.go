// Package featurepg implements feature.Storage on PostgreSQL using pgx/v5.
//
// The schema consists of five tables - flags, per-environment values,
// dependency edges, audience segments and an append-only evaluations audit
// log - each tenant-scoped through a nullable tenant column where NULL
// denotes a global row. Key uniqueness is enforced per scope:
// (key, tenant) for flags and (flag, environment, tenant) for values.
//
// Schema migrations are embedded and exposed via Migrations for use with
// pg.Migrate:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := pg.Migrate(ctx, pool, featurepg.Migrations(), slog.Default()); err != nil {
//		log.Fatal(err)
//	}
//
//	registry := feature.NewRegistry(featurepg.New(pool))
package featurepg
