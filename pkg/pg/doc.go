// Package pg provides the PostgreSQL plumbing used by the flagkit storage
// layer: pooled connectivity via pgx/v5, embedded schema migrations via
// goose/v3, and common error helpers.
//
// The package keeps a very small API surface:
//
//   - Config - a declarative struct whose fields are populated from
//     environment variables via github.com/caarlos0/env. It controls
//     connection pool limits and retry behaviour.
//
//   - Connect - opens a *pgxpool.Pool based on Config, retrying with
//     backoff until the database becomes available.
//
//   - Migrate - runs goose migrations from an embedded filesystem against
//     the same pool, guaranteeing the flag schema exists before the first
//     evaluation.
//
// # Usage
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, featurepg.Migrations(), slog.Default()); err != nil {
//		log.Fatal(err)
//	}
package pg
