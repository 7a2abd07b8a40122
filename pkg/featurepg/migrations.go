package featurepg

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the embedded schema migrations for the flag tables,
// rooted so they can be handed straight to pg.Migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic("featurepg: embedded migrations missing: " + err.Error())
	}
	return sub
}
