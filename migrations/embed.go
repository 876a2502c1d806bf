// Package migrations embeds the run database schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
