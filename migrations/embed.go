// Package migrations embeds the entity cache schema into the binary.
//
// Importing this package (for side effects) registers the files with the
// database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
