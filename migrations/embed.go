// Package migrations embeds the tasking schema for each SQL dialect and
// registers it with the database package on import.
package migrations

import (
	"embed"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
