// Package database opens the SQL backend of the tasking store and manages
// its schema.
//
// Two drivers are supported: mattn/go-sqlite3 ("sqlite3", the default) for
// single-node deployments and pgx ("pgx") for PostgreSQL. Queries are
// written once with ? placeholders; DB rebinds them to $n on PostgreSQL.
//
//	db, err := database.Open(ctx, database.Config{Driver: "sqlite3", Path: path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// # Migrations
//
// Scripts live in per-dialect directories (sqlite/, postgres/) of
// MigrationsFS and are applied oldest first, one transaction each. On
// PostgreSQL a session advisory lock keeps two instances from migrating the
// same database at once. Changes are additive: new columns are nullable or
// carry a default, and every up script has a matching down script.
//
// # Cursors
//
// OpenCursor decodes rows lazily so callers can walk tables larger than the
// heap. A cursor pins one pooled connection until it is exhausted or closed.
package database
