package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// MigrationsFS holds the migration scripts, one sub-directory per dialect
// (sqlite/, postgres/) below MigrationsDir. The migrations package registers
// its embedded files here at init; a nil FS means there is nothing to apply.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS holding the dialect
// sub-directories.
var MigrationsDir = "migrations"

// migrationLockID keys the PostgreSQL session lock that serializes schema
// changes between instances sharing a database.
const migrationLockID int64 = 0x7461736b696e67

// Migration is one versioned schema change, read from a pair of files
// named YYYYMMDD_HHMMSS_<name>.up.sql and .down.sql.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// migrationConn is the part of *sql.DB and *sql.Conn migrations need.
type migrationConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Migrate applies every pending migration of the backend's dialect, oldest
// first. Each migration commits on its own, so a failure leaves earlier ones
// applied and a later Migrate resumes at the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	return db.withMigrationLock(ctx, func(conn migrationConn) error {
		_, pending, err := db.migrationState(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range pending {
			if err := db.runMigration(ctx, conn, m.Version, m.UpSQL, true); err != nil {
				return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
			}
		}
		return nil
	})
}

// MigrateDown reverts the most recently applied migration. It is a no-op on
// a database with nothing applied.
func (db *DB) MigrateDown(ctx context.Context) error {
	return db.withMigrationLock(ctx, func(conn migrationConn) error {
		applied, _, err := db.migrationState(ctx, conn)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return nil
		}
		latest := applied[len(applied)-1].Version

		all, err := loadMigrations(db.dialect)
		if err != nil {
			return fmt.Errorf("loading migrations: %w", err)
		}
		i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == latest })
		if i < 0 {
			return fmt.Errorf("migration %s not found in %s migrations", latest, db.dialect)
		}
		if strings.TrimSpace(all[i].DownSQL) == "" {
			return fmt.Errorf("migration %s has no down SQL", latest)
		}
		if err := db.runMigration(ctx, conn, latest, all[i].DownSQL, false); err != nil {
			return fmt.Errorf("reverting migration %s (%s): %w", latest, all[i].Name, err)
		}
		return nil
	})
}

// GetMigrationStatus lists applied migrations and those still pending.
// It creates the schema_migrations table on a fresh database.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied []MigrationRecord, pending []Migration, err error) {
	return db.migrationState(ctx, db.DB)
}

func (db *DB) migrationState(ctx context.Context, conn migrationConn) ([]MigrationRecord, []Migration, error) {
	if err := createMigrationsTable(ctx, conn); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}
	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	all, err := loadMigrations(db.dialect)
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	done := make(map[string]struct{}, len(applied))
	for _, r := range applied {
		done[r.Version] = struct{}{}
	}
	var pending []Migration
	for _, m := range all {
		if _, ok := done[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

// withMigrationLock runs fn while holding the PostgreSQL migration lock, on
// the connection that holds it. SQLite serializes writers itself.
func (db *DB) withMigrationLock(ctx context.Context, fn func(migrationConn) error) (err error) {
	if db.dialect != DialectPostgres {
		return fn(db.DB)
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserving migration connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Returns the connection to the pool

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer func() {
		_, unlockErr := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
		if unlockErr != nil && err == nil {
			err = fmt.Errorf("releasing migration lock: %w", unlockErr)
		}
	}()

	return fn(conn)
}

func createMigrationsTable(ctx context.Context, conn migrationConn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func appliedMigrations(ctx context.Context, conn migrationConn) ([]MigrationRecord, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // Written by runMigration
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return records, nil
}

// runMigration executes script and records (up) or forgets (down) version
// in the same transaction.
func (db *DB) runMigration(ctx context.Context, conn migrationConn, version, script string, up bool) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	if up {
		_, err = tx.ExecContext(ctx,
			db.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
			version, time.Now().UTC().Format(time.RFC3339))
	} else {
		_, err = tx.ExecContext(ctx, db.Rebind("DELETE FROM schema_migrations WHERE version = ?"), version)
	}
	if err != nil {
		return fmt.Errorf("updating schema_migrations: %w", err)
	}

	return tx.Commit()
}

// loadMigrations reads the dialect's directory of MigrationsFS. A missing
// directory means the dialect has no migrations.
func loadMigrations(dialect Dialect) ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}

	dir := path.Join(MigrationsDir, dialect.String())
	entries, err := fs.ReadDir(MigrationsFS, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, up, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		script, err := fs.ReadFile(MigrationsFS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.UpSQL = string(script)
		} else {
			m.DownSQL = string(script)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %s has a down file but no up file", m.Version)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return migrations, nil
}

// parseMigrationFilename splits YYYYMMDD_HHMMSS_<name>.up.sql (or .down.sql)
// into its version, name and direction.
func parseMigrationFilename(file string) (version, name string, up, ok bool) {
	base, isSQL := strings.CutSuffix(file, ".sql")
	if !isSQL {
		return "", "", false, false
	}
	if b, isUp := strings.CutSuffix(base, ".up"); isUp {
		base, up = b, true
	} else if b, isDown := strings.CutSuffix(base, ".down"); isDown {
		base = b
	} else {
		return "", "", false, false
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 2 {
		return "", "", false, false
	}
	version = parts[0] + "_" + parts[1]
	name = version
	if len(parts) == 3 {
		name = parts[2]
	}
	return version, name, up, true
}
