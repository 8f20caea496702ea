package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_SQLite(t *testing.T) {
	tests := []struct {
		name string
		rel  string
		wal  bool
	}{
		{name: "flat file with WAL", rel: "tasking.db", wal: true},
		{name: "nested directories", rel: filepath.Join("var", "lib", "tasking.db"), wal: true},
		{name: "rollback journal", rel: "journal.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.rel)
			db, err := Open(context.Background(), Config{Path: path, WALMode: tt.wal, BusyTimeout: 1})
			if err != nil {
				t.Fatalf("Open(%s) error = %v", tt.rel, err)
			}
			t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

			if _, err := os.Stat(path); err != nil {
				t.Errorf("database file missing: %v", err)
			}
			if db.Path() != path {
				t.Errorf("Path() = %q, want %q", db.Path(), path)
			}
			if db.Dialect() != DialectSQLite {
				t.Errorf("Dialect() = %v, want sqlite", db.Dialect())
			}

			var mode string
			if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
				t.Fatalf("journal_mode: %v", err)
			}
			if tt.wal && mode != "wal" {
				t.Errorf("journal_mode = %q, want wal", mode)
			}
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Fatal("Open() accepted an unknown driver")
	}
}

func TestOpen_PoolSize(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if got := db.Stats().MaxOpenConnections; got != defaultMaxOpenConns {
		t.Errorf("MaxOpenConnections = %d, want %d", got, defaultMaxOpenConns)
	}

	sized, err := Open(context.Background(), Config{
		Path:         filepath.Join(t.TempDir(), "sized.db"),
		BusyTimeout:  1,
		MaxOpenConns: 9,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sized.Close() //nolint:errcheck // Test cleanup
	if got := sized.Stats().MaxOpenConnections; got != 9 {
		t.Errorf("MaxOpenConnections = %d, want 9", got)
	}
}

func TestDB_HealthCheckAndClose(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() succeeded on a closed database")
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() without a pool = %v", err)
	}
}

func TestDB_ForeignKeysEnforced(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	mustExec(t, db, `CREATE TABLE streams (id INTEGER PRIMARY KEY)`)
	mustExec(t, db, `CREATE TABLE commands (
		id INTEGER PRIMARY KEY,
		stream_id INTEGER NOT NULL REFERENCES streams(id)
	)`)

	if _, err := db.ExecContext(ctx, "INSERT INTO commands (stream_id) VALUES (?)", 42); err == nil {
		t.Error("insert referencing a missing stream succeeded")
	}
}

func TestDB_Transactions(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	mustExec(t, db, "CREATE TABLE statuses (id INTEGER PRIMARY KEY, code TEXT NOT NULL)")

	for _, commit := range []bool{true, false} {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		code := "ACCEPTED"
		if !commit {
			code = "REJECTED"
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO statuses (code) VALUES (?)", code); err != nil {
			t.Fatalf("insert %s: %v", code, err)
		}
		if commit {
			err = tx.Commit()
		} else {
			err = tx.Rollback()
		}
		if err != nil {
			t.Fatalf("finishing tx (commit=%v): %v", commit, err)
		}
	}

	var codes []string
	rows, err := db.QueryContext(ctx, "SELECT code FROM statuses ORDER BY id")
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			t.Fatal(err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	if len(codes) != 1 || codes[0] != "ACCEPTED" {
		t.Errorf("statuses = %v, want only the committed row", codes)
	}
}

func TestDB_ExecWrapsErrors(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (?)", 1)
	if err == nil {
		t.Fatal("ExecContext() on a missing table succeeded")
	}
	if errors.Unwrap(err) == nil {
		t.Errorf("error %v does not wrap the driver error", err)
	}
}

func TestRebind(t *testing.T) {
	const q = "SELECT id FROM command_streams WHERE system_id = ? AND control_input = ?"
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{name: "sqlite unchanged", dialect: DialectSQLite, query: q, want: q},
		{
			name:    "postgres numbered",
			dialect: DialectPostgres,
			query:   q,
			want:    "SELECT id FROM command_streams WHERE system_id = $1 AND control_input = $2",
		},
		{
			name:    "literal question mark",
			dialect: DialectPostgres,
			query:   "SELECT id FROM command_streams WHERE name LIKE '%?' AND id > ?",
			want:    "SELECT id FROM command_streams WHERE name LIKE '%?' AND id > $1",
		},
		{name: "nothing to bind", dialect: DialectPostgres, query: "SELECT 1", want: "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Rebind(tt.query); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialect_String(t *testing.T) {
	if DialectSQLite.String() != "sqlite" || DialectPostgres.String() != "postgres" {
		t.Errorf("dialect names = %s, %s", DialectSQLite, DialectPostgres)
	}
}

// openTestDB opens an empty SQLite file in a temp directory. Callers close it.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "tasking.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	return db
}

func mustExec(t *testing.T, db *DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
