package database

import (
	"context"
	"embed"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"
)

//go:embed testdata/sqlite/*.sql
var probeMigrations embed.FS

// useMigrations swaps the package migration source for the test.
func useMigrations(t *testing.T, fsys fs.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS, MigrationsDir = fsys, dir
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("looking up table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate_Lifecycle(t *testing.T) {
	useMigrations(t, probeMigrations, "testdata")

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() on a fresh database: %v", err)
	}
	if len(applied) != 0 || len(pending) != 1 {
		t.Fatalf("fresh status = %d applied, %d pending; want 0, 1", len(applied), len(pending))
	}

	for round := 1; round <= 2; round++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() round %d: %v", round, err)
		}
	}
	if !tableExists(t, db, "test_probe") {
		t.Fatal("test_probe not created")
	}
	applied, pending, err = db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 0 {
		t.Errorf("migrated status = %d applied, %d pending; want 1, 0", len(applied), len(pending))
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_probe") {
		t.Error("test_probe still present after MigrateDown")
	}
	applied, _, err = db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("%d migrations still recorded after MigrateDown", len(applied))
	}
}

func TestMigrate_NoSource(t *testing.T) {
	for name, fsys := range map[string]fs.FS{
		"nil":   nil,
		"empty": fstest.MapFS{},
	} {
		t.Run(name, func(t *testing.T) {
			useMigrations(t, fsys, ".")
			db := openTestDB(t)
			defer db.Close() //nolint:errcheck // Test cleanup

			if err := db.Migrate(context.Background()); err != nil {
				t.Fatalf("Migrate() error = %v", err)
			}
			if err := db.MigrateDown(context.Background()); err != nil {
				t.Fatalf("MigrateDown() error = %v", err)
			}
		})
	}
}

func TestMigrate_FailedScriptNotRecorded(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"m/sqlite/20260301_000000_broken.up.sql": {Data: []byte("CREATE TABLE (;")},
	}, "m")

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() accepted a broken script")
	}
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 1 {
		t.Errorf("status = %d applied, %d pending; want 0, 1", len(applied), len(pending))
	}
}

func TestLoadMigrations_DialectDirectory(t *testing.T) {
	useMigrations(t, probeMigrations, "testdata")

	sqlite, err := loadMigrations(DialectSQLite)
	if err != nil {
		t.Fatalf("loadMigrations(sqlite) error = %v", err)
	}
	if len(sqlite) != 1 || sqlite[0].Name != "create_probe" || sqlite[0].DownSQL == "" {
		t.Fatalf("loadMigrations(sqlite) = %+v", sqlite)
	}

	// testdata has no postgres directory.
	pg, err := loadMigrations(DialectPostgres)
	if err != nil {
		t.Fatalf("loadMigrations(postgres) error = %v", err)
	}
	if len(pg) != 0 {
		t.Errorf("loadMigrations(postgres) = %d migrations, want 0", len(pg))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{filename: "20260118_120000_create_users.up.sql", wantVersion: "20260118_120000", wantName: "create_users", wantIsUp: true, wantOk: true},
		{filename: "20260118_120000_create_users.down.sql", wantVersion: "20260118_120000", wantName: "create_users", wantOk: true},
		{filename: "20260301_090000_create_command_streams.up.sql", wantVersion: "20260301_090000", wantName: "create_command_streams", wantIsUp: true, wantOk: true},
		{filename: "20260301_090000.up.sql", wantVersion: "20260301_090000", wantName: "20260301_090000", wantIsUp: true, wantOk: true},
		{filename: "readme.txt"},
		{filename: "20260118_120000_create_users.sql"},
		{filename: "invalid.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("parseMigrationFilename() = (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantIsUp)
			}
		})
	}
}

func TestLoadMigrations_MapFS(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"m/sqlite/20260302_000000_add_index.up.sql":    {Data: []byte("CREATE INDEX i ON t(a);")},
		"m/sqlite/20260301_000000_create_t.up.sql":     {Data: []byte("CREATE TABLE t (a INTEGER);")},
		"m/sqlite/20260301_000000_create_t.down.sql":   {Data: []byte("DROP TABLE t;")},
		"m/sqlite/notes.md":                            {Data: []byte("ignored")},
		"m/postgres/20260301_000000_create_t.down.sql": {Data: []byte("DROP TABLE t;")},
	}, "m")

	got, err := loadMigrations(DialectSQLite)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "create_t" || got[1].Name != "add_index" {
		t.Fatalf("loadMigrations() = %+v", got)
	}
	if got[0].DownSQL == "" || got[1].DownSQL != "" {
		t.Errorf("down scripts not paired by version: %+v", got)
	}

	if _, err := loadMigrations(DialectPostgres); err == nil {
		t.Error("a down file without an up file should be rejected")
	}
}

// TestMigrationLock_SQLite verifies SQLite runs migrations without a session lock.
func TestMigrationLock_SQLite(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	var got migrationConn
	err := db.withMigrationLock(context.Background(), func(conn migrationConn) error {
		got = conn
		return nil
	})
	if err != nil {
		t.Fatalf("withMigrationLock() error = %v", err)
	}
	if got != migrationConn(db.DB) {
		t.Error("SQLite migrations should run on the pool")
	}
}
