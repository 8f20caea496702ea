package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// seedCursorTable creates a table with n rows named item-1..item-n.
func seedCursorTable(t *testing.T, db *DB, n int) {
	t.Helper()
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE cursor_items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}
	for i := 1; i <= n; i++ {
		if _, err := db.ExecContext(ctx, "INSERT INTO cursor_items (name) VALUES (?)", fmt.Sprintf("item-%d", i)); err != nil {
			t.Fatalf("INSERT error = %v", err)
		}
	}
}

func decodeItem(row RowScanner) (int64, string, error) {
	var id int64
	var name string
	err := row.Scan(&id, &name)
	return id, name, err
}

func TestCursor_IteratesInOrder(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	seedCursorTable(t, db, 5)

	cur, err := OpenCursor(context.Background(), db,
		"SELECT id, name FROM cursor_items ORDER BY id", nil,
		CursorOptions[int64, string]{Decode: decodeItem})
	if err != nil {
		t.Fatalf("OpenCursor() error = %v", err)
	}
	defer cur.Close() //nolint:errcheck // Test cleanup

	var ids []int64
	for cur.Next() {
		ids = append(ids, cur.Key())
		if want := fmt.Sprintf("item-%d", cur.Key()); cur.Value() != want {
			t.Errorf("Value() = %q, want %q", cur.Value(), want)
		}
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("got %d rows, want 5", len(ids))
	}
	for i, id := range ids {
		if id != int64(i+1) {
			t.Errorf("ids[%d] = %d, want %d", i, id, i+1)
		}
	}

	// Exhausted cursors stay exhausted.
	if cur.Next() {
		t.Error("Next() after exhaustion should return false")
	}
}

func TestCursor_LimitWithoutPredicate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	seedCursorTable(t, db, 10)

	cur, err := OpenCursor(context.Background(), db,
		"SELECT id, name FROM cursor_items ORDER BY id", nil,
		CursorOptions[int64, string]{Decode: decodeItem, Limit: 3})
	if err != nil {
		t.Fatalf("OpenCursor() error = %v", err)
	}

	count := 0
	for range cur.All() {
		count++
	}
	if count != 3 {
		t.Errorf("yielded %d rows, want 3", count)
	}
}

func TestCursor_PredicateDoesNotConsumeLimit(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	seedCursorTable(t, db, 10)

	even := func(id int64, _ string) bool { return id%2 == 0 }
	cur, err := OpenCursor(context.Background(), db,
		"SELECT id, name FROM cursor_items ORDER BY id", nil,
		CursorOptions[int64, string]{Decode: decodeItem, Predicate: even, Limit: 3})
	if err != nil {
		t.Fatalf("OpenCursor() error = %v", err)
	}

	var got []int64
	for id := range cur.Keys() {
		got = append(got, id)
	}
	want := []int64{2, 4, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCursor_DecodeErrorStopsIteration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	seedCursorTable(t, db, 4)

	errBad := errors.New("bad row")
	decode := func(row RowScanner) (int64, string, error) {
		id, name, err := decodeItem(row)
		if err == nil && id == 2 {
			err = errBad
		}
		return id, name, err
	}

	cur, err := OpenCursor(context.Background(), db,
		"SELECT id, name FROM cursor_items ORDER BY id", nil,
		CursorOptions[int64, string]{Decode: decode})
	if err != nil {
		t.Fatalf("OpenCursor() error = %v", err)
	}

	count := 0
	for cur.Next() {
		count++
	}
	if count != 1 {
		t.Errorf("yielded %d rows before failure, want 1", count)
	}
	if !errors.Is(cur.Err(), errBad) {
		t.Errorf("Err() = %v, want wrapping %v", cur.Err(), errBad)
	}
}

func TestCursor_EarlyBreakClosesAndReleasesConnection(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	seedCursorTable(t, db, 10)

	ctx := context.Background()
	for i := 0; i < defaultMaxOpenConns*3; i++ {
		cur, err := OpenCursor(ctx, db,
			"SELECT id, name FROM cursor_items ORDER BY id", nil,
			CursorOptions[int64, string]{Decode: decodeItem})
		if err != nil {
			t.Fatalf("OpenCursor() iteration %d error = %v", i, err)
		}
		for range cur.All() {
			break
		}
		if err := cur.Close(); err != nil {
			t.Fatalf("Close() after break error = %v", err)
		}
	}

	if inUse := db.Stats().InUse; inUse != 0 {
		t.Errorf("connections in use = %d, want 0", inUse)
	}
}

func TestCursor_ReadsWhileOtherConnectionWrites(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	seedCursorTable(t, db, 3)

	ctx := context.Background()
	cur, err := OpenCursor(ctx, db,
		"SELECT id, name FROM cursor_items ORDER BY id", nil,
		CursorOptions[int64, string]{Decode: decodeItem})
	if err != nil {
		t.Fatalf("OpenCursor() error = %v", err)
	}
	defer cur.Close() //nolint:errcheck // Test cleanup

	if !cur.Next() {
		t.Fatalf("Next() = false, err = %v", cur.Err())
	}
	// A lookup on a second pooled connection must not block.
	var name string
	if err := db.QueryRowContext(ctx, "SELECT name FROM cursor_items WHERE id = ?", 3).Scan(&name); err != nil {
		t.Fatalf("lookup during iteration error = %v", err)
	}
	if name != "item-3" {
		t.Errorf("name = %q, want item-3", name)
	}
}

func TestOpenCursor_RequiresDecoder(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	_, err := OpenCursor(context.Background(), db, "SELECT 1", nil, CursorOptions[int64, string]{})
	if err == nil {
		t.Error("OpenCursor() without decoder should fail")
	}
}
