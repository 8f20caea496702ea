package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
)

// RowScanner is the subset of *sql.Row and *sql.Rows used by decoders.
type RowScanner interface {
	Scan(dest ...any) error
}

// DecodeFunc turns the current row into a key/value pair.
type DecodeFunc[K, V any] func(RowScanner) (K, V, error)

// CursorOptions controls how a cursor reads and filters rows.
type CursorOptions[K, V any] struct {
	// Decode is required.
	Decode DecodeFunc[K, V]

	// Predicate filters decoded rows. Rejected rows do not count toward Limit.
	Predicate func(K, V) bool

	// Limit caps the number of rows yielded. Zero means unbounded.
	Limit int
}

// Cursor is a forward-only iterator over query results.
//
// A cursor is not safe for concurrent use. It must be closed when the caller
// stops early; exhausting it closes it automatically.
type Cursor[K, V any] struct {
	rows    *sql.Rows
	decode  DecodeFunc[K, V]
	keep    func(K, V) bool
	limit   int
	yielded int

	key    K
	value  V
	err    error
	closed bool
}

// OpenCursor runs query and returns a cursor positioned before the first row.
//
// When no predicate is set the limit is pushed into the SQL as a trailing
// LIMIT clause, so query must not carry its own.
func OpenCursor[K, V any](ctx context.Context, db *DB, query string, args []any, opts CursorOptions[K, V]) (*Cursor[K, V], error) {
	if opts.Decode == nil {
		return nil, errors.New("database: cursor requires a decoder")
	}

	if opts.Predicate == nil && opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(append([]any(nil), args...), opts.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("opening cursor: %w", err)
	}

	return &Cursor[K, V]{
		rows:   rows,
		decode: opts.Decode,
		keep:   opts.Predicate,
		limit:  opts.Limit,
	}, nil
}

// Next advances to the next matching row. It returns false when the cursor
// is exhausted, closed, or failed; check Err to tell them apart.
func (c *Cursor[K, V]) Next() bool {
	if c.closed {
		return false
	}
	if c.limit > 0 && c.yielded >= c.limit {
		c.Close() //nolint:errcheck // Exhausted; Err already captures failures
		return false
	}

	for c.rows.Next() {
		k, v, err := c.decode(c.rows)
		if err != nil {
			c.err = fmt.Errorf("decoding row: %w", err)
			c.Close() //nolint:errcheck // Decode error takes precedence
			return false
		}
		if c.keep != nil && !c.keep(k, v) {
			continue
		}
		c.key, c.value = k, v
		c.yielded++
		return true
	}

	if err := c.rows.Err(); err != nil {
		c.err = fmt.Errorf("iterating rows: %w", err)
	}
	c.Close() //nolint:errcheck // Rows already drained
	return false
}

// Key returns the key of the current row.
func (c *Cursor[K, V]) Key() K {
	return c.key
}

// Value returns the value of the current row.
func (c *Cursor[K, V]) Value() V {
	return c.value
}

// Err returns the first error met while iterating.
func (c *Cursor[K, V]) Err() error {
	return c.err
}

// Close releases the underlying rows and connection. It is idempotent.
func (c *Cursor[K, V]) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.rows.Close(); err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("closing cursor: %w", err)
		}
		return c.err
	}
	return nil
}

// All adapts the cursor to a range-over-func sequence. Breaking out of the
// loop closes the cursor; check Err afterwards.
func (c *Cursor[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		defer c.Close() //nolint:errcheck // Err reports failures
		for c.Next() {
			if !yield(c.key, c.value) {
				return
			}
		}
	}
}

// Keys yields only the keys of matching rows.
func (c *Cursor[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range c.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values yields only the values of matching rows.
func (c *Cursor[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range c.All() {
			if !yield(v) {
				return
			}
		}
	}
}
