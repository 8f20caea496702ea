package tasking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/telemetry"
)

// StreamStore persists command streams and keeps at most one definition in
// effect per (system, control input) at any instant.
//
// Point lookups go through a bounded cache that is invalidated, never
// updated, after each successful write. All methods are safe for concurrent
// use; Add calls are serialized within one store.
type StreamStore struct {
	db    *database.DB
	scope uint32
	cache *streamCache

	// addMu serializes Add within this process. The backend transaction
	// (plus an advisory lock on PostgreSQL) covers other processes.
	addMu sync.Mutex

	commands *CommandStore
	statuses *StatusStore

	publisher Publisher
	logger    Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
}

// NewStreamStore creates a command stream store on db.
// Call Link before Remove or Clear so deletes cascade.
func NewStreamStore(db *database.DB, opts Options) *StreamStore {
	return &StreamStore{
		db:        db,
		scope:     opts.Scope,
		cache:     newStreamCache(opts.CacheMaxEntries, opts.CacheTTL, opts.Metrics),
		publisher: noopPublisher{},
		logger:    noopLogger{},
		tracer:    opts.tracer(),
		metrics:   opts.Metrics,
	}
}

// Link attaches the stores that stream deletes cascade to.
func (s *StreamStore) Link(commands *CommandStore, statuses *StatusStore) {
	s.commands = commands
	s.statuses = statuses
}

// SetLogger sets the logger for the store.
func (s *StreamStore) SetLogger(logger Logger) {
	s.logger = logger
}

// SetPublisher sets where change notifications are sent.
func (s *StreamStore) SetPublisher(p Publisher) {
	s.publisher = p
}

// Scope returns the namespace of keys issued by this store.
func (s *StreamStore) Scope() uint32 {
	return s.scope
}

func (s *StreamStore) checkScope(key Key) error {
	if key.Scope != s.scope {
		return fmt.Errorf("%w: key %s, store scope %d", ErrWrongScope, key, s.scope)
	}
	return nil
}

// Get returns the stream for key, or nil if there is none.
// The returned stream is a copy; callers can safely modify it.
func (s *StreamStore) Get(ctx context.Context, key Key) (_ *CommandStream, err error) {
	if err := s.checkScope(key); err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.streams.get", telemetry.AttrKey.String(key.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	stream, err := s.cache.getOrLoad(ctx, key.ID, s.fetch)
	if err != nil {
		return nil, backendError("get stream", key, err)
	}
	return stream, nil
}

// fetch reads one stream from the database, bypassing the cache.
func (s *StreamStore) fetch(ctx context.Context, id int64) (*CommandStream, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM "+streamsTable+" WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying stream by id: %w", err)
	}
	return decodeStream(data)
}

// ContainsKey reports whether a stream exists for key.
func (s *StreamStore) ContainsKey(ctx context.Context, key Key) (bool, error) {
	stream, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return stream != nil, nil
}

// Add stores a new stream and returns its key.
//
// Existing streams of the same system and control input whose valid time
// overlaps the new one are narrowed to end where the new one begins. If the
// new stream would begin before any stream it overlaps, Add fails with
// ErrFullOverlap and nothing is written.
func (s *StreamStore) Add(ctx context.Context, stream *CommandStream) (_ Key, err error) {
	if err := ValidateStream(stream); err != nil {
		return Key{}, err
	}
	rec := stream.DeepCopy()
	rec.ValidTime = rec.ValidTime.normalized()

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.streams.add",
		telemetry.AttrSystemID.String(rec.SystemID.String()),
		telemetry.AttrControlInput.String(rec.ControlInputName),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	s.addMu.Lock()
	key, plan, err := s.addLocked(ctx, rec)
	s.addMu.Unlock()

	switch {
	case errors.Is(err, ErrFullOverlap):
		s.metrics.OverlapRejected(ctx)
		s.metrics.AddDuration(ctx, time.Since(start).Seconds(), "rejected")
		return Key{}, err
	case err != nil:
		s.metrics.AddDuration(ctx, time.Since(start).Seconds(), "error")
		return Key{}, backendError("add stream", Key{}, err)
	}
	s.metrics.AddDuration(ctx, time.Since(start).Seconds(), "ok")
	s.metrics.Narrowed(ctx, len(plan))

	for _, n := range plan {
		s.cache.invalidate(n.id)
		narrowedKey := NewKey(s.scope, n.id)
		s.logger.Info("command stream narrowed",
			"key", narrowedKey.String(),
			"valid_time", n.stream.ValidTime.String(),
			"superseded_by", key.String(),
		)
		s.publish(ctx, EventStreamNarrowed, narrowedKey, n.stream)
	}

	s.logger.Info("command stream added",
		"key", key.String(),
		"system_id", rec.SystemID.String(),
		"control_input", rec.ControlInputName,
		"valid_time", rec.ValidTime.String(),
	)
	s.publish(ctx, EventStreamAdded, key, rec)
	return key, nil
}

// addLocked runs reconciliation and the insert in one transaction.
func (s *StreamStore) addLocked(ctx context.Context, rec *CommandStream) (Key, []narrowing, error) {
	data, err := encodeStream(rec)
	if err != nil {
		return Key{}, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Key{}, nil, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if s.db.Dialect() == database.DialectPostgres {
		lockKey := advisoryLockKey(rec.SystemID, rec.ControlInputName)
		if _, err := tx.ExecContext(ctx, s.db.Rebind("SELECT pg_advisory_xact_lock(?)"), lockKey); err != nil {
			return Key{}, nil, fmt.Errorf("taking advisory lock: %w", err)
		}
	}

	plan, err := s.planNarrowings(ctx, tx, rec)
	if err != nil {
		return Key{}, nil, err
	}
	for _, n := range plan {
		if err := s.applyNarrowing(ctx, tx, n); err != nil {
			return Key{}, nil, err
		}
	}

	var id int64
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO `+streamsTable+` (
			system_id, control_input, valid_begin, valid_end, name, description, data
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		rec.SystemID.ID, rec.ControlInputName,
		rec.ValidTime.beginMicros(), rec.ValidTime.endMicros(),
		rec.Name, rec.Description, string(data),
	).Scan(&id)
	if err != nil {
		return Key{}, nil, fmt.Errorf("inserting stream: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Key{}, nil, fmt.Errorf("committing stream insert: %w", err)
	}
	return NewKey(s.scope, id), plan, nil
}

// Put overwrites the stream stored under key and returns the stored value.
//
// Put does not check that key exists and does not reconcile valid times;
// callers pass keys obtained from Add or Get.
func (s *StreamStore) Put(ctx context.Context, key Key, stream *CommandStream) (_ *CommandStream, err error) {
	if err := s.checkScope(key); err != nil {
		return nil, err
	}
	if err := ValidateStream(stream); err != nil {
		return nil, err
	}
	rec := stream.DeepCopy()
	rec.ValidTime = rec.ValidTime.normalized()

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.streams.put", telemetry.AttrKey.String(key.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	data, err := encodeStream(rec)
	if err != nil {
		return nil, backendError("put stream", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE `+streamsTable+` SET
			system_id = ?, control_input = ?, valid_begin = ?, valid_end = ?,
			name = ?, description = ?, data = ?
		WHERE id = ?`,
		rec.SystemID.ID, rec.ControlInputName,
		rec.ValidTime.beginMicros(), rec.ValidTime.endMicros(),
		rec.Name, rec.Description, string(data), key.ID,
	)
	if err != nil {
		return nil, backendError("put stream", key, err)
	}
	s.cache.invalidate(key.ID)

	s.logger.Debug("command stream updated", "key", key.String())
	s.publish(ctx, EventStreamUpdated, key, rec)
	return rec.DeepCopy(), nil
}

// Remove deletes the stream under key together with its commands and their
// status reports. It returns the removed stream, or nil if there was none.
func (s *StreamStore) Remove(ctx context.Context, key Key) (_ *CommandStream, err error) {
	if err := s.checkScope(key); err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.streams.remove", telemetry.AttrKey.String(key.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	current, err := s.fetch(ctx, key.ID)
	if err != nil {
		return nil, backendError("remove stream", key, err)
	}
	if current == nil {
		return nil, nil
	}

	if err := s.removeCascade(ctx, key); err != nil {
		return nil, backendError("remove stream", key, err)
	}
	s.cache.invalidate(key.ID)

	s.logger.Info("command stream removed", "key", key.String())
	s.publish(ctx, EventStreamRemoved, key, current)
	return current, nil
}

func (s *StreamStore) removeCascade(ctx context.Context, key Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if s.statuses != nil {
		if _, err := s.statuses.removeByStreamTx(ctx, tx, key); err != nil {
			return err
		}
	}
	if s.commands != nil {
		if _, err := s.commands.removeByStreamTx(ctx, tx, key); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind("DELETE FROM "+streamsTable+" WHERE id = ?"), key.ID); err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing stream delete: %w", err)
	}
	return nil
}

// Clear deletes every stream, command and status report, and empties the cache.
func (s *StreamStore) Clear(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.streams.clear")
	defer func() { telemetry.EndSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backendError("clear streams", Key{}, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	for _, table := range []string{statusTable, commandsTable, streamsTable} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return backendError("clear streams", Key{}, fmt.Errorf("deleting from %s: %w", table, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return backendError("clear streams", Key{}, fmt.Errorf("committing clear: %w", err))
	}
	s.cache.clear()

	s.logger.Info("command streams cleared")
	return nil
}

// SelectEntries streams the streams matching f in id order, filling in only
// the requested fields (all when none are given). The cursor must be drained
// or closed. Selections never populate the cache.
func (s *StreamStore) SelectEntries(ctx context.Context, f StreamFilter, fields ...Field) (*database.Cursor[Key, *CommandStream], error) {
	for _, k := range f.InternalIDs {
		if err := s.checkScope(k); err != nil {
			return nil, err
		}
	}

	query, args := buildStreamSelect(s.db.Dialect(), f)
	opts := database.CursorOptions[Key, *CommandStream]{
		Decode: s.decodeRow,
		Limit:  f.Limit,
	}
	if len(fields) > 0 {
		opts.Decode = func(row database.RowScanner) (Key, *CommandStream, error) {
			key, stream, err := s.decodeRow(row)
			if err != nil {
				return key, nil, err
			}
			return key, projectStream(stream, fields), nil
		}
	}
	if f.ValuePredicate != nil {
		keep := f.ValuePredicate
		opts.Predicate = func(_ Key, v *CommandStream) bool { return keep(v) }
	}

	cur, err := database.OpenCursor(ctx, s.db, query, args, opts)
	if err != nil {
		return nil, backendError("select streams", Key{}, err)
	}
	return cur, nil
}

func (s *StreamStore) decodeRow(row database.RowScanner) (Key, *CommandStream, error) {
	var id int64
	var data []byte
	if err := row.Scan(&id, &data); err != nil {
		return Key{}, nil, backendError("scan stream", Key{}, err)
	}
	key := NewKey(s.scope, id)
	stream, err := decodeStream(data)
	if err != nil {
		return key, nil, backendError("decode stream", key, err)
	}
	return key, stream, nil
}

// LatestVersion returns the open-ended stream of a control input, if any.
func (s *StreamStore) LatestVersion(ctx context.Context, systemID Key, controlInput string) (Key, *CommandStream, error) {
	cur, err := s.SelectEntries(ctx, StreamFilter{
		SystemIDs:          []Key{systemID},
		ControlInputNames:  []string{controlInput},
		CurrentVersionOnly: true,
		Limit:              1,
	})
	if err != nil {
		return Key{}, nil, err
	}
	defer cur.Close() //nolint:errcheck // Err reports failures

	if cur.Next() {
		return cur.Key(), cur.Value(), nil
	}
	return Key{}, nil, cur.Err()
}

// EntrySet returns every stream. Intended for small tables only.
func (s *StreamStore) EntrySet(ctx context.Context) ([]Entry[*CommandStream], error) {
	cur, err := s.SelectEntries(ctx, StreamFilter{})
	if err != nil {
		return nil, err
	}
	return collectEntries(cur)
}

// Values returns every stream. Intended for small tables only.
func (s *StreamStore) Values(ctx context.Context) ([]*CommandStream, error) {
	entries, err := s.EntrySet(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*CommandStream, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}

// KeySet returns every stream key. Intended for small tables only.
func (s *StreamStore) KeySet(ctx context.Context) ([]Key, error) {
	entries, err := s.EntrySet(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Key, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out, nil
}

// Count returns the number of stored streams.
func (s *StreamStore) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, s.db, streamsTable, "count streams")
}

// Commit is a no-op: every write commits before it returns.
func (s *StreamStore) Commit(context.Context) error {
	return nil
}

// Close stops the cache's expiry loop.
func (s *StreamStore) Close() error {
	s.cache.stop()
	return nil
}

func (s *StreamStore) publish(ctx context.Context, t EventType, key Key, stream *CommandStream) {
	ev := newEvent(t, key)
	ev.Stream = stream
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publishing stream event failed", "type", string(t), "key", key.String(), "error", err)
	}
}

// collectEntries drains a cursor into a slice.
func collectEntries[V any](cur *database.Cursor[Key, V]) ([]Entry[V], error) {
	var out []Entry[V]
	for k, v := range cur.All() {
		out = append(out, Entry[V]{Key: k, Value: v})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func countRows(ctx context.Context, db *database.DB, table, op string) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, backendError(op, Key{}, err)
	}
	return n, nil
}
