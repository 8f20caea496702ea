package tasking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/telemetry"
)

// StatusStore persists command status reports.
//
// Inline result records are checked against the owning stream's result
// schema when a report is added and when reports are selected with the
// command id in view. Single-report reads (Get, Remove) and Put do not
// resolve the stream and carry records through as opaque JSON.
type StatusStore struct {
	db       *database.DB
	scope    uint32
	streams  *StreamStore
	commands *CommandStore

	publisher Publisher
	logger    Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
}

// NewStatusStore creates a status store on db. streams and commands are used
// to resolve the serialization context of inline result records.
func NewStatusStore(db *database.DB, streams *StreamStore, commands *CommandStore, opts Options) *StatusStore {
	return &StatusStore{
		db:        db,
		scope:     opts.Scope,
		streams:   streams,
		commands:  commands,
		publisher: noopPublisher{},
		logger:    noopLogger{},
		tracer:    opts.tracer(),
		metrics:   opts.Metrics,
	}
}

// SetLogger sets the logger for the store.
func (s *StatusStore) SetLogger(logger Logger) {
	s.logger = logger
}

// SetPublisher sets where change notifications are sent.
func (s *StatusStore) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *StatusStore) checkScope(key Key) error {
	if key.Scope != s.scope {
		return fmt.Errorf("%w: key %s, store scope %d", ErrWrongScope, key, s.scope)
	}
	return nil
}

// resolveContext finds the stream a command was issued on and builds the
// context for its inline records. It returns nil when the command or the
// stream is unknown.
func (s *StatusStore) resolveContext(ctx context.Context, commandID Key) (*SerializationContext, error) {
	streamID, ok, err := s.commands.StreamOf(ctx, commandID)
	if err != nil || !ok {
		return nil, err
	}
	stream, err := s.streams.Get(ctx, streamID)
	if err != nil || stream == nil {
		return nil, err
	}
	return NewSerializationContext(streamID, stream)
}

// Add stores a status report and returns its key. Reports carrying inline
// records are checked against the owning stream's result schema and fail
// with ErrInvalidRecord when they do not match.
func (s *StatusStore) Add(ctx context.Context, status *CommandStatus) (_ Key, err error) {
	if err := ValidateStatus(status); err != nil {
		return Key{}, err
	}
	if err := s.checkScope(status.CommandID); err != nil {
		return Key{}, err
	}
	rec := status.DeepCopy()
	rec.ReportTime = normalizeTime(rec.ReportTime)

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.statuses.add",
		telemetry.AttrKey.String(rec.CommandID.String()),
		telemetry.AttrStatusCode.String(string(rec.StatusCode)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	var sc *SerializationContext
	if rec.HasInlineRecords() {
		sc, err = s.resolveContext(ctx, rec.CommandID)
		if err != nil {
			return Key{}, backendError("add status", Key{}, err)
		}
		if sc == nil {
			s.logger.Warn("status has inline records but its stream is unknown",
				"command_id", rec.CommandID.String())
		}
	}

	data, err := encodeStatus(rec, sc)
	if errors.Is(err, ErrInvalidRecord) {
		return Key{}, err
	}
	if err != nil {
		return Key{}, backendError("add status", Key{}, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		"INSERT INTO "+statusTable+" (command_id, report_time, status_code, data) VALUES (?, ?, ?, ?) RETURNING id",
		rec.CommandID.ID, rec.ReportTime.UnixMicro(), string(rec.StatusCode), string(data),
	).Scan(&id)
	if err != nil {
		return Key{}, backendError("add status", Key{}, err)
	}

	key := NewKey(s.scope, id)
	s.metrics.StatusAdded(ctx, string(rec.StatusCode))
	s.logger.Debug("command status added",
		"key", key.String(),
		"command_id", rec.CommandID.String(),
		"status", string(rec.StatusCode),
	)

	ev := newEvent(EventStatusAdded, key)
	ev.Status = rec
	if sc != nil {
		streamID := sc.StreamID
		ev.StreamID = &streamID
	}
	s.publish(ctx, ev)
	return key, nil
}

// Get returns the status under key, or nil if there is none.
func (s *StatusStore) Get(ctx context.Context, key Key) (*CommandStatus, error) {
	if err := s.checkScope(key); err != nil {
		return nil, err
	}
	status, err := s.fetch(ctx, key.ID)
	if err != nil {
		return nil, backendError("get status", key, err)
	}
	return status, nil
}

func (s *StatusStore) fetch(ctx context.Context, id int64) (*CommandStatus, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM "+statusTable+" WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying status by id: %w", err)
	}
	return decodeStatus(data, nil)
}

// ContainsKey reports whether a status exists for key.
func (s *StatusStore) ContainsKey(ctx context.Context, key Key) (bool, error) {
	status, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return status != nil, nil
}

// Put replaces the status under key and returns the stored value.
// Unlike Add it requires the key to exist and fails with ErrKeyNotFound otherwise.
func (s *StatusStore) Put(ctx context.Context, key Key, status *CommandStatus) (_ *CommandStatus, err error) {
	if err := s.checkScope(key); err != nil {
		return nil, err
	}
	if err := ValidateStatus(status); err != nil {
		return nil, err
	}
	rec := status.DeepCopy()
	rec.ReportTime = normalizeTime(rec.ReportTime)

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.statuses.put", telemetry.AttrKey.String(key.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	existing, err := s.fetch(ctx, key.ID)
	if err != nil {
		return nil, backendError("put status", key, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: status %s", ErrKeyNotFound, key)
	}

	data, err := encodeStatus(rec, nil)
	if err != nil {
		return nil, backendError("put status", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE "+statusTable+" SET command_id = ?, report_time = ?, status_code = ?, data = ? WHERE id = ?",
		rec.CommandID.ID, rec.ReportTime.UnixMicro(), string(rec.StatusCode), string(data), key.ID,
	)
	if err != nil {
		return nil, backendError("put status", key, err)
	}

	ev := newEvent(EventStatusUpdated, key)
	ev.Status = rec
	s.publish(ctx, ev)
	return rec.DeepCopy(), nil
}

// Remove deletes the status under key and returns it, or nil if there was none.
func (s *StatusStore) Remove(ctx context.Context, key Key) (*CommandStatus, error) {
	if err := s.checkScope(key); err != nil {
		return nil, err
	}
	existing, err := s.fetch(ctx, key.ID)
	if err != nil {
		return nil, backendError("remove status", key, err)
	}
	if existing == nil {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+statusTable+" WHERE id = ?", key.ID); err != nil {
		return nil, backendError("remove status", key, err)
	}

	ev := newEvent(EventStatusRemoved, key)
	ev.Status = existing
	s.publish(ctx, ev)
	return existing, nil
}

// SelectEntries streams the statuses matching f in id order.
//
// fields restricts which members of each status are filled in. When it is
// empty or includes FieldCommandID, each report's stream is read in the same
// query and its inline records are checked against the stream's result
// schema; a report whose stream is unknown is read without that check. The
// cursor holds a single connection either way.
func (s *StatusStore) SelectEntries(ctx context.Context, f StatusFilter, fields ...Field) (*database.Cursor[Key, *CommandStatus], error) {
	for _, k := range f.InternalIDs {
		if err := s.checkScope(k); err != nil {
			return nil, err
		}
	}

	var (
		query  string
		args   []any
		decode database.DecodeFunc[Key, *CommandStatus]
	)
	if needsContext(fields) {
		query, args = buildStatusContextSelect(f)
		decode = s.contextDecoder(fields)
	} else {
		query, args = buildStatusSelect(f)
		decode = func(row database.RowScanner) (Key, *CommandStatus, error) {
			var id int64
			var data []byte
			if err := row.Scan(&id, &data); err != nil {
				return Key{}, nil, backendError("scan status", Key{}, err)
			}
			return s.decodeRow(id, data, nil, fields)
		}
	}

	opts := database.CursorOptions[Key, *CommandStatus]{Decode: decode, Limit: f.Limit}
	if f.ValuePredicate != nil {
		keep := f.ValuePredicate
		opts.Predicate = func(_ Key, v *CommandStatus) bool { return keep(v) }
	}

	cur, err := database.OpenCursor(ctx, s.db, query, args, opts)
	if err != nil {
		return nil, backendError("select statuses", Key{}, err)
	}
	return cur, nil
}

// contextDecoder decodes rows of buildStatusContextSelect. Contexts are
// compiled once per stream for the lifetime of the selection.
func (s *StatusStore) contextDecoder(fields []Field) database.DecodeFunc[Key, *CommandStatus] {
	contexts := make(map[int64]*SerializationContext)

	return func(row database.RowScanner) (Key, *CommandStatus, error) {
		var (
			id         int64
			data       []byte
			streamID   sql.NullInt64
			streamData []byte
		)
		if err := row.Scan(&id, &data, &streamID, &streamData); err != nil {
			return Key{}, nil, backendError("scan status", Key{}, err)
		}
		key := NewKey(s.scope, id)

		var sc *SerializationContext
		if streamID.Valid && streamData != nil {
			var ok bool
			if sc, ok = contexts[streamID.Int64]; !ok {
				var err error
				sc, err = streamContext(NewKey(s.scope, streamID.Int64), streamData)
				if err != nil {
					return key, nil, backendError("resolve status context", key, err)
				}
				contexts[streamID.Int64] = sc
			}
		}
		return s.decodeRow(id, data, sc, fields)
	}
}

// streamContext builds a serialization context from a stored stream
// document, reading only its result schema.
func streamContext(streamID Key, streamData []byte) (*SerializationContext, error) {
	schema := gjson.GetBytes(streamData, "resultSchema")
	stream := &CommandStream{}
	if schema.Exists() && schema.Type != gjson.Null {
		stream.ResultSchema = json.RawMessage(schema.Raw)
	}
	return NewSerializationContext(streamID, stream)
}

func (s *StatusStore) decodeRow(id int64, data []byte, sc *SerializationContext, fields []Field) (Key, *CommandStatus, error) {
	key := NewKey(s.scope, id)
	status, err := decodeStatus(data, sc)
	if err != nil {
		return key, nil, backendError("decode status", key, err)
	}
	return key, project(status, fields), nil
}

// EntrySet returns every status. Intended for small tables only.
func (s *StatusStore) EntrySet(ctx context.Context) ([]Entry[*CommandStatus], error) {
	cur, err := s.SelectEntries(ctx, StatusFilter{})
	if err != nil {
		return nil, err
	}
	return collectEntries(cur)
}

// Values returns every status. Intended for small tables only.
func (s *StatusStore) Values(ctx context.Context) ([]*CommandStatus, error) {
	entries, err := s.EntrySet(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*CommandStatus, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}

// KeySet returns every status key. Intended for small tables only.
func (s *StatusStore) KeySet(ctx context.Context) ([]Key, error) {
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

// Count returns the number of stored statuses.
func (s *StatusStore) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, s.db, statusTable, "count statuses")
}

// Clear deletes every status report.
func (s *StatusStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+statusTable); err != nil {
		return backendError("clear statuses", Key{}, err)
	}
	s.logger.Info("command statuses cleared")
	return nil
}

// Commit delegates to the command store; statuses have no transaction
// boundary of their own.
func (s *StatusStore) Commit(ctx context.Context) error {
	return s.commands.Commit(ctx)
}

// RemoveByStream deletes every status of commands issued on a stream.
func (s *StatusStore) RemoveByStream(ctx context.Context, streamID Key) (int64, error) {
	if err := s.checkScope(streamID); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, backendError("remove statuses by stream", streamID, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	n, err := s.removeByStreamTx(ctx, tx, streamID)
	if err != nil {
		return 0, backendError("remove statuses by stream", streamID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, backendError("remove statuses by stream", streamID, err)
	}
	return n, nil
}

func (s *StatusStore) removeByStreamTx(ctx context.Context, tx *sql.Tx, streamID Key) (int64, error) {
	res, err := tx.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM "+statusTable+" WHERE command_id IN (SELECT id FROM "+commandsTable+" WHERE stream_id = ?)"),
		streamID.ID)
	if err != nil {
		return 0, fmt.Errorf("deleting statuses of stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted statuses: %w", err)
	}
	return n, nil
}

// PruneBefore deletes status reports older than cutoff and returns how many were removed.
func (s *StatusStore) PruneBefore(ctx context.Context, cutoff time.Time) (_ int64, err error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "tasking.statuses.prune")
	defer func() { telemetry.EndSpan(span, err) }()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+statusTable+" WHERE report_time < ?", normalizeTime(cutoff).UnixMicro())
	if err != nil {
		return 0, backendError("prune statuses", Key{}, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendError("prune statuses", Key{}, err)
	}
	s.metrics.Pruned(ctx, n)
	return n, nil
}

func (s *StatusStore) publish(ctx context.Context, ev Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publishing status event failed", "type", string(ev.Type), "key", ev.Key.String(), "error", err)
	}
}
