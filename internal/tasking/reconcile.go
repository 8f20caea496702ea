package tasking

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// narrowing is one planned update of an existing stream's valid time.
type narrowing struct {
	id     int64
	stream *CommandStream
}

// reconcile returns the valid time existing must be narrowed to so that it
// no longer overlaps added. The newer definition wins from its begin time
// onwards. An added period that starts before an existing one it overlaps
// cannot be placed without moving that definition's begin, bounded or not,
// and fails with ErrFullOverlap.
func reconcile(existing, added TimeExtent) (TimeExtent, error) {
	if !existing.Overlaps(added) {
		return existing, nil
	}
	if added.Begin.Before(existing.Begin) {
		return TimeExtent{}, ErrFullOverlap
	}
	return TimeExtent{Begin: existing.Begin, End: added.Begin}, nil
}

// planNarrowings reads every stream of the same control input overlapping
// added and computes how each must be narrowed. Nothing is written, so a
// full overlap leaves the table untouched.
func (s *StreamStore) planNarrowings(ctx context.Context, tx *sql.Tx, added *CommandStream) ([]narrowing, error) {
	query, args := buildOverlapSelect(s.db.Dialect(), added.SystemID, added.ControlInputName, added.ValidTime)

	rows, err := tx.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying overlapping streams: %w", err)
	}
	defer rows.Close()

	var plan []narrowing
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning overlapping stream: %w", err)
		}
		existing, err := decodeStream(data)
		if err != nil {
			return nil, err
		}

		narrowed, err := reconcile(existing.ValidTime, added.ValidTime)
		if err != nil {
			s.logger.Debug("stream add rejected",
				"existing", NewKey(s.scope, id).String(),
				"existing_valid_time", existing.ValidTime.String(),
				"valid_time", added.ValidTime.String(),
			)
			return nil, fmt.Errorf("%w: stream %s valid %s", err, NewKey(s.scope, id), existing.ValidTime)
		}
		if narrowed.Equal(existing.ValidTime) {
			continue
		}
		existing.ValidTime = narrowed
		plan = append(plan, narrowing{id: id, stream: existing})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating overlapping streams: %w", err)
	}
	return plan, nil
}

// applyNarrowing rewrites one stream's valid time inside tx.
func (s *StreamStore) applyNarrowing(ctx context.Context, tx *sql.Tx, n narrowing) error {
	data, err := encodeStream(n.stream)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		s.db.Rebind("UPDATE "+streamsTable+" SET valid_end = ?, data = ? WHERE id = ?"),
		n.stream.ValidTime.endMicros(), string(data), n.id,
	)
	if err != nil {
		return fmt.Errorf("narrowing stream %d: %w", n.id, err)
	}
	return nil
}

// advisoryLockKey maps a (system, control input) pair onto a PostgreSQL
// advisory lock id.
func advisoryLockKey(systemID Key, controlInput string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d\x00%s", systemID.ID, controlInput)
	return int64(h.Sum64()) //nolint:gosec // Wrap-around is fine for a lock id
}
