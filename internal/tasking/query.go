package tasking

import (
	"strings"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
)

// Table names.
const (
	streamsTable  = "command_streams"
	commandsTable = "commands"
	statusTable   = "command_status"
)

// likeEscaper escapes LIKE wildcards in user supplied text.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// whereBuilder accumulates AND-ed conditions and their arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) in(column string, values []any) {
	if len(values) == 0 {
		return
	}
	w.add(column+" IN ("+placeholders(len(values))+")", values...)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func keyIDs(keys []Key) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k.ID
	}
	return out
}

// buildStreamSelect turns a stream filter into a query returning (id, data)
// ordered by id. The filter's Limit and ValuePredicate are left to the cursor.
func buildStreamSelect(d database.Dialect, f StreamFilter) (string, []any) {
	var w whereBuilder

	w.in("id", keyIDs(f.InternalIDs))
	w.in("system_id", keyIDs(f.SystemIDs))
	if len(f.ControlInputNames) > 0 {
		names := make([]any, len(f.ControlInputNames))
		for i, n := range f.ControlInputNames {
			names[i] = n
		}
		w.in("control_input", names)
	}

	if f.ValidAt != nil {
		at := normalizeTime(*f.ValidAt).UnixMicro()
		w.add("valid_begin <= ? AND (valid_end IS NULL OR valid_end > ?)", at, at)
	}
	if f.CurrentVersionOnly {
		w.add("valid_end IS NULL")
	}
	if f.Intersects != nil {
		addIntersects(&w, f.Intersects.normalized())
	}

	if text := strings.TrimSpace(f.FullText); text != "" {
		pattern := "%" + likeEscaper.Replace(text) + "%"
		op := "LIKE"
		if d == database.DialectPostgres {
			// ILIKE is served by the trigram index on description.
			op = "ILIKE"
		}
		w.add("(name "+op+` ? ESCAPE '\' OR description `+op+` ? ESCAPE '\')`, pattern, pattern)
	}

	return "SELECT id, data FROM " + streamsTable + w.String() + " ORDER BY id", w.args
}

// addIntersects keeps non-empty rows overlapping the half-open extent e.
func addIntersects(w *whereBuilder, e TimeExtent) {
	w.add("(valid_end IS NULL OR valid_end > valid_begin)")
	w.add("(valid_end IS NULL OR valid_end > ?)", e.beginMicros())
	if !e.OpenEnded {
		w.add("valid_begin < ?", e.End.UnixMicro())
	}
}

// buildOverlapSelect returns the rows of one (system, control input) pair
// whose valid time overlaps vt. On PostgreSQL the rows are locked for the
// rest of the transaction.
func buildOverlapSelect(d database.Dialect, systemID Key, controlInput string, vt TimeExtent) (string, []any) {
	var w whereBuilder
	w.add("system_id = ?", systemID.ID)
	w.add("control_input = ?", controlInput)
	addIntersects(&w, vt.normalized())

	query := "SELECT id, data FROM " + streamsTable + w.String() + " ORDER BY id"
	if d == database.DialectPostgres {
		query += " FOR UPDATE"
	}
	return query, w.args
}

// buildStatusSelect turns a status filter into a query returning (id, data)
// ordered by id.
func buildStatusSelect(f StatusFilter) (string, []any) {
	w := statusWhere(f)
	return "SELECT id, data FROM " + statusTable + w.String() + " ORDER BY id", w.args
}

// buildStatusContextSelect selects the same statuses as buildStatusSelect,
// each joined with the id and document of the stream its command was issued
// on. Both are NULL when the command or stream is gone.
func buildStatusContextSelect(f StatusFilter) (string, []any) {
	w := statusWhere(f)
	return "SELECT s.id, s.data, c.stream_id, cs.data" +
		" FROM (SELECT id, command_id, data FROM " + statusTable + w.String() + ") s" +
		" LEFT JOIN " + commandsTable + " c ON c.id = s.command_id" +
		" LEFT JOIN " + streamsTable + " cs ON cs.id = c.stream_id" +
		" ORDER BY s.id", w.args
}

func statusWhere(f StatusFilter) whereBuilder {
	var w whereBuilder

	w.in("id", keyIDs(f.InternalIDs))
	w.in("command_id", keyIDs(f.CommandIDs))
	if len(f.StreamIDs) > 0 {
		ids := keyIDs(f.StreamIDs)
		w.add("command_id IN (SELECT id FROM "+commandsTable+" WHERE stream_id IN ("+placeholders(len(ids))+"))", ids...)
	}
	if len(f.StatusCodes) > 0 {
		codes := make([]any, len(f.StatusCodes))
		for i, c := range f.StatusCodes {
			codes[i] = string(c)
		}
		w.in("status_code", codes)
	}
	if !f.ReportedAfter.IsZero() {
		w.add("report_time >= ?", normalizeTime(f.ReportedAfter).UnixMicro())
	}
	if !f.ReportedBefore.IsZero() {
		w.add("report_time < ?", normalizeTime(f.ReportedBefore).UnixMicro())
	}
	return w
}
