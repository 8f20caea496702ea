package tasking

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
	_ "github.com/opensensorhub/osh-addons-sub008/migrations" // registers embedded migrations
)

const testScope = 3

// t0 is the reference instant used by most tests.
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(hours int) time.Time {
	return t0.Add(time.Duration(hours) * time.Hour)
}

// openTestDB opens a migrated SQLite database in a temp directory.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "tasking.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// openTestStores returns linked stores on a fresh database.
func openTestStores(t *testing.T) *Stores {
	t.Helper()
	return openTestStoresWith(t, Options{Scope: testScope})
}

func openTestStoresWith(t *testing.T, opts Options) *Stores {
	t.Helper()
	stores := NewStores(openTestDB(t), opts)
	t.Cleanup(func() { stores.Close() }) //nolint:errcheck // Test cleanup
	return stores
}

func testStream(input string, vt TimeExtent) *CommandStream {
	return &CommandStream{
		SystemID:         NewKey(testScope, 1),
		ControlInputName: input,
		Name:             "Setpoint control",
		Description:      "Adjusts the heating setpoint",
		ParametersSchema: json.RawMessage(`{"type":"object"}`),
		Encoding:         "application/json",
		ValidTime:        vt,
	}
}

func mustAddStream(t *testing.T, s *StreamStore, stream *CommandStream) Key {
	t.Helper()
	key, err := s.Add(context.Background(), stream)
	if err != nil {
		t.Fatalf("StreamStore.Add() error = %v", err)
	}
	return key
}

func mustGetStream(t *testing.T, s *StreamStore, key Key) *CommandStream {
	t.Helper()
	stream, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("StreamStore.Get(%s) error = %v", key, err)
	}
	if stream == nil {
		t.Fatalf("StreamStore.Get(%s) = nil, want stream", key)
	}
	return stream
}

func mustAddCommand(t *testing.T, c *CommandStore, streamID Key) Key {
	t.Helper()
	key, err := c.Add(context.Background(), &Command{
		StreamID:   streamID,
		IssueTime:  t0,
		SenderID:   "operator",
		Parameters: json.RawMessage(`{"setpoint":21.5}`),
	})
	if err != nil {
		t.Fatalf("CommandStore.Add() error = %v", err)
	}
	return key
}

func testStatus(commandID Key, code StatusCode) *CommandStatus {
	return &CommandStatus{
		CommandID:  commandID,
		ReportTime: t0,
		StatusCode: code,
		Progress:   ProgressUnknown,
	}
}

func mustAddStatus(t *testing.T, s *StatusStore, status *CommandStatus) Key {
	t.Helper()
	key, err := s.Add(context.Background(), status)
	if err != nil {
		t.Fatalf("StatusStore.Add() error = %v", err)
	}
	return key
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// recordingLogger captures log messages by level.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	infos []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
