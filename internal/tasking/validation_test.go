package tasking

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateStream(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *CommandStream)
		wantErr bool
	}{
		{name: "valid", mutate: func(*CommandStream) {}},
		{name: "missing system", mutate: func(s *CommandStream) { s.SystemID = Key{} }, wantErr: true},
		{name: "blank control input", mutate: func(s *CommandStream) { s.ControlInputName = "  " }, wantErr: true},
		{name: "long control input", mutate: func(s *CommandStream) { s.ControlInputName = strings.Repeat("x", 101) }, wantErr: true},
		{name: "missing name", mutate: func(s *CommandStream) { s.Name = "" }, wantErr: true},
		{name: "missing begin", mutate: func(s *CommandStream) { s.ValidTime = TimeExtent{OpenEnded: true} }, wantErr: true},
		{name: "end before begin", mutate: func(s *CommandStream) { s.ValidTime = NewTimeExtent(at(2), at(1)) }, wantErr: true},
		{name: "empty period allowed", mutate: func(s *CommandStream) { s.ValidTime = NewTimeExtent(at(1), at(1)) }},
		{name: "bad parameters JSON", mutate: func(s *CommandStream) { s.ParametersSchema = json.RawMessage(`{`) }, wantErr: true},
		{name: "uncompilable result schema", mutate: func(s *CommandStream) { s.ResultSchema = json.RawMessage(`{"type":12}`) }, wantErr: true},
		{name: "result schema", mutate: func(s *CommandStream) { s.ResultSchema = json.RawMessage(tempSchema) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStream("setpoint", OpenEndedFrom(t0))
			tt.mutate(s)
			err := ValidateStream(s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStream() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidStream) {
				t.Errorf("error %v does not wrap ErrInvalidStream", err)
			}
		})
	}

	if err := ValidateStream(nil); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("ValidateStream(nil) = %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	valid := &Command{StreamID: NewKey(1, 1), IssueTime: t0}
	if err := ValidateCommand(valid); err != nil {
		t.Errorf("ValidateCommand(valid) = %v", err)
	}

	for name, c := range map[string]*Command{
		"nil":        nil,
		"no stream":  {IssueTime: t0},
		"no time":    {StreamID: NewKey(1, 1)},
		"bad params": {StreamID: NewKey(1, 1), IssueTime: t0, Parameters: json.RawMessage(`[`)},
	} {
		if err := ValidateCommand(c); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("ValidateCommand(%s) = %v, want ErrInvalidCommand", name, err)
		}
	}
}

func TestValidateStatus(t *testing.T) {
	cmd := NewKey(1, 1)
	tests := []struct {
		name    string
		mutate  func(s *CommandStatus)
		wantErr bool
	}{
		{name: "valid", mutate: func(*CommandStatus) {}},
		{name: "missing command", mutate: func(s *CommandStatus) { s.CommandID = Key{} }, wantErr: true},
		{name: "missing report time", mutate: func(s *CommandStatus) { s.ReportTime = time.Time{} }, wantErr: true},
		{name: "unknown code", mutate: func(s *CommandStatus) { s.StatusCode = "DONE" }, wantErr: true},
		{name: "progress too high", mutate: func(s *CommandStatus) { s.Progress = 101 }, wantErr: true},
		{name: "progress below unknown", mutate: func(s *CommandStatus) { s.Progress = -2 }, wantErr: true},
		{name: "progress complete", mutate: func(s *CommandStatus) { s.Progress = 100 }},
		{
			name:    "execution ends before begin",
			mutate:  func(s *CommandStatus) { et := NewTimeExtent(at(1), at(0)); s.ExecutionTime = &et },
			wantErr: true,
		},
		{name: "long message", mutate: func(s *CommandStatus) { s.Message = strings.Repeat("m", 4097) }, wantErr: true},
		{
			name:    "invalid record JSON",
			mutate:  func(s *CommandStatus) { withRecords(s, `{"a":`) },
			wantErr: true,
		},
		{name: "valid records", mutate: func(s *CommandStatus) { withRecords(s, `{"a":1}`, `[1,2]`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStatus(cmd, StatusAccepted)
			tt.mutate(s)
			err := ValidateStatus(s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidStatus) {
				t.Errorf("error %v does not wrap ErrInvalidStatus", err)
			}
		})
	}
}

func TestSerializationContext(t *testing.T) {
	stream := testStream("setpoint", OpenEndedFrom(t0))
	stream.ResultSchema = json.RawMessage(tempSchema)

	sc, err := NewSerializationContext(NewKey(1, 2), stream)
	if err != nil {
		t.Fatalf("NewSerializationContext() error = %v", err)
	}

	good := withRecords(testStatus(NewKey(1, 1), StatusCompleted), `{"temp":20}`)
	data, err := encodeStatus(good, sc)
	if err != nil {
		t.Fatalf("encodeStatus(good) error = %v", err)
	}
	back, err := decodeStatus(data, sc)
	if err != nil {
		t.Fatalf("decodeStatus() error = %v", err)
	}
	if string(back.Result.Records[0]) != `{"temp":20}` {
		t.Errorf("record = %s", back.Result.Records[0])
	}

	bad := withRecords(testStatus(NewKey(1, 1), StatusCompleted), `{"temp":20}`, `{"humidity":5}`)
	if _, err := encodeStatus(bad, sc); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("encodeStatus(bad) error = %v, want ErrInvalidRecord", err)
	}
	// Without a context records are opaque.
	if _, err := encodeStatus(bad, nil); err != nil {
		t.Errorf("encodeStatus(bad, nil) error = %v", err)
	}

	// A stream without a result schema accepts anything.
	plain, err := NewSerializationContext(NewKey(1, 3), testStream("mode", OpenEndedFrom(t0)))
	if err != nil {
		t.Fatalf("NewSerializationContext(plain) error = %v", err)
	}
	if _, err := encodeStatus(bad, plain); err != nil {
		t.Errorf("encodeStatus(bad, plain) error = %v", err)
	}
}

func TestProject(t *testing.T) {
	full := testStatus(NewKey(1, 1), StatusExecuting)
	full.Progress = 10
	full.Message = "m"

	if got := project(full, nil); got != full {
		t.Error("empty projection should return the status unchanged")
	}

	got := project(full, []Field{FieldProgress})
	if got.Progress != 10 || got.Message != "" || got.StatusCode != "" {
		t.Errorf("project(progress) = %+v", got)
	}

	if needsContext([]Field{FieldMessage}) {
		t.Error("message-only projection should not need the stream")
	}
	if !needsContext([]Field{FieldMessage, FieldCommandID}) || !needsContext(nil) {
		t.Error("projections with the command id need the stream")
	}
}
