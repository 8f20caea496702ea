package influxdb

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/opensensorhub/osh-addons-sub008/internal/tasking"
)

func pointTags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func pointFields(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestCommandStatusPoint(t *testing.T) {
	reported := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	streamID := tasking.NewKey(1, 2)
	status := &tasking.CommandStatus{
		CommandID:  tasking.NewKey(1, 5),
		ReportTime: reported,
		StatusCode: tasking.StatusCompleted,
		Progress:   100,
		Message:    "done",
		Result:     &tasking.CommandResult{Records: []json.RawMessage{json.RawMessage(`{"temp":20}`)}},
	}

	p := commandStatusPoint(tasking.NewKey(1, 10), &streamID, status)

	if p.Name() != measurementCommandStatus {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.Time().Equal(reported) {
		t.Errorf("Time() = %v, want report time", p.Time())
	}

	tags := pointTags(p)
	if tags["command_id"] != "1:5" || tags["stream_id"] != "1:2" || tags["status_code"] != "COMPLETED" {
		t.Errorf("tags = %v", tags)
	}

	fields := pointFields(p)
	want := map[string]interface{}{
		"status_id": "1:10",
		"final":     true,
		"progress":  int64(100),
		"message":   "done",
		"records":   int64(1),
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %v (%T), want %v", k, fields[k], fields[k], v)
		}
	}
}

func TestCommandStatusPoint_Minimal(t *testing.T) {
	p := commandStatusPoint(tasking.NewKey(1, 1), nil, &tasking.CommandStatus{
		CommandID:  tasking.NewKey(1, 5),
		ReportTime: time.Now(),
		StatusCode: tasking.StatusPending,
		Progress:   tasking.ProgressUnknown,
	})

	if _, ok := pointTags(p)["stream_id"]; ok {
		t.Error("unresolved stream should not be tagged")
	}
	fields := pointFields(p)
	for _, k := range []string{"progress", "message", "records"} {
		if _, ok := fields[k]; ok {
			t.Errorf("field %s should be omitted", k)
		}
	}
	if fields["final"] != false {
		t.Errorf("final = %v", fields["final"])
	}
}

func TestStreamChangePoint(t *testing.T) {
	begin := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := tasking.Event{
		ID:   "ev-1",
		Type: tasking.EventStreamNarrowed,
		Key:  tasking.NewKey(1, 7),
		Time: begin.Add(time.Hour),
		Stream: &tasking.CommandStream{
			ControlInputName: "setpoint",
			ValidTime:        tasking.NewTimeExtent(begin, begin.Add(time.Hour)),
		},
	}

	p := streamChangePoint(ev)
	tags := pointTags(p)
	if tags["change"] != "stream.narrowed" || tags["control_input"] != "setpoint" || tags["stream_id"] != "1:7" {
		t.Errorf("tags = %v", tags)
	}
	if pointFields(p)["valid_time"] != ev.Stream.ValidTime.String() {
		t.Errorf("valid_time = %v", pointFields(p)["valid_time"])
	}
	if !p.Time().Equal(ev.Time) {
		t.Errorf("Time() = %v", p.Time())
	}
}
