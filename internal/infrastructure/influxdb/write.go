package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/opensensorhub/osh-addons-sub008/internal/tasking"
)

// Measurement names.
const (
	measurementCommandStatus = "command_status"
	measurementStreamChange  = "command_stream_change"
)

// WriteCommandStatus records one status report. streamID may be nil when the
// owning stream was not resolved.
func (c *Client) WriteCommandStatus(key tasking.Key, streamID *tasking.Key, status *tasking.CommandStatus) {
	if !c.IsConnected() || status == nil {
		return
	}
	c.writer.WritePoint(commandStatusPoint(key, streamID, status))
}

func commandStatusPoint(key tasking.Key, streamID *tasking.Key, status *tasking.CommandStatus) *write.Point {
	tags := map[string]string{
		"command_id":  status.CommandID.String(),
		"status_code": string(status.StatusCode),
	}
	if streamID != nil {
		tags["stream_id"] = streamID.String()
	}

	fields := map[string]interface{}{
		"status_id": key.String(),
		"final":     status.StatusCode.IsFinal(),
	}
	if status.Progress != tasking.ProgressUnknown {
		fields["progress"] = int64(status.Progress)
	}
	if status.Message != "" {
		fields["message"] = status.Message
	}
	if status.HasInlineRecords() {
		fields["records"] = int64(len(status.Result.Records))
	}

	return write.NewPoint(measurementCommandStatus, tags, fields, status.ReportTime)
}

// WriteStreamChange records a change to a command stream definition.
func (c *Client) WriteStreamChange(ev tasking.Event) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(streamChangePoint(ev))
}

func streamChangePoint(ev tasking.Event) *write.Point {
	tags := map[string]string{
		"stream_id": ev.Key.String(),
		"change":    string(ev.Type),
	}
	fields := map[string]interface{}{
		"event_id": ev.ID,
	}
	if ev.Stream != nil {
		tags["control_input"] = ev.Stream.ControlInputName
		fields["valid_time"] = ev.Stream.ValidTime.String()
	}
	t := ev.Time
	if t.IsZero() {
		t = time.Now()
	}
	return write.NewPoint(measurementStreamChange, tags, fields, t)
}

// Publisher adapts a Client to tasking.Publisher so committed store changes
// are mirrored into the time-series bucket.
type Publisher struct {
	client *Client
}

// NewPublisher returns a tasking publisher writing to client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish implements tasking.Publisher. Writes are queued, so the only error
// reported here is a disconnected client.
func (p *Publisher) Publish(_ context.Context, ev tasking.Event) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	switch ev.Type {
	case tasking.EventStatusAdded, tasking.EventStatusUpdated:
		p.client.WriteCommandStatus(ev.Key, ev.StreamID, ev.Status)
	case tasking.EventStreamAdded, tasking.EventStreamNarrowed, tasking.EventStreamUpdated, tasking.EventStreamRemoved:
		p.client.WriteStreamChange(ev)
	}
	return nil
}
