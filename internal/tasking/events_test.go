package tasking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeMessagePublisher struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	err      error
}

func (f *fakeMessagePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.topic, f.payload, f.qos, f.retained = topic, payload, qos, retained
	return f.err
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeMessagePublisher{}
	p := NewMQTTPublisher(client, func(eventType string) string { return "test/events/" + eventType }, 1)

	sid := NewKey(testScope, 2)
	ev := newEvent(EventStatusAdded, NewKey(testScope, 9))
	ev.StreamID = &sid

	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if client.topic != "test/events/status.added" {
		t.Errorf("topic = %q", client.topic)
	}
	if client.qos != 1 || client.retained {
		t.Errorf("qos = %d retained = %v, want 1 false", client.qos, client.retained)
	}

	var got Event
	if err := json.Unmarshal(client.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.ID != ev.ID || got.Key != ev.Key || got.StreamID == nil || *got.StreamID != sid {
		t.Errorf("payload = %+v, want %+v", got, ev)
	}
}

func TestMQTTPublisher_ClientError(t *testing.T) {
	brokerErr := errors.New("not connected")
	p := NewMQTTPublisher(&fakeMessagePublisher{err: brokerErr}, func(string) string { return "t" }, 0)

	err := p.Publish(context.Background(), newEvent(EventStreamRemoved, NewKey(1, 1)))
	if !errors.Is(err, brokerErr) {
		t.Errorf("Publish() error = %v, want wrapped broker error", err)
	}
}

func TestPublishers_FanOut(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	a := &recordingPublisher{err: errA}
	b := &recordingPublisher{}
	c := &recordingPublisher{err: errC}

	err := Publishers{a, b, c}.Publish(context.Background(), newEvent(EventStreamAdded, NewKey(1, 1)))
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Errorf("Publish() error = %v, want both failures joined", err)
	}
	for i, p := range []*recordingPublisher{a, b, c} {
		if len(p.events) != 1 {
			t.Errorf("publisher %d received %d events, want 1", i, len(p.events))
		}
	}

	if err := (Publishers{b}).Publish(context.Background(), newEvent(EventStreamAdded, NewKey(1, 2))); err != nil {
		t.Errorf("Publish() with no failures = %v", err)
	}
}

func TestNewEvent(t *testing.T) {
	a := newEvent(EventStreamNarrowed, NewKey(1, 1))
	b := newEvent(EventStreamNarrowed, NewKey(1, 1))
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event ids should be unique: %q %q", a.ID, b.ID)
	}
	if a.Time.Location().String() != "UTC" {
		t.Errorf("event time location = %v", a.Time.Location())
	}
}
