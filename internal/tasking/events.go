package tasking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a change notification.
type EventType string

// Change notifications emitted after successful writes.
const (
	EventStreamAdded    EventType = "stream.added"
	EventStreamNarrowed EventType = "stream.narrowed"
	EventStreamUpdated  EventType = "stream.updated"
	EventStreamRemoved  EventType = "stream.removed"
	EventStatusAdded    EventType = "status.added"
	EventStatusUpdated  EventType = "status.updated"
	EventStatusRemoved  EventType = "status.removed"
)

// Event describes one committed change.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	Key  Key       `json:"key"`
	Time time.Time `json:"time"`

	// StreamID is the owning stream of a status, when it was resolved.
	StreamID *Key `json:"streamID,omitempty"`

	Stream *CommandStream `json:"stream,omitempty"`
	Status *CommandStatus `json:"status,omitempty"`
}

func newEvent(t EventType, key Key) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: t,
		Key:  key,
		Time: time.Now().UTC(),
	}
}

// Publisher receives change notifications. Publishing happens after the
// write has committed; a failing publisher never undoes the write.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

// Publishers fans an event out to several publishers.
type Publishers []Publisher

// Publish delivers ev to every publisher and joins their errors.
func (ps Publishers) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MessagePublisher is the subset of an MQTT client used for notifications.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TopicFunc maps an event type to the topic it is published on.
type TopicFunc func(eventType string) string

// MQTTPublisher publishes events as JSON, one topic per event type.
type MQTTPublisher struct {
	client MessagePublisher
	topic  TopicFunc
	qos    byte
}

// NewMQTTPublisher returns a publisher writing to the topics chosen by topic.
func NewMQTTPublisher(client MessagePublisher, topic TopicFunc, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, qos: qos}
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if err := p.client.Publish(p.topic(string(ev.Type)), payload, p.qos, false); err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.Type, err)
	}
	return nil
}
