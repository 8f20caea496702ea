package tasking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// defaultIngestTimeout bounds the store write for one received report.
const defaultIngestTimeout = 5 * time.Second

// StatusIngestor stores command status reports received as JSON messages.
// Handle matches the MQTT client's message handler signature.
type StatusIngestor struct {
	statuses *StatusStore
	logger   Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewStatusIngestor returns an ingestor writing to statuses.
func NewStatusIngestor(statuses *StatusStore) *StatusIngestor {
	return &StatusIngestor{
		statuses: statuses,
		logger:   noopLogger{},
		timeout:  defaultIngestTimeout,
		now:      time.Now,
	}
}

// SetLogger sets the logger for the ingestor.
func (i *StatusIngestor) SetLogger(logger Logger) {
	i.logger = logger
}

// Handle decodes one report and adds it to the status store.
//
// A report without "progress" is stored with ProgressUnknown, and one
// without "reportTime" is stamped with the time it was received.
func (i *StatusIngestor) Handle(topic string, payload []byte) error {
	status, err := i.decode(payload)
	if err != nil {
		return fmt.Errorf("decoding status report from %s: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	key, err := i.statuses.Add(ctx, status)
	if err != nil {
		return fmt.Errorf("storing status report from %s: %w", topic, err)
	}

	if status.StatusCode.IsFinal() {
		i.logger.Info("command finished",
			"command_id", status.CommandID.String(),
			"status", string(status.StatusCode),
			"key", key.String(),
		)
	}
	return nil
}

func (i *StatusIngestor) decode(payload []byte) (*CommandStatus, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidStatus)
	}

	var status CommandStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	if !gjson.GetBytes(payload, "progress").Exists() {
		status.Progress = ProgressUnknown
	}
	if status.ReportTime.IsZero() {
		status.ReportTime = i.now()
	}
	// Reports name commands by id only; the scope is always ours.
	if gjson.GetBytes(payload, "commandID.scope").Type == gjson.Null {
		status.CommandID.Scope = i.statuses.scope
	}
	return &status, nil
}
