package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "osh/tasking"

// Topics provides builders for the tasking store MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Every topic lives under a configurable prefix:
//
//	topics := mqtt.NewTopics("osh/tasking")
//	topics.Event("stream.narrowed")
//	// Returns: "osh/tasking/events/stream/narrowed"
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders rooted at prefix.
// Trailing slashes are trimmed and an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// Store Topics
// =============================================================================

// Event returns the topic for a change notification.
// Dots in the event type become topic levels so subscribers can filter
// with wildcards.
//
// Example: osh/tasking/events/status/added
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/events/%s", t.root(), strings.ReplaceAll(eventType, ".", "/"))
}

// StatusReport returns the topic a driver publishes command status reports on.
//
// Example: osh/tasking/status/pump-driver
func (t Topics) StatusReport(source string) string {
	return fmt.Sprintf("%s/status/%s", t.root(), source)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service status topic carrying the online,
// offline and LWT payloads.
//
// Example: osh/tasking/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.root())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllEvents returns a pattern matching every change notification.
//
// Pattern: osh/tasking/events/#
func (t Topics) AllEvents() string {
	return fmt.Sprintf("%s/events/#", t.root())
}

// AllStatusReports returns a pattern matching status reports from any source.
//
// Pattern: osh/tasking/status/+
func (t Topics) AllStatusReports() string {
	return fmt.Sprintf("%s/status/+", t.root())
}

// AllTopics returns a pattern matching everything under the prefix.
// Use with caution - this receives ALL traffic.
//
// Pattern: osh/tasking/#
func (t Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", t.root())
}
