package tasking

import (
	"encoding/json"
	"time"
)

// CommandStream describes one tasking channel: the control input of a system
// through which commands are issued, and the period during which this
// definition is in effect.
type CommandStream struct {
	// SystemID references the owning system.
	SystemID Key `json:"systemID"`

	// ControlInputName names the control input exposed by the system.
	ControlInputName string `json:"controlInput"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// ParametersSchema describes accepted command parameters. It is stored
	// verbatim and never interpreted here.
	ParametersSchema json.RawMessage `json:"parametersSchema,omitempty"`

	// ResultSchema is an optional JSON Schema for inline result records
	// attached to command status reports.
	ResultSchema json.RawMessage `json:"resultSchema,omitempty"`

	// Encoding is the media type of the commands sent on this stream.
	Encoding string `json:"encoding,omitempty"`

	ValidTime TimeExtent `json:"validTime"`
}

// DeepCopy returns an independent copy of the stream.
func (s *CommandStream) DeepCopy() *CommandStream {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.ParametersSchema = cloneRaw(s.ParametersSchema)
	cpy.ResultSchema = cloneRaw(s.ResultSchema)
	return &cpy
}

// Command is a control command issued on a stream.
type Command struct {
	StreamID   Key             `json:"streamID"`
	IssueTime  time.Time       `json:"issueTime"`
	SenderID   string          `json:"senderID,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// StatusCode is the lifecycle state reported for a command.
type StatusCode string

// Command status codes.
const (
	StatusPending   StatusCode = "PENDING"
	StatusAccepted  StatusCode = "ACCEPTED"
	StatusRejected  StatusCode = "REJECTED"
	StatusScheduled StatusCode = "SCHEDULED"
	StatusUpdated   StatusCode = "UPDATED"
	StatusCanceled  StatusCode = "CANCELED"
	StatusExecuting StatusCode = "EXECUTING"
	StatusFailed    StatusCode = "FAILED"
	StatusCompleted StatusCode = "COMPLETED"
)

// AllStatusCodes returns every known status code.
func AllStatusCodes() []StatusCode {
	return []StatusCode{
		StatusPending,
		StatusAccepted,
		StatusRejected,
		StatusScheduled,
		StatusUpdated,
		StatusCanceled,
		StatusExecuting,
		StatusFailed,
		StatusCompleted,
	}
}

// IsFinal reports whether no further reports are expected after this code.
func (c StatusCode) IsFinal() bool {
	switch c {
	case StatusRejected, StatusCanceled, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

// ProgressUnknown is the Progress value when the sender gave none.
const ProgressUnknown = -1

// CommandStatus is one status report for a previously issued command.
type CommandStatus struct {
	CommandID  Key        `json:"commandID"`
	ReportTime time.Time  `json:"reportTime"`
	StatusCode StatusCode `json:"statusCode"`

	// Progress is a percentage in [0, 100], or ProgressUnknown.
	Progress int `json:"progress"`

	// ExecutionTime is the actual or planned execution period, if known.
	ExecutionTime *TimeExtent `json:"executionTime,omitempty"`

	Message string         `json:"message,omitempty"`
	Result  *CommandResult `json:"result,omitempty"`
}

// DeepCopy returns an independent copy of the status.
func (s *CommandStatus) DeepCopy() *CommandStatus {
	if s == nil {
		return nil
	}
	cpy := *s
	if s.ExecutionTime != nil {
		et := *s.ExecutionTime
		cpy.ExecutionTime = &et
	}
	cpy.Result = s.Result.DeepCopy()
	return &cpy
}

// CommandResult carries what a command produced. Results are either
// references to observations stored elsewhere or inline records whose
// layout is given by the owning stream's ResultSchema.
type CommandResult struct {
	DataStreamIDs  []Key             `json:"dataStreamIDs,omitempty"`
	ObservationIDs []Key             `json:"observationIDs,omitempty"`
	Records        []json.RawMessage `json:"records,omitempty"`
}

// DeepCopy returns an independent copy of the result.
func (r *CommandResult) DeepCopy() *CommandResult {
	if r == nil {
		return nil
	}
	cpy := &CommandResult{}
	if r.DataStreamIDs != nil {
		cpy.DataStreamIDs = append([]Key(nil), r.DataStreamIDs...)
	}
	if r.ObservationIDs != nil {
		cpy.ObservationIDs = append([]Key(nil), r.ObservationIDs...)
	}
	if r.Records != nil {
		cpy.Records = make([]json.RawMessage, len(r.Records))
		for i, rec := range r.Records {
			cpy.Records[i] = cloneRaw(rec)
		}
	}
	return cpy
}

// HasInlineRecords reports whether decoding the status needs the owning
// stream's result schema.
func (s *CommandStatus) HasInlineRecords() bool {
	return s != nil && s.Result != nil && len(s.Result.Records) > 0
}

// Entry pairs a key with its record.
type Entry[V any] struct {
	Key   Key `json:"key"`
	Value V   `json:"value"`
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	return append(json.RawMessage(nil), m...)
}
