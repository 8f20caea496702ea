package tasking

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validation constants.
const (
	maxNameLength         = 100
	maxControlInputLength = 100
	maxDescriptionLength  = 4096
	maxMessageLength      = 4096
	maxSenderLength       = 256
	maxInlineRecords      = 10000
)

var validStatusCodes map[StatusCode]struct{}

func init() {
	validStatusCodes = make(map[StatusCode]struct{}, len(AllStatusCodes()))
	for _, c := range AllStatusCodes() {
		validStatusCodes[c] = struct{}{}
	}
}

// ValidateStream checks a command stream before it is written.
// Returns an error wrapping ErrInvalidStream describing the first failure.
func ValidateStream(s *CommandStream) error {
	if s == nil {
		return ErrInvalidStream
	}
	if s.SystemID.ID <= 0 {
		return fmt.Errorf("%w: system id is required", ErrInvalidStream)
	}

	input := strings.TrimSpace(s.ControlInputName)
	if input == "" {
		return fmt.Errorf("%w: control input name is required", ErrInvalidStream)
	}
	if len(input) > maxControlInputLength {
		return fmt.Errorf("%w: control input name exceeds %d characters", ErrInvalidStream, maxControlInputLength)
	}

	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidStream)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidStream, maxNameLength)
	}
	if len(s.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidStream, maxDescriptionLength)
	}

	if err := validateValidTime(s.ValidTime); err != nil {
		return err
	}

	if len(s.ParametersSchema) > 0 && !json.Valid(s.ParametersSchema) {
		return fmt.Errorf("%w: parameters schema is not valid JSON", ErrInvalidStream)
	}
	if len(s.ResultSchema) > 0 {
		if _, err := compileResultSchema(s.ResultSchema); err != nil {
			return fmt.Errorf("%w: result schema: %v", ErrInvalidStream, err)
		}
	}
	return nil
}

func validateValidTime(vt TimeExtent) error {
	if vt.Begin.IsZero() {
		return fmt.Errorf("%w: valid time begin is required", ErrInvalidStream)
	}
	// An empty period is allowed: it is what a definition superseded at its
	// own begin time is narrowed to.
	if !vt.OpenEnded && vt.End.Before(vt.Begin) {
		return fmt.Errorf("%w: valid time %s ends before it begins", ErrInvalidStream, vt)
	}
	return nil
}

// ValidateCommand checks a command before it is written.
func ValidateCommand(c *Command) error {
	if c == nil {
		return ErrInvalidCommand
	}
	if c.StreamID.ID <= 0 {
		return fmt.Errorf("%w: stream id is required", ErrInvalidCommand)
	}
	if c.IssueTime.IsZero() {
		return fmt.Errorf("%w: issue time is required", ErrInvalidCommand)
	}
	if len(c.SenderID) > maxSenderLength {
		return fmt.Errorf("%w: sender id exceeds %d characters", ErrInvalidCommand, maxSenderLength)
	}
	if len(c.Parameters) > 0 && !json.Valid(c.Parameters) {
		return fmt.Errorf("%w: parameters are not valid JSON", ErrInvalidCommand)
	}
	return nil
}

// ValidateStatus checks a command status report before it is written.
// Inline records are only checked for JSON syntax here; their layout is
// checked against the owning stream's schema by the codec.
func ValidateStatus(s *CommandStatus) error {
	if s == nil {
		return ErrInvalidStatus
	}
	if s.CommandID.ID <= 0 {
		return fmt.Errorf("%w: command id is required", ErrInvalidStatus)
	}
	if s.ReportTime.IsZero() {
		return fmt.Errorf("%w: report time is required", ErrInvalidStatus)
	}
	if _, ok := validStatusCodes[s.StatusCode]; !ok {
		return fmt.Errorf("%w: unknown status code %q", ErrInvalidStatus, s.StatusCode)
	}
	if s.Progress < ProgressUnknown || s.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidStatus, s.Progress)
	}
	if s.ExecutionTime != nil && s.ExecutionTime.Begin.IsZero() {
		return fmt.Errorf("%w: execution time begin is required", ErrInvalidStatus)
	}
	if s.ExecutionTime != nil && !s.ExecutionTime.OpenEnded && s.ExecutionTime.End.Before(s.ExecutionTime.Begin) {
		return fmt.Errorf("%w: execution time ends before it begins", ErrInvalidStatus)
	}
	if len(s.Message) > maxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidStatus, maxMessageLength)
	}

	if s.Result != nil {
		if len(s.Result.Records) > maxInlineRecords {
			return fmt.Errorf("%w: result exceeds %d inline records", ErrInvalidStatus, maxInlineRecords)
		}
		for i, rec := range s.Result.Records {
			if !json.Valid(rec) {
				return fmt.Errorf("%w: inline record %d is not valid JSON", ErrInvalidStatus, i)
			}
		}
	}
	return nil
}
