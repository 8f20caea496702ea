package tasking

import "time"

// StreamFilter selects command streams. Zero-valued fields do not constrain
// the selection; all set fields must match.
type StreamFilter struct {
	// InternalIDs restricts to these stream keys.
	InternalIDs []Key

	// SystemIDs restricts to streams of these systems.
	SystemIDs []Key

	ControlInputNames []string

	// ValidAt keeps streams whose valid time contains the instant.
	ValidAt *time.Time

	// CurrentVersionOnly keeps open-ended streams.
	CurrentVersionOnly bool

	// Intersects keeps streams whose valid time overlaps the extent.
	Intersects *TimeExtent

	// FullText matches a case-insensitive substring of name or description.
	FullText string

	// Limit caps the number of entries returned. Zero means unbounded.
	Limit int

	// ValuePredicate is applied after decoding. Rejected entries do not
	// count toward Limit.
	ValuePredicate func(*CommandStream) bool
}

// StatusFilter selects command status reports.
type StatusFilter struct {
	InternalIDs []Key
	CommandIDs  []Key

	// StreamIDs keeps reports for commands issued on these streams.
	StreamIDs []Key

	StatusCodes []StatusCode

	// ReportedAfter and ReportedBefore bound ReportTime to [after, before).
	ReportedAfter  time.Time
	ReportedBefore time.Time

	Limit          int
	ValuePredicate func(*CommandStatus) bool
}

// Field names a record member for projected selections.
type Field string

// Stream fields.
const (
	FieldSystemID         Field = "systemID"
	FieldControlInput     Field = "controlInput"
	FieldName             Field = "name"
	FieldDescription      Field = "description"
	FieldParametersSchema Field = "parametersSchema"
	FieldResultSchema     Field = "resultSchema"
	FieldEncoding         Field = "encoding"
	FieldValidTime        Field = "validTime"
)

// Status fields.
const (
	FieldCommandID     Field = "commandID"
	FieldReportTime    Field = "reportTime"
	FieldStatusCode    Field = "statusCode"
	FieldProgress      Field = "progress"
	FieldExecutionTime Field = "executionTime"
	FieldMessage       Field = "message"
	FieldResult        Field = "result"
)

// needsContext reports whether a projection requires resolving the owning stream.
func needsContext(fields []Field) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if f == FieldCommandID {
			return true
		}
	}
	return false
}

// project keeps only the requested fields. An empty projection keeps all.
func project(s *CommandStatus, fields []Field) *CommandStatus {
	if len(fields) == 0 {
		return s
	}
	out := &CommandStatus{Progress: ProgressUnknown}
	for _, f := range fields {
		switch f {
		case FieldCommandID:
			out.CommandID = s.CommandID
		case FieldReportTime:
			out.ReportTime = s.ReportTime
		case FieldStatusCode:
			out.StatusCode = s.StatusCode
		case FieldProgress:
			out.Progress = s.Progress
		case FieldExecutionTime:
			out.ExecutionTime = s.ExecutionTime
		case FieldMessage:
			out.Message = s.Message
		case FieldResult:
			out.Result = s.Result
		}
	}
	return out
}

// projectStream keeps only the requested stream fields.
func projectStream(s *CommandStream, fields []Field) *CommandStream {
	if len(fields) == 0 {
		return s
	}
	out := &CommandStream{}
	for _, f := range fields {
		switch f {
		case FieldSystemID:
			out.SystemID = s.SystemID
		case FieldControlInput:
			out.ControlInputName = s.ControlInputName
		case FieldName:
			out.Name = s.Name
		case FieldDescription:
			out.Description = s.Description
		case FieldParametersSchema:
			out.ParametersSchema = s.ParametersSchema
		case FieldResultSchema:
			out.ResultSchema = s.ResultSchema
		case FieldEncoding:
			out.Encoding = s.Encoding
		case FieldValidTime:
			out.ValidTime = s.ValidTime
		}
	}
	return out
}
