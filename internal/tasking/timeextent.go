package tasking

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeExtent is a half-open interval [Begin, End).
//
// When OpenEnded is set End is ignored and the interval runs until it is
// superseded. Times are kept in UTC at microsecond precision, which is what
// the backends store.
type TimeExtent struct {
	Begin     time.Time
	End       time.Time
	OpenEnded bool
}

// NewTimeExtent returns the bounded interval [begin, end).
func NewTimeExtent(begin, end time.Time) TimeExtent {
	return TimeExtent{Begin: normalizeTime(begin), End: normalizeTime(end)}
}

// OpenEndedFrom returns the interval [begin, now-and-onwards).
func OpenEndedFrom(begin time.Time) TimeExtent {
	return TimeExtent{Begin: normalizeTime(begin), OpenEnded: true}
}

// IsEmpty reports whether the interval contains no instant.
// Open-ended intervals are never empty.
func (e TimeExtent) IsEmpty() bool {
	return !e.OpenEnded && !e.End.After(e.Begin)
}

// Contains reports whether t falls inside the interval.
func (e TimeExtent) Contains(t time.Time) bool {
	if t.Before(e.Begin) {
		return false
	}
	return e.OpenEnded || t.Before(e.End)
}

// Overlaps reports whether the two intervals share at least one instant.
// Empty intervals overlap nothing.
func (e TimeExtent) Overlaps(o TimeExtent) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.startsBeforeEndOf(o) && o.startsBeforeEndOf(e)
}

func (e TimeExtent) startsBeforeEndOf(o TimeExtent) bool {
	return o.OpenEnded || e.Begin.Before(o.End)
}

// Equal reports whether both intervals describe the same instants.
func (e TimeExtent) Equal(o TimeExtent) bool {
	if !e.Begin.Equal(o.Begin) || e.OpenEnded != o.OpenEnded {
		return false
	}
	return e.OpenEnded || e.End.Equal(o.End)
}

// String renders the interval in ISO 8601 form, "now" standing in for an open end.
func (e TimeExtent) String() string {
	end := "now"
	if !e.OpenEnded {
		end = e.End.Format(time.RFC3339Nano)
	}
	return e.Begin.Format(time.RFC3339Nano) + "/" + end
}

// normalized returns a copy at storage precision.
func (e TimeExtent) normalized() TimeExtent {
	n := TimeExtent{Begin: normalizeTime(e.Begin), OpenEnded: e.OpenEnded}
	if !e.OpenEnded {
		n.End = normalizeTime(e.End)
	}
	return n
}

// beginMicros and endMicros give the column values for the interval bounds.
func (e TimeExtent) beginMicros() int64 {
	return e.Begin.UnixMicro()
}

func (e TimeExtent) endMicros() any {
	if e.OpenEnded {
		return nil
	}
	return e.End.UnixMicro()
}

type timeExtentJSON struct {
	Begin time.Time  `json:"begin"`
	End   *time.Time `json:"end,omitempty"`
}

// MarshalJSON encodes an open end by omitting "end".
func (e TimeExtent) MarshalJSON() ([]byte, error) {
	doc := timeExtentJSON{Begin: e.Begin.UTC()}
	if !e.OpenEnded {
		end := e.End.UTC()
		doc.End = &end
	}
	return json.Marshal(doc)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *TimeExtent) UnmarshalJSON(data []byte) error {
	var doc timeExtentJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding time extent: %w", err)
	}
	e.Begin = normalizeTime(doc.Begin)
	e.OpenEnded = doc.End == nil
	e.End = time.Time{}
	if doc.End != nil {
		e.End = normalizeTime(*doc.End)
	}
	return nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Microsecond)
}
