package tasking

import (
	"errors"
	"fmt"
)

// Domain errors for the tasking package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, tasking.ErrFullOverlap) {
//	    // reject the request upstream
//	}
var (
	// ErrFullOverlap is returned by StreamStore.Add when the new stream
	// begins before an existing definition it would overlap. No row is
	// written in that case.
	ErrFullOverlap = errors.New("tasking: validity period fully overlaps an existing command stream")

	// ErrWrongScope is returned when a key belongs to another store's namespace.
	ErrWrongScope = errors.New("tasking: key belongs to another scope")

	// ErrKeyNotFound is returned by writes that require an existing row.
	ErrKeyNotFound = errors.New("tasking: key not found")

	// ErrInvalidStream is returned when command stream validation fails.
	ErrInvalidStream = errors.New("tasking: invalid command stream")

	// ErrInvalidCommand is returned when command validation fails.
	ErrInvalidCommand = errors.New("tasking: invalid command")

	// ErrInvalidStatus is returned when command status validation fails.
	ErrInvalidStatus = errors.New("tasking: invalid command status")

	// ErrInvalidRecord is returned when an inline result record does not
	// match the owning stream's result schema.
	ErrInvalidRecord = errors.New("tasking: inline record does not match result schema")

	// ErrBackend matches every failure of the database or codec.
	ErrBackend = errors.New("tasking: backend failure")
)

// StoreError reports a backend or codec failure for one operation.
//
// Its message names the operation and key but not the driver's own text;
// the cause stays reachable through errors.As and errors.Unwrap.
type StoreError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreError) Error() string {
	if e.Key.IsZero() {
		return fmt.Sprintf("tasking: %s failed", e.Op)
	}
	return fmt.Sprintf("tasking: %s %s failed", e.Op, e.Key)
}

// Unwrap exposes both ErrBackend and the underlying cause.
func (e *StoreError) Unwrap() []error {
	return []error{ErrBackend, e.Err}
}

func backendError(op string, key Key, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}
