package tasking

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a record within one store's namespace.
//
// Scope is fixed per store instance; ID is assigned by the backend on insert.
type Key struct {
	Scope uint32 `json:"scope"`
	ID    int64  `json:"id"`
}

// NewKey returns the key for id in scope.
func NewKey(scope uint32, id int64) Key {
	return Key{Scope: scope, ID: id}
}

// IsZero reports whether the key has never been assigned.
func (k Key) IsZero() bool {
	return k.ID == 0
}

// String renders the key as "scope:id".
func (k Key) String() string {
	return strconv.FormatUint(uint64(k.Scope), 10) + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseKey parses the "scope:id" form produced by String.
func ParseKey(s string) (Key, error) {
	scopePart, idPart, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("parsing key %q: missing scope separator", s)
	}
	scope, err := strconv.ParseUint(scopePart, 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("parsing key scope %q: %w", scopePart, err)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("parsing key id %q: %w", idPart, err)
	}
	if id <= 0 {
		return Key{}, fmt.Errorf("parsing key %q: id must be positive", s)
	}
	return Key{Scope: uint32(scope), ID: id}, nil
}
