// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrNotEligible means the record exists but is not in the status the
	// requested transition needs.
	ErrNotEligible = errors.New("not eligible")
	// ErrExists means the id is taken, now or in the past.
	ErrExists = errors.New("already exists")
)

// CollaboratorError wraps a failure of an external operation
// (speech recognition, summarization, indexing).
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// PersistenceError wraps a record store write that did not commit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
