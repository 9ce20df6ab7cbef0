package port

import (
	"errors"
	"fmt"
)

// Storage-level error kinds shared by all adapters. Core services translate
// these into their domain-specific errors where needed.
var (
	// ErrNotFound indicates the requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness violation (e.g. a second sale
	// for the same prescription)
	ErrAlreadyExists = errors.New("already exists")

	// ErrConcurrencyConflict indicates a lost optimistic-lock race or a
	// serialization failure; callers may retry the whole unit of work
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// PersistenceError wraps a storage failure that aborted a unit of work,
// typically a failed commit
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
