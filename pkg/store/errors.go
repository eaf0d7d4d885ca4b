package store

import "errors"

var (
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means a conditional update matched zero rows: the record
	// was not in the expected state, typically because a concurrent request
	// got there first.
	ErrConflict = errors.New("record not in expected state")
)
