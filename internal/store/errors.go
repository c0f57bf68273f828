package store

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update lost a race, e.g. two
// concurrent revocations of the same key. The end state is already what the
// caller asked for, so retrying is safe.
var ErrConflict = errors.New("conflicting concurrent update")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")
