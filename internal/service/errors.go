package service

import (
	"errors"
	"fmt"

	"github.com/keywarden/keywarden/internal/store"
)

// Sentinel errors surfaced by administrative operations. Authorization-path
// failures never use these: verification returns a uniform Decision instead,
// so a caller probing with stolen credentials learns nothing.
var (
	ErrNotFound = store.ErrNotFound
	// ErrConflict means a state transition lost a race (e.g. double revoke).
	// The end state is already what was requested, so retrying is safe.
	ErrConflict = store.ErrConflict
)

// ValidationError marks a malformed request, rejected before any persistence,
// with the offending field named for the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PolicyViolationError marks a request that exceeds the owning tenant's
// policy. The violated limit is named so the caller can correct the request.
type PolicyViolationError struct {
	Limit   string
	Message string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Limit, e.Message)
}

func policyViolationf(limit, format string, args ...any) error {
	return &PolicyViolationError{Limit: limit, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a field-level validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPolicyViolation reports whether err is a tenant-policy rejection.
func IsPolicyViolation(err error) bool {
	var pe *PolicyViolationError
	return errors.As(err, &pe)
}
