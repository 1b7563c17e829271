package state

import (
	"errors"
	"fmt"
)

// Validation errors for the state package.
//
// Patch failures are always returned as a *FieldError wrapping one of these,
// so callers can branch with errors.Is:
//
//	if errors.Is(err, state.ErrEmptyField) {
//	    // report which field was blank
//	}
var (
	// ErrInvalidValue is returned when a value cannot be coerced to the
	// field's type or falls outside the field's declared domain.
	ErrInvalidValue = errors.New("state: invalid value")

	// ErrEmptyField is returned when a required string is blank after trimming.
	ErrEmptyField = errors.New("state: empty field")

	// ErrInvalidEnum is returned when a value is not one of a field's allowed values.
	ErrInvalidEnum = errors.New("state: invalid enum value")
)

// FieldError describes why a single field of a patch was rejected.
type FieldError struct {
	Field  string // JSON field name, e.g. "wake_word"
	Reason string // human-readable constraint that failed
	Err    error  // one of the sentinel errors above
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// fieldErr builds a *FieldError.
func fieldErr(field string, sentinel error, format string, args ...any) *FieldError {
	return &FieldError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
		Err:    sentinel,
	}
}
