package schema

import (
	"errors"
	"fmt"
)

// ErrSetup marks a misdeclared type or field: every error wrapping it is a
// programming mistake caught at registration, never a data problem.
var ErrSetup = errors.New("schema setup")

// Setupf builds a registration error wrapping ErrSetup.
func Setupf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSetup, fmt.Sprintf(format, args...))
}

// ValidationError reports a value rejected by a type expectation or a
// validation hook. Its message is written for end-user display: it names
// the field and the reason, never internal detail.
type ValidationError struct {
	// Identity is the registered identity of the record being validated,
	// when known.
	Identity string

	// Field is the wire name of the offending field, empty for
	// whole-value failures.
	Field string

	// Reason says what was wrong with the value.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Identity != "" && e.Field != "":
		return fmt.Sprintf("%s.%s: %s", e.Identity, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	case e.Identity != "":
		return fmt.Sprintf("%s: %s", e.Identity, e.Reason)
	}
	return e.Reason
}

// Invalidf builds a ValidationError without field context.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// fieldErr attaches identity and field context to a validation failure,
// preserving an existing ValidationError's reason.
func fieldErr(identity, field string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		out := *ve
		if out.Identity == "" {
			out.Identity = identity
		}
		if out.Field == "" {
			out.Field = field
		}
		return &out
	}
	return &ValidationError{Identity: identity, Field: field, Reason: err.Error()}
}
