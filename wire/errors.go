package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed reports bytes that are not valid protobuf wire data.
	ErrMalformed = errors.New("malformed wire data")

	// ErrDepth reports nesting deeper than the decoder allows.
	ErrDepth = errors.New("maximum nesting depth exceeded")

	// ErrUnencodable reports a value that does not fit its field type.
	ErrUnencodable = errors.New("value cannot be encoded")
)

// FieldError represents an encoding/decoding error with a field path.
type FieldError struct {
	FieldPath []string // e.g. ["phone", "[1]", "type"]
	Err       error    // underlying error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if len(e.FieldPath) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("error at proto path %s: %v", e.Path(), e.Err)
}

// Path renders the field path as "phone[1].type".
func (e *FieldError) Path() string {
	var sb strings.Builder
	for i, p := range e.FieldPath {
		if i > 0 && !strings.HasPrefix(p, "[") {
			sb.WriteByte('.')
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for compatibility.
func (e *FieldError) Is(target error) bool {
	_, ok := target.(*FieldError)
	return ok
}

// wrapWithField wraps an error with a field name
func wrapWithField(err error, fieldName string) error {
	if err == nil {
		return nil
	}

	var fe *FieldError
	if errors.As(err, &fe) {
		return &FieldError{
			FieldPath: append([]string{fieldName}, fe.FieldPath...),
			Err:       fe.Err,
		}
	}

	return &FieldError{
		FieldPath: []string{fieldName},
		Err:       err,
	}
}

func wrapWithIndex(err error, i int) error {
	return wrapWithField(err, fmt.Sprintf("[%d]", i))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
