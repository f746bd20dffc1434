package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anirudhraja/protobridge/token"
)

// ErrorKind classifies conversion failures.
type ErrorKind int

const (
	// Structural errors report input that does not have the expected token
	// shape: a missing object-start, field name or array-start, or input
	// that ends inside a value.
	Structural ErrorKind = iota + 1
	// Semantic errors report well-formed input with a value the field cannot
	// hold: an unknown enum value, a token of the wrong type, a number out
	// of range.
	Semantic
	// Schema errors report a type the registry cannot resolve or build.
	Schema
	// Serialization errors report a message value that cannot be written.
	Serialization
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrStructural    = errors.New("structural parse error")
	ErrSemantic      = errors.New("semantic parse error")
	ErrSchema        = errors.New("schema error")
	ErrSerialization = errors.New("serialization error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case Structural:
		return ErrStructural
	case Semantic:
		return ErrSemantic
	case Schema:
		return ErrSchema
	case Serialization:
		return ErrSerialization
	}
	return nil
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error returned by Reader and Writer.
type Error struct {
	Kind ErrorKind
	// Pos is the input position of a read error, nil for write errors.
	Pos *token.Position
	// Path lists the fields from the outermost message down to the failing
	// one; list elements appear as "[i]".
	Path []string
	// Type is the message type being read or written when the error occurred.
	Type string
	Msg  string
	Err  error // underlying cause, if any
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Pos != nil {
		sb.WriteString(" at ")
		sb.WriteString(e.Pos.String())
	}
	if e.Type != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Type)
	}
	if len(e.Path) > 0 {
		sb.WriteString(" (field ")
		sb.WriteString(e.FieldPath())
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// FieldPath renders Path as "phone[1].number".
func (e *Error) FieldPath() string {
	var sb strings.Builder
	for i, p := range e.Path {
		if i > 0 && !strings.HasPrefix(p, "[") {
			sb.WriteByte('.')
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error { return e.Err }

// withField prefixes the path of a codec error with a field name.
func withField(err error, name string) error {
	var ce *Error
	if errors.As(err, &ce) {
		ce.Path = append([]string{name}, ce.Path...)
		return ce
	}
	return err
}

func withIndex(err error, i int) error {
	return withField(err, fmt.Sprintf("[%d]", i))
}
