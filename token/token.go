// Package token provides the JSON token streams the codec reads from and
// writes to.
//
// A Reader is a pull cursor: Next advances one token and the accessors
// describe the current one. Two drivers are provided. NewDecoder streams
// tokens from goccy/go-json; NewLocatedReader parses with jtree and reports
// line and column positions. Writer is the matching sink.
package token

import (
	"errors"
	"fmt"
)

// Kind identifies the type of the current token.
type Kind int

const (
	// None is the kind of a reader that has not been advanced yet.
	None Kind = iota
	BeginObject
	EndObject
	BeginArray
	EndArray
	FieldName
	String
	Number
	Bool
	Null
	// EOF is reported once the input holds no further values.
	EOF
)

var kindNames = [...]string{
	None:        "none",
	BeginObject: "object-start",
	EndObject:   "object-end",
	BeginArray:  "array-start",
	EndArray:    "array-end",
	FieldName:   "field-name",
	String:      "string",
	Number:      "number",
	Bool:        "bool",
	Null:        "null",
	EOF:         "end of input",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsScalar reports whether k is a single-token value.
func (k Kind) IsScalar() bool {
	switch k {
	case String, Number, Bool, Null:
		return true
	}
	return false
}

// Position locates a token in the input. Drivers fill in what they know:
// Index is always set; Line and Column are zero when unknown; Offset is -1
// when unknown.
type Position struct {
	Offset int64 // byte offset, 0-based
	Line   int   // 1-based
	Column int   // 1-based byte column
	Index  int   // token index, 0-based
}

func (p Position) String() string {
	switch {
	case p.Line > 0:
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	case p.Offset >= 0:
		return fmt.Sprintf("offset %d", p.Offset)
	}
	return fmt.Sprintf("token %d", p.Index)
}

// Reader is a cursor over a JSON token stream.
//
// A Reader is not safe for concurrent use.
type Reader interface {
	// Next advances to the next token and reports its kind. Once Next
	// reports an error, every later call reports the same error.
	Next() (Kind, error)

	// Kind reports the kind of the current token, None before the first
	// call to Next.
	Kind() Kind

	// Text reports the unquoted text of a FieldName or String token, or the
	// literal text of a Number token.
	Text() string

	// Bool reports the value of a Bool token.
	Bool() bool

	// Pos reports the position of the current token, or of the error once
	// Next has failed.
	Pos() Position
}

// ErrUnexpectedEOF is wrapped by errors for input that ends inside an object
// or array.
var ErrUnexpectedEOF = errors.New("unexpected end of input")

// SyntaxError reports malformed or truncated input.
type SyntaxError struct {
	Pos Position
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: %v", e.Pos, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }
