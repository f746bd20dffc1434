package codec

import (
	"errors"
	"fmt"

	"github.com/anirudhraja/protobridge/token"
)

// Skip consumes the JSON value at the current token of in, however deeply
// nested, and leaves in on the value's last token. Objects and arrays are
// tracked with a depth counter rather than recursion.
func Skip(in token.Reader) error {
	switch kind := in.Kind(); kind {
	case token.String, token.Number, token.Bool, token.Null:
		return nil
	case token.BeginObject, token.BeginArray:
	default:
		return structuralf(in, "", "expected a value, got %s", kind)
	}

	depth := 1
	for depth > 0 {
		kind, err := in.Next()
		if err != nil {
			return streamError(in, "", err)
		}
		switch kind {
		case token.BeginObject, token.BeginArray:
			depth++
		case token.EndObject, token.EndArray:
			depth--
		case token.EOF:
			return structuralf(in, "", "unterminated structure")
		}
	}
	return nil
}

func structuralf(in token.Reader, typeName, format string, args ...any) *Error {
	pos := in.Pos()
	return &Error{Kind: Structural, Pos: &pos, Type: typeName, Msg: fmt.Sprintf(format, args...)}
}

// streamError converts a failure of the token stream into a Structural error.
func streamError(in token.Reader, typeName string, err error) *Error {
	e := structuralf(in, typeName, "malformed input")
	if errors.Is(err, token.ErrUnexpectedEOF) {
		e.Msg = "unterminated structure"
	}
	e.Err = err
	return e
}
