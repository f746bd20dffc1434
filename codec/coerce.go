package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/schema"
)

var errNotIntegral = errors.New("non-integer numeric for integer field")

// bitSize reports the width an integer or float field is narrowed to.
func bitSize(pt schema.PrimitiveType) int {
	switch pt {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32,
		schema.TypeUint32, schema.TypeFixed32, schema.TypeFloat:
		return 32
	}
	return 64
}

// parseInt narrows the text of a number token to a signed integer of the
// given width. Integral values in exponent or fraction form, like 1e3 or
// 2.0, are accepted.
func parseInt(text string, bits int) (int64, error) {
	if !strings.ContainsAny(text, ".eE") {
		return strconv.ParseInt(text, 10, bits)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errNotIntegral
	}
	limit := math.Ldexp(1, bits-1)
	if f < -limit || f >= limit {
		return 0, fmt.Errorf("%s out of range for int%d", text, bits)
	}
	return int64(f), nil
}

// parseUint is parseInt for unsigned fields.
func parseUint(text string, bits int) (uint64, error) {
	if !strings.ContainsAny(text, ".eE") {
		return strconv.ParseUint(text, 10, bits)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errNotIntegral
	}
	if f < 0 || f >= math.Ldexp(1, bits) {
		return 0, fmt.Errorf("%s out of range for uint%d", text, bits)
	}
	return uint64(f), nil
}

// parseFloat narrows a number token to the field width. Values that overflow
// a float field are errors rather than infinities.
func parseFloat(text string, bits int) (float64, error) {
	return strconv.ParseFloat(text, bits)
}

// specialFloat decodes the string forms non-finite floats are written as.
func specialFloat(s string) (float64, bool) {
	switch s {
	case "NaN":
		return math.NaN(), true
	case "Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	return 0, false
}

// decodeBase64 accepts the standard and URL-safe alphabets, with or without
// padding.
func decodeBase64(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if len(s)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	return enc.DecodeString(s)
}

// scalarValue converts number text into the value kind of a numeric field.
func scalarValue(f *schema.Field, text string) (message.Value, error) {
	bits := bitSize(f.Type.PrimitiveType)
	switch message.KindFor(f.Type) {
	case message.IntKind:
		n, err := parseInt(text, bits)
		return message.ValueOfInt(n), err
	case message.UintKind:
		n, err := parseUint(text, bits)
		return message.ValueOfUint(n), err
	case message.FloatKind:
		x, err := parseFloat(text, bits)
		return message.ValueOfFloat(x), err
	}
	return message.Value{}, fmt.Errorf("field type %s is not numeric", f.Type.PrimitiveType)
}
