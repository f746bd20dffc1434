package token

import (
	"bufio"
	"encoding/base64"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/creachadair/jtree"
)

// Writer is a sink for JSON tokens. Separators are inserted by the writer;
// callers only emit structure, names and values.
type Writer interface {
	BeginObject() error
	EndObject() error
	BeginArray() error
	EndArray() error
	FieldName(name string) error
	String(s string) error
	Bool(b bool) error
	Int(n int64) error
	Uint(n uint64) error
	// Float writes f rounded to bitSize (32 or 64). Non-finite values are
	// written as the strings "NaN", "Infinity" and "-Infinity".
	Float(f float64, bitSize int) error
	// Binary writes b as a base64 string, standard alphabet with padding.
	Binary(b []byte) error
	Null() error
	Flush() error
}

// ErrMisuse is returned for a token that is not valid at the current point,
// such as a field name inside an array.
var ErrMisuse = errors.New("token out of place")

type writeFrame struct {
	object bool
	count  int
}

// JSONWriter is the Writer that writes JSON text to an io.Writer.
type JSONWriter struct {
	w      *bufio.Writer
	indent string

	stack     []writeFrame
	afterName bool
	values    int // top-level values written
	scratch   []byte
}

// NewWriter returns a Writer on w. A non-empty indent pretty-prints the
// output with that string repeated per nesting level. Top-level values are
// separated by newlines. Call Flush when done.
func NewWriter(w io.Writer, indent string) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriter(w), indent: indent}
}

// prefix writes the separator that precedes a value.
func (j *JSONWriter) prefix() error {
	if j.afterName {
		j.afterName = false
		return nil
	}
	n := len(j.stack)
	if n == 0 {
		if j.values > 0 {
			j.w.WriteByte('\n')
		}
		j.values++
		return nil
	}
	top := &j.stack[n-1]
	if top.object {
		return ErrMisuse
	}
	if top.count > 0 {
		j.w.WriteByte(',')
	}
	top.count++
	j.newline(n)
	return nil
}

func (j *JSONWriter) newline(depth int) {
	if j.indent == "" {
		return
	}
	j.w.WriteByte('\n')
	j.w.WriteString(strings.Repeat(j.indent, depth))
}

func (j *JSONWriter) begin(object bool, open byte) error {
	if err := j.prefix(); err != nil {
		return err
	}
	j.stack = append(j.stack, writeFrame{object: object})
	return j.w.WriteByte(open)
}

func (j *JSONWriter) end(object bool, close byte) error {
	n := len(j.stack)
	if n == 0 || j.stack[n-1].object != object || j.afterName {
		return ErrMisuse
	}
	top := j.stack[n-1]
	j.stack = j.stack[:n-1]
	if top.count > 0 {
		j.newline(n - 1)
	}
	return j.w.WriteByte(close)
}

// BeginObject implements Writer.
func (j *JSONWriter) BeginObject() error { return j.begin(true, '{') }

// EndObject implements Writer.
func (j *JSONWriter) EndObject() error { return j.end(true, '}') }

// BeginArray implements Writer.
func (j *JSONWriter) BeginArray() error { return j.begin(false, '[') }

// EndArray implements Writer.
func (j *JSONWriter) EndArray() error { return j.end(false, ']') }

// FieldName implements Writer.
func (j *JSONWriter) FieldName(name string) error {
	n := len(j.stack)
	if n == 0 || !j.stack[n-1].object || j.afterName {
		return ErrMisuse
	}
	top := &j.stack[n-1]
	if top.count > 0 {
		j.w.WriteByte(',')
	}
	top.count++
	j.newline(n)
	j.w.WriteString(jtree.Quote(name))
	j.w.WriteByte(':')
	if j.indent != "" {
		j.w.WriteByte(' ')
	}
	j.afterName = true
	return nil
}

func (j *JSONWriter) raw(b []byte) error {
	if err := j.prefix(); err != nil {
		return err
	}
	_, err := j.w.Write(b)
	return err
}

// String implements Writer.
func (j *JSONWriter) String(s string) error { return j.raw([]byte(jtree.Quote(s))) }

// Bool implements Writer.
func (j *JSONWriter) Bool(b bool) error {
	return j.raw(strconv.AppendBool(j.scratch[:0], b))
}

// Int implements Writer.
func (j *JSONWriter) Int(n int64) error {
	return j.raw(strconv.AppendInt(j.scratch[:0], n, 10))
}

// Uint implements Writer.
func (j *JSONWriter) Uint(n uint64) error {
	return j.raw(strconv.AppendUint(j.scratch[:0], n, 10))
}

// Float implements Writer.
func (j *JSONWriter) Float(f float64, bitSize int) error {
	if bitSize == 32 {
		f = float64(float32(f))
	}
	switch {
	case math.IsNaN(f):
		return j.String("NaN")
	case math.IsInf(f, 1):
		return j.String("Infinity")
	case math.IsInf(f, -1):
		return j.String("-Infinity")
	}
	if bitSize != 32 {
		bitSize = 64
	}
	return j.raw(strconv.AppendFloat(j.scratch[:0], f, 'g', -1, bitSize))
}

// Binary implements Writer.
func (j *JSONWriter) Binary(b []byte) error {
	return j.String(base64.StdEncoding.EncodeToString(b))
}

// Null implements Writer.
func (j *JSONWriter) Null() error { return j.raw([]byte("null")) }

// Flush implements Writer.
func (j *JSONWriter) Flush() error { return j.w.Flush() }
