package token

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/tailscale/hujson"
)

var errMismatchedCloser = errors.New("mismatched closing delimiter")

type containerKind int

const (
	kindObject containerKind = iota
	kindArray
)

type frame struct {
	kind         containerKind
	expectingKey bool
}

// Decoder is a streaming Reader over goccy/go-json. Input is split into
// top-level values; each value is checked against the JSON grammar before its
// tokens are returned. Keys are told apart from string values by tracking the
// enclosing containers.
type Decoder struct {
	src   *gojson.Decoder
	dec   *gojson.Decoder // tokens of the current top-level value
	stack []frame

	kind  Kind
	text  string
	b     bool
	index int
	err   error
}

// NewDecoder returns a streaming Reader for r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{src: gojson.NewDecoder(r), index: -1}
}

// NewRelaxedDecoder returns a streaming Reader for JWCC input: JSON with
// comments and trailing commas. The input is read in full and standardized
// before decoding.
func NewRelaxedDecoder(r io.Reader) (*Decoder, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	std, err := hujson.Standardize(src)
	if err != nil {
		return nil, &SyntaxError{Pos: Position{Offset: -1}, Err: err}
	}
	return NewDecoder(bytes.NewReader(std)), nil
}

// Next implements Reader.
func (d *Decoder) Next() (Kind, error) {
	if d.err != nil {
		return d.kind, d.err
	}
	if d.kind == EOF {
		return EOF, nil
	}
	d.index++
	if d.dec == nil {
		if err := d.nextValue(); err != nil {
			if errors.Is(err, io.EOF) {
				d.kind = EOF
				return EOF, nil
			}
			return d.fail(err)
		}
	}
	tok, err := d.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrUnexpectedEOF
		}
		return d.fail(err)
	}

	d.text, d.b = "", false
	switch v := tok.(type) {
	case gojson.Delim:
		switch v {
		case '{':
			d.stack = append(d.stack, frame{kind: kindObject, expectingKey: true})
			d.kind = BeginObject
			return d.kind, nil
		case '[':
			d.stack = append(d.stack, frame{kind: kindArray})
			d.kind = BeginArray
			return d.kind, nil
		case '}':
			if err := d.pop(kindObject); err != nil {
				return d.fail(err)
			}
			d.kind = EndObject
		case ']':
			if err := d.pop(kindArray); err != nil {
				return d.fail(err)
			}
			d.kind = EndArray
		default:
			return d.fail(fmt.Errorf("unexpected delimiter %q", rune(v)))
		}
	case string:
		if n := len(d.stack); n > 0 {
			if top := &d.stack[n-1]; top.kind == kindObject && top.expectingKey {
				top.expectingKey = false
				d.kind, d.text = FieldName, v
				return d.kind, nil
			}
		}
		d.kind, d.text = String, v
	case gojson.Number:
		d.kind, d.text = Number, string(v)
	case float64:
		d.kind, d.text = Number, strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		d.kind, d.b = Bool, v
	case nil:
		d.kind = Null
	default:
		return d.fail(fmt.Errorf("unexpected token %T", tok))
	}
	d.valueDone()
	if len(d.stack) == 0 {
		d.dec = nil
	}
	return d.kind, nil
}

// nextValue reads the next top-level value and checks it is well formed.
// It returns io.EOF when only whitespace remains.
func (d *Decoder) nextValue() error {
	var raw gojson.RawMessage
	if err := d.src.Decode(&raw); err != nil {
		var serr *gojson.SyntaxError
		if errors.As(err, &serr) && strings.HasSuffix(serr.Error(), "unexpected end of JSON input") {
			return ErrUnexpectedEOF
		}
		return err
	}
	check := gojson.NewDecoder(bytes.NewReader(raw))
	check.UseNumber()
	var v any
	if err := check.Decode(&v); err != nil {
		return err
	}
	d.dec = gojson.NewDecoder(bytes.NewReader(raw))
	d.dec.UseNumber()
	return nil
}

func (d *Decoder) pop(kind containerKind) error {
	n := len(d.stack)
	if n == 0 || d.stack[n-1].kind != kind {
		return errMismatchedCloser
	}
	d.stack = d.stack[:n-1]
	return nil
}

// valueDone marks the end of a member value in the enclosing object.
func (d *Decoder) valueDone() {
	if n := len(d.stack); n > 0 {
		if top := &d.stack[n-1]; top.kind == kindObject && !top.expectingKey {
			top.expectingKey = true
		}
	}
}

func (d *Decoder) fail(err error) (Kind, error) {
	d.err = &SyntaxError{Pos: d.Pos(), Err: err}
	return d.kind, d.err
}

// Kind implements Reader.
func (d *Decoder) Kind() Kind { return d.kind }

// Text implements Reader.
func (d *Decoder) Text() string { return d.text }

// Bool implements Reader.
func (d *Decoder) Bool() bool { return d.b }

// Pos implements Reader. The streaming driver only knows token indexes.
func (d *Decoder) Pos() Position { return Position{Offset: -1, Index: max(d.index, 0)} }
