package token

import (
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/jtree"
)

// LocatedOptions configures NewLocatedReader.
type LocatedOptions struct {
	AllowComments       bool // accept // and /* */ comments
	AllowTrailingCommas bool // accept a comma before } and ]
}

type tapeEntry struct {
	kind Kind
	text string
	b    bool
	pos  Position
}

// LocatedReader is a Reader over jtree that reports the line and column of
// every token. Each top-level value is parsed in full before its first token
// is delivered; a syntax error is reported after the tokens preceding it.
type LocatedReader struct {
	stream *jtree.Stream

	tape  []tapeEntry
	next  int
	cur   tapeEntry
	index int
	// pending is the parse error to report once the tape is drained.
	pending error
	err     error
	done    bool
}

// NewLocatedReader returns a Reader for r that tracks source positions.
func NewLocatedReader(r io.Reader, opts LocatedOptions) *LocatedReader {
	s := jtree.NewStream(r)
	s.AllowComments(opts.AllowComments)
	s.AllowTrailingCommas(opts.AllowTrailingCommas)
	return &LocatedReader{
		stream: s,
		cur:    tapeEntry{kind: None, pos: Position{Offset: -1}},
	}
}

// Next implements Reader.
func (l *LocatedReader) Next() (Kind, error) {
	if l.err != nil {
		return l.cur.kind, l.err
	}
	for l.next >= len(l.tape) {
		if l.pending != nil {
			l.err = l.pending
			return l.cur.kind, l.err
		}
		if l.done {
			l.cur = tapeEntry{kind: EOF, pos: l.cur.pos}
			return EOF, nil
		}
		l.fill()
	}
	l.cur = l.tape[l.next]
	l.next++
	return l.cur.kind, nil
}

// fill parses the next top-level value onto the tape.
func (l *LocatedReader) fill() {
	l.tape, l.next = l.tape[:0], 0
	h := &recorder{l: l}
	err := l.stream.ParseOne(h)
	switch {
	case err == nil:
	case err == io.EOF && len(l.tape) == 0:
		l.done = true
	default:
		l.pending = l.syntaxError(err)
		l.done = true
	}
}

func (l *LocatedReader) syntaxError(err error) error {
	var serr *jtree.SyntaxError
	if errors.As(err, &serr) {
		pos := Position{
			Offset: -1,
			Line:   serr.Location.Line,
			Column: serr.Location.Column + 1,
			Index:  l.index,
		}
		if errors.Is(serr, io.EOF) || errors.Is(serr, io.ErrUnexpectedEOF) {
			return &SyntaxError{Pos: pos, Err: ErrUnexpectedEOF}
		}
		return &SyntaxError{Pos: pos, Err: errors.New(serr.Message)}
	}
	return &SyntaxError{Pos: Position{Offset: -1, Index: l.index}, Err: err}
}

func (l *LocatedReader) push(kind Kind, text string, b bool, a jtree.Anchor) {
	loc := a.Location()
	l.tape = append(l.tape, tapeEntry{
		kind: kind,
		text: text,
		b:    b,
		pos: Position{
			Offset: int64(loc.Pos),
			Line:   loc.First.Line,
			Column: loc.First.Column + 1,
			Index:  l.index,
		},
	})
	l.index++
}

// Kind implements Reader.
func (l *LocatedReader) Kind() Kind { return l.cur.kind }

// Text implements Reader.
func (l *LocatedReader) Text() string { return l.cur.text }

// Bool implements Reader.
func (l *LocatedReader) Bool() bool { return l.cur.b }

// Pos implements Reader.
func (l *LocatedReader) Pos() Position {
	var serr *SyntaxError
	if errors.As(l.err, &serr) {
		return serr.Pos
	}
	return l.cur.pos
}

// recorder is the jtree.Handler that appends tokens to the tape.
type recorder struct{ l *LocatedReader }

func (h *recorder) BeginObject(a jtree.Anchor) error { h.l.push(BeginObject, "", false, a); return nil }
func (h *recorder) EndObject(a jtree.Anchor) error   { h.l.push(EndObject, "", false, a); return nil }
func (h *recorder) BeginArray(a jtree.Anchor) error  { h.l.push(BeginArray, "", false, a); return nil }
func (h *recorder) EndArray(a jtree.Anchor) error    { h.l.push(EndArray, "", false, a); return nil }
func (h *recorder) EndMember(jtree.Anchor) error     { return nil }
func (h *recorder) EndOfInput(jtree.Anchor)          {}

func (h *recorder) BeginMember(a jtree.Anchor) error {
	key, err := jtree.Unquote(string(a.Text()))
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}
	h.l.push(FieldName, string(key), false, a)
	return nil
}

func (h *recorder) Value(a jtree.Anchor) error {
	switch a.Token() {
	case jtree.String:
		s, err := jtree.Unquote(string(a.Text()))
		if err != nil {
			return fmt.Errorf("invalid string: %w", err)
		}
		h.l.push(String, string(s), false, a)
	case jtree.Integer, jtree.Number:
		h.l.push(Number, string(a.Copy()), false, a)
	case jtree.True:
		h.l.push(Bool, "", true, a)
	case jtree.False:
		h.l.push(Bool, "", false, a)
	case jtree.Null:
		h.l.push(Null, "", false, a)
	default:
		return fmt.Errorf("unexpected token %v", a.Token())
	}
	return nil
}
