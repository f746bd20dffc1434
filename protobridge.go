// Package protobridge converts schema-described protobuf messages to and from
// JSON and the protobuf binary format without generated code.
package protobridge

import (
	"bytes"
	"fmt"
	"io"

	"github.com/anirudhraja/protobridge/codec"
	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/registry"
	"github.com/anirudhraja/protobridge/token"
	"github.com/anirudhraja/protobridge/wire"
)

// InputMode selects the JSON token driver used for reading.
type InputMode string

const (
	// Located parses each top-level value with jtree and reports line and
	// column positions in errors.
	Located InputMode = "located"
	// Streaming reads and validates each top-level value with goccy/go-json;
	// positions are token indexes.
	Streaming InputMode = "streaming"
)

// Options configures a Bridge. The zero value reads with the Located driver
// and writes compact JSON.
type Options struct {
	Input InputMode
	// Relaxed accepts comments and trailing commas in JSON input.
	Relaxed bool
	// Indent pretty-prints JSON output when non-empty.
	Indent string
	Codec  codec.Options
}

// Bridge provides schema-aware conversions between messages, JSON and
// protobuf binary data.
type Bridge struct {
	registry *registry.Registry
	opts     Options
}

// New creates a Bridge with an empty registry that resolves .proto imports
// against protoDirectories.
func New(protoDirectories []string, opts Options) *Bridge {
	return NewWithRegistry(registry.NewRegistry(protoDirectories), opts)
}

// NewWithRegistry creates a Bridge over an existing registry.
func NewWithRegistry(reg *registry.Registry, opts Options) *Bridge {
	return &Bridge{registry: reg, opts: opts}
}

// LoadSchemaFromFile loads a .proto file and its imports into the registry.
func (p *Bridge) LoadSchemaFromFile(protoFile string) error {
	return p.registry.LoadSchemaFromFile(protoFile)
}

// NewTokenReader returns the token reader selected by the options.
func (p *Bridge) NewTokenReader(r io.Reader) (token.Reader, error) {
	switch p.opts.Input {
	case Located, "":
		return token.NewLocatedReader(r, token.LocatedOptions{
			AllowComments:       p.opts.Relaxed,
			AllowTrailingCommas: p.opts.Relaxed,
		}), nil
	case Streaming:
		if p.opts.Relaxed {
			return token.NewRelaxedDecoder(r)
		}
		return token.NewDecoder(r), nil
	}
	return nil, fmt.Errorf("unknown input mode %q", p.opts.Input)
}

// UnmarshalJSON parses data as one message of the named type. Anything but
// whitespace after the message is an error.
func (p *Bridge) UnmarshalJSON(data []byte, typeName string) (*message.Message, error) {
	in, err := p.NewTokenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(in, p.registry, p.opts.Codec)
	m, err := r.ReadMessage(typeName)
	if err != nil {
		return nil, err
	}
	more, err := r.More()
	if err != nil {
		return nil, err
	}
	if more {
		pos := in.Pos()
		return nil, &codec.Error{Kind: codec.Structural, Pos: &pos, Type: typeName, Msg: "unexpected data after message"}
	}
	return m, nil
}

// DecodeJSON reads a sequence of messages of the named type from r and calls
// fn for each until the input ends or fn returns an error.
func (p *Bridge) DecodeJSON(r io.Reader, typeName string, fn func(*message.Message) error) error {
	in, err := p.NewTokenReader(r)
	if err != nil {
		return err
	}
	dec := codec.NewReader(in, p.registry, p.opts.Codec)
	for {
		more, err := dec.More()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		m, err := dec.ReadMessage(typeName)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}

// MarshalJSON returns the JSON encoding of m.
func (p *Bridge) MarshalJSON(m *message.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.EncodeJSON(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJSON writes each message to w as a JSON value; values are separated
// by newlines.
func (p *Bridge) EncodeJSON(w io.Writer, msgs ...*message.Message) error {
	out := token.NewWriter(w, p.opts.Indent)
	enc := codec.NewWriter(out, p.opts.Codec)
	for _, m := range msgs {
		if err := enc.WriteMessage(m); err != nil {
			return err
		}
	}
	return out.Flush()
}

// MarshalBinary returns the protobuf binary encoding of m.
func (p *Bridge) MarshalBinary(m *message.Message) ([]byte, error) {
	return wire.Marshal(m)
}

// UnmarshalBinary decodes protobuf binary data as a message of the named type.
func (p *Bridge) UnmarshalBinary(data []byte, typeName string) (*message.Message, error) {
	return wire.NewDecoder(p.registry, p.opts.Codec).Decode(data, typeName)
}

// JSONToBinary transcodes one JSON message to the binary format.
func (p *Bridge) JSONToBinary(data []byte, typeName string) ([]byte, error) {
	m, err := p.UnmarshalJSON(data, typeName)
	if err != nil {
		return nil, err
	}
	return p.MarshalBinary(m)
}

// BinaryToJSON transcodes one binary message to JSON.
func (p *Bridge) BinaryToJSON(data []byte, typeName string) ([]byte, error) {
	m, err := p.UnmarshalBinary(data, typeName)
	if err != nil {
		return nil, err
	}
	return p.MarshalJSON(m)
}

// ===== REGISTRY ACCESS =====

func (p *Bridge) Registry() *registry.Registry { return p.registry }
func (p *Bridge) ListMessages() []string       { return p.registry.ListMessages() }
func (p *Bridge) ListEnums() []string          { return p.registry.ListEnums() }
