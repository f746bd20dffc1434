// Package wire converts messages to and from the protobuf binary wire format.
package wire

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/schema"
)

// Encoder accumulates the binary encoding of one or more messages.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded bytes
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Reset resets the encoder
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// EncodeMessage appends the encoding of m. On failure the buffer is left as
// it was before the call.
func (e *Encoder) EncodeMessage(m *message.Message) error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrUnencodable)
	}
	b, err := appendMessage(e.buf, m)
	if err != nil {
		return err
	}
	e.buf = b
	return nil
}

// Marshal returns the binary encoding of m.
func Marshal(m *message.Message) ([]byte, error) {
	e := NewEncoder()
	if err := e.EncodeMessage(m); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// appendMessage writes the set fields of m in field number order.
func appendMessage(b []byte, m *message.Message) ([]byte, error) {
	fields := slices.Clone(m.Descriptor().Fields)
	slices.SortFunc(fields, func(x, y *schema.Field) int { return cmp.Compare(x.Number, y.Number) })

	var err error
	for _, f := range fields {
		if !m.Has(f) {
			continue
		}
		v := m.Get(f)
		if !f.IsRepeated() {
			if b, err = appendField(b, f, v); err != nil {
				return nil, wrapWithField(err, f.Name)
			}
			continue
		}
		if v.Kind() != message.ListKind {
			return nil, wrapWithField(fmt.Errorf("%w: repeated field holds %s", ErrUnencodable, v.Kind()), f.Name)
		}
		if v.Len() == 0 {
			continue
		}
		if f.Packed && packable(f) {
			if b, err = appendPacked(b, f, v.List()); err != nil {
				return nil, wrapWithField(err, f.Name)
			}
			continue
		}
		for i, elem := range v.List() {
			if b, err = appendField(b, f, elem); err != nil {
				return nil, wrapWithField(wrapWithIndex(err, i), f.Name)
			}
		}
	}
	return b, nil
}

// appendPacked writes all elements as one length-delimited record.
func appendPacked(b []byte, f *schema.Field, list []message.Value) ([]byte, error) {
	var payload []byte
	var err error
	for i, elem := range list {
		if payload, err = appendScalar(payload, f, elem); err != nil {
			return nil, wrapWithIndex(err, i)
		}
	}
	b = protowire.AppendTag(b, protowire.Number(f.Number), protowire.BytesType)
	return protowire.AppendBytes(b, payload), nil
}

func appendField(b []byte, f *schema.Field, v message.Value) ([]byte, error) {
	if want := message.KindFor(f.Type); v.Kind() != want {
		return nil, fmt.Errorf("%w: %s value for %s field", ErrUnencodable, v.Kind(), want)
	}
	b = protowire.AppendTag(b, protowire.Number(f.Number), wireType(f))
	if f.Type.Kind == schema.KindMessage {
		nested, err := appendMessage(nil, v.Message())
		if err != nil {
			return nil, err
		}
		return protowire.AppendBytes(b, nested), nil
	}
	return appendScalar(b, f, v)
}

// appendScalar writes a non-message value without its tag.
func appendScalar(b []byte, f *schema.Field, v message.Value) ([]byte, error) {
	if want := message.KindFor(f.Type); v.Kind() != want {
		return nil, fmt.Errorf("%w: %s value for %s field", ErrUnencodable, v.Kind(), want)
	}
	if f.Type.Kind == schema.KindEnum {
		return protowire.AppendVarint(b, uint64(int64(v.Enum().Number))), nil
	}
	switch f.Type.PrimitiveType {
	case schema.TypeInt32, schema.TypeInt64:
		return protowire.AppendVarint(b, uint64(v.Int())), nil
	case schema.TypeSint32, schema.TypeSint64:
		return protowire.AppendVarint(b, protowire.EncodeZigZag(v.Int())), nil
	case schema.TypeUint32, schema.TypeUint64:
		return protowire.AppendVarint(b, v.Uint()), nil
	case schema.TypeBool:
		return protowire.AppendVarint(b, protowire.EncodeBool(v.Bool())), nil
	case schema.TypeFixed32:
		return protowire.AppendFixed32(b, uint32(v.Uint())), nil
	case schema.TypeSfixed32:
		return protowire.AppendFixed32(b, uint32(int32(v.Int()))), nil
	case schema.TypeFloat:
		return protowire.AppendFixed32(b, math.Float32bits(float32(v.Float()))), nil
	case schema.TypeFixed64:
		return protowire.AppendFixed64(b, v.Uint()), nil
	case schema.TypeSfixed64:
		return protowire.AppendFixed64(b, uint64(v.Int())), nil
	case schema.TypeDouble:
		return protowire.AppendFixed64(b, math.Float64bits(v.Float())), nil
	case schema.TypeString:
		return protowire.AppendString(b, v.String()), nil
	case schema.TypeBytes:
		return protowire.AppendBytes(b, v.Bytes()), nil
	}
	return nil, fmt.Errorf("%w: unsupported type %+v", ErrUnencodable, f.Type)
}

// wireType returns the wire type of a single value of f.
func wireType(f *schema.Field) protowire.Type {
	switch f.Type.Kind {
	case schema.KindMessage:
		return protowire.BytesType
	case schema.KindEnum:
		return protowire.VarintType
	}
	switch f.Type.PrimitiveType {
	case schema.TypeFixed32, schema.TypeSfixed32, schema.TypeFloat:
		return protowire.Fixed32Type
	case schema.TypeFixed64, schema.TypeSfixed64, schema.TypeDouble:
		return protowire.Fixed64Type
	case schema.TypeString, schema.TypeBytes:
		return protowire.BytesType
	}
	return protowire.VarintType
}

// packable reports whether repeated values of f may share one record.
func packable(f *schema.Field) bool {
	switch f.Type.Kind {
	case schema.KindEnum:
		return true
	case schema.KindPrimitive:
		return schema.IsPackedType(f.Type.PrimitiveType)
	}
	return false
}
