package wire

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/anirudhraja/protobridge/codec"
	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/schema"
)

// Decoder builds messages from binary wire data. It honours the MaxDepth,
// RequireInitialized and Logger settings of codec.Options.
type Decoder struct {
	types codec.Registry
	opts  codec.Options
}

// NewDecoder returns a Decoder resolving types through types.
func NewDecoder(types codec.Registry, opts codec.Options) *Decoder {
	return &Decoder{types: types, opts: opts}
}

// Unmarshal decodes b as a message of the named type with default options.
func Unmarshal(b []byte, typeName string, types codec.Registry) (*message.Message, error) {
	return NewDecoder(types, codec.Options{}).Decode(b, typeName)
}

// Decode parses b as one message of the named type. Unknown fields, and
// fields whose wire type does not match their declaration, are skipped.
// A singular field seen twice keeps the last value, except that message
// fields are merged; repeated fields accept both packed and unpacked forms.
func (d *Decoder) Decode(b []byte, typeName string) (*message.Message, error) {
	return d.decodeMessage(b, typeName, 0)
}

func (d *Decoder) decodeMessage(b []byte, typeName string, depth int) (*message.Message, error) {
	limit := d.opts.MaxDepth
	if limit == 0 {
		limit = codec.DefaultMaxDepth
	}
	if limit >= 0 && depth > limit {
		return nil, fmt.Errorf("%w: limit %d", ErrDepth, limit)
	}
	builder, err := d.types.NewBuilder(typeName)
	if err != nil {
		return nil, fmt.Errorf("cannot create builder for %s: %w", typeName, err)
	}
	desc := builder.Descriptor()

	lists := make(map[*schema.Field][]message.Value)
	// Singular message fields are merged by concatenating their encodings.
	pending := make(map[*schema.Field][]byte)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("%v", protowire.ParseError(n))
		}
		b = b[n:]

		f := desc.FieldByNumber(int32(num))
		if f == nil || !accepts(f, typ) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("field %d: %v", num, protowire.ParseError(n))
			}
			d.debug("skipping unknown field", "type", typeName, "number", int32(num), "wire_type", typ)
			b = b[n:]
			continue
		}

		switch {
		case f.IsRepeated() && typ == protowire.BytesType && packable(f):
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wrapWithField(malformed("%v", protowire.ParseError(n)), f.Name)
			}
			b = b[n:]
			for len(payload) > 0 {
				v, m, err := d.decodeScalar(f, wireType(f), payload)
				if err != nil {
					return nil, wrapWithField(wrapWithIndex(err, len(lists[f])), f.Name)
				}
				payload = payload[m:]
				if v.IsValid() {
					lists[f] = append(lists[f], v)
				}
			}

		case f.Type.Kind == schema.KindMessage:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wrapWithField(malformed("%v", protowire.ParseError(n)), f.Name)
			}
			b = b[n:]
			if f.IsRepeated() {
				nested, err := d.decodeMessage(payload, f.Type.MessageType, depth+1)
				if err != nil {
					return nil, wrapWithField(wrapWithIndex(err, len(lists[f])), f.Name)
				}
				lists[f] = append(lists[f], message.ValueOfMessage(nested))
				continue
			}
			for _, sib := range desc.OneofSiblings(f) {
				delete(pending, sib)
				if err := builder.Clear(sib); err != nil {
					return nil, wrapWithField(err, sib.Name)
				}
			}
			pending[f] = append(pending[f], payload...)

		default:
			v, n, err := d.decodeScalar(f, typ, b)
			if err != nil {
				return nil, wrapWithField(err, f.Name)
			}
			b = b[n:]
			if !v.IsValid() {
				continue
			}
			if f.IsRepeated() {
				lists[f] = append(lists[f], v)
				continue
			}
			for _, sib := range desc.OneofSiblings(f) {
				delete(pending, sib)
			}
			if err := builder.Set(f, v); err != nil {
				return nil, wrapWithField(err, f.Name)
			}
		}
	}

	for _, f := range desc.Fields {
		if list, ok := lists[f]; ok {
			if err := builder.Set(f, message.ValueOfList(list...)); err != nil {
				return nil, wrapWithField(err, f.Name)
			}
		}
		payload, ok := pending[f]
		if !ok {
			continue
		}
		nested, err := d.decodeMessage(payload, f.Type.MessageType, depth+1)
		if err != nil {
			return nil, wrapWithField(err, f.Name)
		}
		if err := builder.Set(f, message.ValueOfMessage(nested)); err != nil {
			return nil, wrapWithField(err, f.Name)
		}
	}

	m, err := builder.Build()
	if err != nil {
		return nil, err
	}
	if d.opts.RequireInitialized {
		if missing := m.MissingRequired(); len(missing) > 0 {
			return nil, fmt.Errorf("%s: missing required fields %s", typeName, strings.Join(missing, ", "))
		}
	}
	return m, nil
}

// decodeScalar reads one non-message value of wire type typ from b and
// returns it with the number of bytes consumed. An enum number the schema
// does not declare yields the invalid Value and no error.
func (d *Decoder) decodeScalar(f *schema.Field, typ protowire.Type, b []byte) (message.Value, int, error) {
	var (
		x       uint64
		payload []byte
		n       int
	)
	switch typ {
	case protowire.VarintType:
		x, n = protowire.ConsumeVarint(b)
	case protowire.Fixed32Type:
		var v uint32
		v, n = protowire.ConsumeFixed32(b)
		x = uint64(v)
	case protowire.Fixed64Type:
		x, n = protowire.ConsumeFixed64(b)
	case protowire.BytesType:
		payload, n = protowire.ConsumeBytes(b)
	default:
		return message.Value{}, 0, malformed("unexpected wire type %d", typ)
	}
	if n < 0 {
		return message.Value{}, 0, malformed("%v", protowire.ParseError(n))
	}

	if f.Type.Kind == schema.KindEnum {
		enum, err := d.types.GetEnum(f.Type.EnumType)
		if err != nil {
			return message.Value{}, 0, err
		}
		ev := enum.ValueByNumber(int32(x))
		if ev == nil {
			d.debug("dropping unknown enum number", "enum", f.Type.EnumType, "field", f.Name, "number", int32(x))
			return message.Value{}, n, nil
		}
		return message.ValueOfEnum(ev), n, nil
	}

	switch f.Type.PrimitiveType {
	case schema.TypeInt32:
		return message.ValueOfInt(int64(int32(x))), n, nil
	case schema.TypeInt64:
		return message.ValueOfInt(int64(x)), n, nil
	case schema.TypeSint32:
		return message.ValueOfInt(int64(int32(protowire.DecodeZigZag(x & math.MaxUint32)))), n, nil
	case schema.TypeSint64:
		return message.ValueOfInt(protowire.DecodeZigZag(x)), n, nil
	case schema.TypeUint32, schema.TypeFixed32:
		return message.ValueOfUint(uint64(uint32(x))), n, nil
	case schema.TypeUint64, schema.TypeFixed64:
		return message.ValueOfUint(x), n, nil
	case schema.TypeSfixed32:
		return message.ValueOfInt(int64(int32(x))), n, nil
	case schema.TypeSfixed64:
		return message.ValueOfInt(int64(x)), n, nil
	case schema.TypeBool:
		return message.ValueOfBool(protowire.DecodeBool(x)), n, nil
	case schema.TypeFloat:
		return message.ValueOfFloat(float64(math.Float32frombits(uint32(x)))), n, nil
	case schema.TypeDouble:
		return message.ValueOfFloat(math.Float64frombits(x)), n, nil
	case schema.TypeString:
		return message.ValueOfString(string(payload)), n, nil
	case schema.TypeBytes:
		return message.ValueOfBytes(bytes.Clone(payload)), n, nil
	}
	return message.Value{}, 0, fmt.Errorf("unsupported type %+v", f.Type)
}

// accepts reports whether a record of wire type typ can hold a value of f.
func accepts(f *schema.Field, typ protowire.Type) bool {
	if typ == wireType(f) {
		return true
	}
	return f.IsRepeated() && typ == protowire.BytesType && packable(f)
}

func (d *Decoder) debug(msg string, args ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Debug(msg, args...)
	}
}
