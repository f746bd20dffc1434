package codec

import (
	"fmt"
	"strings"

	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/schema"
	"github.com/anirudhraja/protobridge/token"
)

// Registry resolves type names for the Reader and creates the builders it
// fills in. *registry.Registry implements it.
type Registry interface {
	message.Types
	NewBuilder(typeName string) (*message.Builder, error)
}

// Reader parses messages from a JSON token stream.
type Reader struct {
	in    token.Reader
	types Registry
	opts  Options
}

// NewReader returns a Reader consuming in and resolving types through types.
func NewReader(in token.Reader, types Registry, opts Options) *Reader {
	return &Reader{in: in, types: types, opts: opts}
}

// More advances to the next top-level value and reports whether there is one.
// It is used to read a sequence of messages from one stream.
func (r *Reader) More() (bool, error) {
	kind, err := r.in.Next()
	if err != nil {
		return false, streamError(r.in, "", err)
	}
	return kind != token.EOF, nil
}

// ReadMessage parses one message of the named type. If the stream has not
// been advanced yet it is advanced once; otherwise the current token must
// start the message. On success the stream is left on the message's closing
// brace.
func (r *Reader) ReadMessage(typeName string) (*message.Message, error) {
	b, err := r.types.NewBuilder(typeName)
	if err != nil {
		return nil, &Error{Kind: Schema, Type: typeName, Msg: "cannot create builder", Err: err}
	}
	if r.in.Kind() == token.None {
		if _, err := r.in.Next(); err != nil {
			return nil, streamError(r.in, b.TypeName(), err)
		}
	}
	return r.readMessage(b, 0)
}

func (r *Reader) readMessage(b *message.Builder, depth int) (*message.Message, error) {
	typeName := b.TypeName()
	if limit := r.opts.maxDepth(); limit >= 0 && depth > limit {
		return nil, structuralf(r.in, typeName, "maximum nesting depth %d exceeded", limit)
	}
	if kind := r.in.Kind(); kind != token.BeginObject {
		return nil, structuralf(r.in, typeName, "expected object-start, got %s", kind)
	}

	desc := b.Descriptor()
	for {
		kind, err := r.in.Next()
		if err != nil {
			return nil, streamError(r.in, typeName, err)
		}
		if kind == token.EndObject {
			break
		}
		if kind != token.FieldName {
			return nil, structuralf(r.in, typeName, "expected field-name or object-end, got %s", kind)
		}
		name := r.in.Text()
		if _, err := r.in.Next(); err != nil {
			return nil, streamError(r.in, typeName, err)
		}

		f := desc.FieldByName(name)
		if f == nil {
			r.opts.debug("skipping unknown field", "type", typeName, "field", name, "pos", r.in.Pos().String())
			if err := Skip(r.in); err != nil {
				return nil, withField(err, name)
			}
			continue
		}

		if r.in.Kind() == token.Null {
			r.opts.debug("clearing field set to null", "type", typeName, "field", name)
			if err := b.Clear(f); err != nil {
				return nil, withField(r.semantic(typeName, err, "cannot clear field"), name)
			}
			continue
		}

		v, err := r.readField(typeName, f, depth)
		if err != nil {
			return nil, withField(err, name)
		}
		// Duplicate names overwrite: the last occurrence wins.
		if err := b.Set(f, v); err != nil {
			return nil, withField(r.semantic(typeName, err, "invalid value"), name)
		}
	}

	m, err := b.Build()
	if err != nil {
		return nil, &Error{Kind: Schema, Type: typeName, Msg: "cannot build message", Err: err}
	}
	if r.opts.RequireInitialized {
		if missing := m.MissingRequired(); len(missing) > 0 {
			return nil, r.semanticf(typeName, "missing required fields %s", strings.Join(missing, ", "))
		}
	}
	return m, nil
}

// readField parses the value of f at the current token: an array for a
// repeated field, otherwise a single value.
func (r *Reader) readField(typeName string, f *schema.Field, depth int) (message.Value, error) {
	if !f.IsRepeated() {
		return r.readValue(typeName, f, depth)
	}
	if kind := r.in.Kind(); kind != token.BeginArray {
		return message.Value{}, structuralf(r.in, typeName, "expected array-start for repeated field, got %s", kind)
	}
	var list []message.Value
	for i := 0; ; i++ {
		kind, err := r.in.Next()
		if err != nil {
			return message.Value{}, withIndex(streamError(r.in, typeName, err), i)
		}
		if kind == token.EndArray {
			break
		}
		v, err := r.readValue(typeName, f, depth)
		if err != nil {
			return message.Value{}, withIndex(err, i)
		}
		list = append(list, v)
	}
	return message.ValueOfList(list...), nil
}

// readValue parses one non-repeated value of f's type.
func (r *Reader) readValue(typeName string, f *schema.Field, depth int) (message.Value, error) {
	kind := r.in.Kind()
	switch vk := message.KindFor(f.Type); vk {
	case message.IntKind, message.UintKind, message.FloatKind:
		if vk == message.FloatKind && kind == token.String {
			if x, ok := specialFloat(r.in.Text()); ok {
				return message.ValueOfFloat(x), nil
			}
			return message.Value{}, r.semanticf(typeName, "invalid float string %q", r.in.Text())
		}
		if kind != token.Number {
			return message.Value{}, r.semanticf(typeName, "expected number for %s field, got %s", f.Type.PrimitiveType, kind)
		}
		v, err := scalarValue(f, r.in.Text())
		if err != nil {
			return message.Value{}, r.semantic(typeName, err, fmt.Sprintf("invalid %s value %s", f.Type.PrimitiveType, r.in.Text()))
		}
		return v, nil

	case message.BoolKind:
		if kind != token.Bool {
			return message.Value{}, r.semanticf(typeName, "expected bool, got %s", kind)
		}
		return message.ValueOfBool(r.in.Bool()), nil

	case message.StringKind:
		if kind != token.String {
			return message.Value{}, r.semanticf(typeName, "expected string, got %s", kind)
		}
		return message.ValueOfString(r.in.Text()), nil

	case message.BytesKind:
		if kind != token.String {
			return message.Value{}, r.semanticf(typeName, "expected base64 string, got %s", kind)
		}
		b, err := decodeBase64(r.in.Text())
		if err != nil {
			return message.Value{}, r.semantic(typeName, err, "invalid base64")
		}
		return message.ValueOfBytes(b), nil

	case message.EnumKind:
		return r.readEnum(typeName, f)

	case message.MessageKind:
		nb, err := r.types.NewBuilder(f.Type.MessageType)
		if err != nil {
			return message.Value{}, &Error{Kind: Schema, Type: f.Type.MessageType, Msg: "cannot create builder", Err: err}
		}
		m, err := r.readMessage(nb, depth+1)
		if err != nil {
			return message.Value{}, err
		}
		return message.ValueOfMessage(m), nil
	}
	return message.Value{}, &Error{Kind: Schema, Type: typeName, Msg: fmt.Sprintf("field %s has unsupported type %+v", f.Name, f.Type)}
}

// readEnum resolves a number token by enum number and a string token by name.
func (r *Reader) readEnum(typeName string, f *schema.Field) (message.Value, error) {
	enum, err := r.types.GetEnum(f.Type.EnumType)
	if err != nil {
		return message.Value{}, &Error{Kind: Schema, Type: typeName, Msg: "cannot resolve enum " + f.Type.EnumType, Err: err}
	}
	var ev *schema.EnumValue
	switch kind := r.in.Kind(); kind {
	case token.Number:
		n, err := parseInt(r.in.Text(), 32)
		if err != nil {
			return message.Value{}, r.semantic(typeName, err, "unknown enum value "+r.in.Text())
		}
		ev = enum.ValueByNumber(int32(n))
	case token.String:
		ev = enum.ValueByName(r.in.Text())
	default:
		return message.Value{}, r.semanticf(typeName, "unexpected value for enum field: %s", kind)
	}
	if ev == nil {
		return message.Value{}, r.semanticf(typeName, "unknown enum value %s for %s", r.in.Text(), f.Type.EnumType)
	}
	return message.ValueOfEnum(ev), nil
}

func (r *Reader) semantic(typeName string, err error, msg string) *Error {
	pos := r.in.Pos()
	return &Error{Kind: Semantic, Pos: &pos, Type: typeName, Msg: msg, Err: err}
}

func (r *Reader) semanticf(typeName, format string, args ...any) *Error {
	return r.semantic(typeName, nil, fmt.Sprintf(format, args...))
}
