package codec

import (
	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/schema"
	"github.com/anirudhraja/protobridge/token"
)

// Writer emits messages to a JSON token sink.
type Writer struct {
	out  token.Writer
	opts Options
}

// NewWriter returns a Writer emitting to out. The caller flushes out.
func NewWriter(out token.Writer, opts Options) *Writer {
	return &Writer{out: out, opts: opts}
}

// WriteMessage emits m as one JSON object. Fields are written in declaration
// order; unset optional fields are omitted, while repeated and required
// fields are always present. A failure leaves whatever was already emitted
// in the sink.
func (w *Writer) WriteMessage(m *message.Message) error {
	if m == nil {
		return &Error{Kind: Serialization, Msg: "nil message"}
	}
	return w.writeMessage(m)
}

func (w *Writer) writeMessage(m *message.Message) error {
	typeName := m.TypeName()
	if err := w.out.BeginObject(); err != nil {
		return w.sinkError(typeName, err)
	}
	for _, f := range m.Descriptor().Fields {
		set := m.Has(f)
		if !f.AlwaysEmitted() && !set {
			continue
		}
		if !set && f.IsRequired() {
			w.opts.debug("writing default for unset required field", "type", typeName, "field", f.Name)
		}
		if err := w.out.FieldName(f.Name); err != nil {
			return withField(w.sinkError(typeName, err), f.Name)
		}
		if err := w.writeField(typeName, f, m.Get(f)); err != nil {
			return withField(err, f.Name)
		}
	}
	if err := w.out.EndObject(); err != nil {
		return w.sinkError(typeName, err)
	}
	return nil
}

func (w *Writer) writeField(typeName string, f *schema.Field, v message.Value) error {
	if v.Kind() != message.ListKind {
		return w.writeValue(typeName, f, v)
	}
	if err := w.out.BeginArray(); err != nil {
		return w.sinkError(typeName, err)
	}
	for i, elem := range v.List() {
		if elem.Kind() == message.ListKind {
			return withIndex(&Error{Kind: Serialization, Type: typeName, Msg: "nested list"}, i)
		}
		if err := w.writeValue(typeName, f, elem); err != nil {
			return withIndex(err, i)
		}
	}
	if err := w.out.EndArray(); err != nil {
		return w.sinkError(typeName, err)
	}
	return nil
}

// writeValue emits one non-list value by its kind.
func (w *Writer) writeValue(typeName string, f *schema.Field, v message.Value) error {
	var err error
	switch v.Kind() {
	case message.MessageKind:
		return w.writeMessage(v.Message())
	case message.IntKind:
		err = w.out.Int(v.Int())
	case message.UintKind:
		err = w.out.Uint(v.Uint())
	case message.FloatKind:
		err = w.out.Float(v.Float(), bitSize(f.Type.PrimitiveType))
	case message.BoolKind:
		err = w.out.Bool(v.Bool())
	case message.StringKind:
		err = w.out.String(v.String())
	case message.BytesKind:
		err = w.out.Binary(v.Bytes())
	case message.EnumKind:
		err = w.out.String(v.Enum().Name)
	default:
		return &Error{Kind: Serialization, Type: typeName, Msg: "unserializable value of kind " + v.Kind().String()}
	}
	if err != nil {
		return w.sinkError(typeName, err)
	}
	return nil
}

func (w *Writer) sinkError(typeName string, err error) *Error {
	return &Error{Kind: Serialization, Type: typeName, Msg: "write failed", Err: err}
}
