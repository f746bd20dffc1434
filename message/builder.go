package message

import (
	"errors"
	"fmt"
	"math"

	"github.com/anirudhraja/protobridge/schema"
)

var (
	// ErrBuilt is returned by a Builder after Build has been called.
	ErrBuilt = errors.New("builder already built")

	// ErrInvalidValue reports a value that does not match its field descriptor.
	ErrInvalidValue = errors.New("invalid field value")

	// ErrUnknownField reports a field that does not belong to the message type.
	ErrUnknownField = errors.New("unknown field")
)

// Builder accumulates field values for one message. A Builder is owned by a
// single caller; it is not safe for concurrent use. Every value is checked
// against the type descriptor before it is stored.
type Builder struct {
	msg *Message
}

// NewBuilder returns an empty builder for the named type. Types resolves the
// enum and message types the fields refer to.
func NewBuilder(typeName string, desc *schema.Message, types Types) *Builder {
	return &Builder{msg: &Message{
		typeName: typeName,
		desc:     desc,
		types:    types,
		values:   make(map[string]Value),
	}}
}

// TypeName returns the fully qualified name of the type being built. It is
// empty once the builder has been built.
func (b *Builder) TypeName() string {
	if b.msg == nil {
		return ""
	}
	return b.msg.typeName
}

// Descriptor returns the type descriptor, or nil once built.
func (b *Builder) Descriptor() *schema.Message {
	if b.msg == nil {
		return nil
	}
	return b.msg.desc
}

// Set stores v in f, replacing any previous value. Setting a oneof member
// clears the other members of its group.
func (b *Builder) Set(f *schema.Field, v Value) error {
	if b.msg == nil {
		return ErrBuilt
	}
	if err := b.check(f, v); err != nil {
		return err
	}
	for _, sib := range b.msg.desc.OneofSiblings(f) {
		delete(b.msg.values, sib.Name)
	}
	b.msg.values[f.Name] = v
	return nil
}

// SetByName is Set with the field looked up by name.
func (b *Builder) SetByName(name string, v Value) error {
	if b.msg == nil {
		return ErrBuilt
	}
	f := b.msg.desc.FieldByName(name)
	if f == nil {
		return fmt.Errorf("%w: %s has no field %q", ErrUnknownField, b.msg.typeName, name)
	}
	return b.Set(f, v)
}

// Clear unsets f.
func (b *Builder) Clear(f *schema.Field) error {
	if b.msg == nil {
		return ErrBuilt
	}
	if err := b.owns(f); err != nil {
		return err
	}
	delete(b.msg.values, f.Name)
	return nil
}

// NewFieldBuilder returns an empty builder for the message type of f.
func (b *Builder) NewFieldBuilder(f *schema.Field) (*Builder, error) {
	if b.msg == nil {
		return nil, ErrBuilt
	}
	if err := b.owns(f); err != nil {
		return nil, err
	}
	if f.Type.Kind != schema.KindMessage {
		return nil, fmt.Errorf("field %s.%s is not a message field", b.msg.typeName, f.Name)
	}
	desc, err := b.msg.types.GetMessage(f.Type.MessageType)
	if err != nil {
		return nil, fmt.Errorf("field %s.%s: %w", b.msg.typeName, f.Name, err)
	}
	return NewBuilder(f.Type.MessageType, desc, b.msg.types), nil
}

// Build returns the finished message. The builder cannot be used afterwards.
func (b *Builder) Build() (*Message, error) {
	if b.msg == nil {
		return nil, ErrBuilt
	}
	m := b.msg
	b.msg = nil
	return m, nil
}

func (b *Builder) owns(f *schema.Field) error {
	got := b.msg.desc.FieldByName(f.Name)
	if got == nil || got.Number != f.Number {
		return fmt.Errorf("%w: %s has no field %q", ErrUnknownField, b.msg.typeName, f.Name)
	}
	return nil
}

func (b *Builder) check(f *schema.Field, v Value) error {
	if err := b.owns(f); err != nil {
		return err
	}
	if !f.IsRepeated() {
		return b.checkSingle(f, v)
	}
	if v.Kind() != ListKind {
		return fmt.Errorf("%w: repeated field %s.%s needs a list, got %v", ErrInvalidValue, b.msg.typeName, f.Name, v.Kind())
	}
	for i, elem := range v.list {
		if err := b.checkSingle(f, elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (b *Builder) checkSingle(f *schema.Field, v Value) error {
	want := KindFor(f.Type)
	if want == InvalidKind {
		return fmt.Errorf("%w: field %s.%s has unsupported type %q", ErrInvalidValue, b.msg.typeName, f.Name, f.Type.Kind)
	}
	if v.Kind() != want {
		return fmt.Errorf("%w: field %s.%s wants %v, got %v", ErrInvalidValue, b.msg.typeName, f.Name, want, v.Kind())
	}
	switch want {
	case IntKind:
		if is32Bit(f.Type.PrimitiveType) && (v.Int() < math.MinInt32 || v.Int() > math.MaxInt32) {
			return fmt.Errorf("%w: %d out of range for %s field %s.%s", ErrInvalidValue, v.Int(), f.Type.PrimitiveType, b.msg.typeName, f.Name)
		}
	case UintKind:
		if is32Bit(f.Type.PrimitiveType) && v.Uint() > math.MaxUint32 {
			return fmt.Errorf("%w: %d out of range for %s field %s.%s", ErrInvalidValue, v.Uint(), f.Type.PrimitiveType, b.msg.typeName, f.Name)
		}
	case FloatKind:
		if x := v.Float(); f.Type.PrimitiveType == schema.TypeFloat && !math.IsInf(x, 0) && math.IsInf(float64(float32(x)), 0) {
			return fmt.Errorf("%w: %g out of range for float field %s.%s", ErrInvalidValue, x, b.msg.typeName, f.Name)
		}
	case EnumKind:
		enum, err := b.msg.types.GetEnum(f.Type.EnumType)
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", b.msg.typeName, f.Name, err)
		}
		ev := enum.ValueByName(v.enum.Name)
		if ev == nil || ev.Number != v.enum.Number {
			return fmt.Errorf("%w: %s(%d) is not a value of %s", ErrInvalidValue, v.enum.Name, v.enum.Number, f.Type.EnumType)
		}
	case MessageKind:
		if got := v.msg.TypeName(); got != f.Type.MessageType {
			return fmt.Errorf("%w: field %s.%s wants %s, got %s", ErrInvalidValue, b.msg.typeName, f.Name, f.Type.MessageType, got)
		}
	}
	return nil
}

func is32Bit(pt schema.PrimitiveType) bool {
	switch pt {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32, schema.TypeUint32, schema.TypeFixed32:
		return true
	}
	return false
}
