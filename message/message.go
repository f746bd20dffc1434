// Package message holds schema-typed message instances: the Value variant,
// the immutable Message, and the Builder that produces it.
package message

import (
	"strings"

	"github.com/anirudhraja/protobridge/schema"
)

// Types resolves fully qualified type names to descriptors. The registry
// implements it.
type Types interface {
	GetMessage(name string) (*schema.Message, error)
	GetEnum(name string) (*schema.Enum, error)
}

// Message is an instance of a schema message type. It is immutable once
// built; values are only read through Has, Get and Range.
type Message struct {
	typeName string
	desc     *schema.Message
	types    Types
	values   map[string]Value
}

// TypeName returns the fully qualified name of the message type.
func (m *Message) TypeName() string { return m.typeName }

// Descriptor returns the message type descriptor.
func (m *Message) Descriptor() *schema.Message { return m.desc }

// Has reports whether f has been set.
func (m *Message) Has(f *schema.Field) bool {
	_, ok := m.values[f.Name]
	return ok
}

// Len returns the number of set fields.
func (m *Message) Len() int { return len(m.values) }

// Get returns the value of f, or its default when f is unset. It returns the
// invalid Value if no default can be derived (for example when a nested type
// cannot be resolved).
func (m *Message) Get(f *schema.Field) Value {
	if v, ok := m.values[f.Name]; ok {
		return v
	}
	v, err := Default(f, m.types)
	if err != nil {
		return Value{}
	}
	return v
}

// Range calls fn for each set field in declaration order until fn returns false.
func (m *Message) Range(fn func(f *schema.Field, v Value) bool) {
	for _, f := range m.desc.Fields {
		v, ok := m.values[f.Name]
		if !ok {
			continue
		}
		if !fn(f, v) {
			return
		}
	}
}

// MissingRequired returns the names of required fields that are unset.
func (m *Message) MissingRequired() []string {
	var out []string
	for _, f := range m.desc.Fields {
		if f.IsRequired() && !m.Has(f) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Equal reports whether m and o have the same type and every field reads the
// same through Get. A field left unset equals one explicitly set to its
// default, so a required or repeated field that was written out and read
// back compares equal to the unset original.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.typeName != o.typeName {
		return false
	}
	for _, f := range m.desc.Fields {
		if !m.Has(f) && !o.Has(f) {
			continue
		}
		if !Equal(m.Get(f), o.Get(f)) {
			return false
		}
	}
	return true
}

func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.typeName)
	sb.WriteByte('{')
	first := true
	m.Range(func(f *schema.Field, v Value) bool {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		sb.WriteString(f.Name)
		sb.WriteByte(':')
		sb.WriteString(v.format())
		return true
	})
	sb.WriteByte('}')
	return sb.String()
}
