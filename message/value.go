package message

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anirudhraja/protobridge/schema"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	InvalidKind Kind = iota // zero Value; never valid for a field
	IntKind                 // int32, int64, sint*, sfixed*
	UintKind                // uint32, uint64, fixed*
	FloatKind               // float, double
	BoolKind
	StringKind
	BytesKind
	EnumKind
	MessageKind
	ListKind // repeated fields only; elements are never lists
)

var kindNames = [...]string{
	InvalidKind: "invalid",
	IntKind:     "int",
	UintKind:    "uint",
	FloatKind:   "float",
	BoolKind:    "bool",
	StringKind:  "string",
	BytesKind:   "bytes",
	EnumKind:    "enum",
	MessageKind: "message",
	ListKind:    "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a field value. It is a closed tagged union: exactly one of the
// variants named by Kind is populated. The zero Value is invalid.
//
// Accessors panic when called on a Value of a different kind, so consumers
// switch on Kind first.
type Value struct {
	kind Kind
	num  uint64 // int, uint, float bits, bool
	str  string
	raw  []byte
	enum *schema.EnumValue
	msg  *Message
	list []Value
}

func ValueOfInt(v int64) Value     { return Value{kind: IntKind, num: uint64(v)} }
func ValueOfUint(v uint64) Value   { return Value{kind: UintKind, num: v} }
func ValueOfFloat(v float64) Value { return Value{kind: FloatKind, num: math.Float64bits(v)} }
func ValueOfString(v string) Value { return Value{kind: StringKind, str: v} }

func ValueOfBool(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{kind: BoolKind, num: n}
}

// ValueOfBytes wraps v without copying; the caller must not modify v afterwards.
func ValueOfBytes(v []byte) Value {
	if v == nil {
		v = []byte{}
	}
	return Value{kind: BytesKind, raw: v}
}

// ValueOfEnum returns an enum value. A nil descriptor yields the invalid Value.
func ValueOfEnum(v *schema.EnumValue) Value {
	if v == nil {
		return Value{}
	}
	return Value{kind: EnumKind, enum: v}
}

// ValueOfMessage returns a message value. A nil message yields the invalid Value.
func ValueOfMessage(m *Message) Value {
	if m == nil {
		return Value{}
	}
	return Value{kind: MessageKind, msg: m}
}

// ValueOfList returns a list holding a copy of vs.
func ValueOfList(vs ...Value) Value {
	return Value{kind: ListKind, list: append([]Value{}, vs...)}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds any variant.
func (v Value) IsValid() bool { return v.kind != InvalidKind }

func (v Value) Int() int64 {
	v.must(IntKind)
	return int64(v.num)
}

func (v Value) Uint() uint64 {
	v.must(UintKind)
	return v.num
}

func (v Value) Float() float64 {
	v.must(FloatKind)
	return math.Float64frombits(v.num)
}

func (v Value) Bool() bool {
	v.must(BoolKind)
	return v.num != 0
}

// String returns the string variant. For any other kind it returns a
// debugging representation instead of panicking, so Value satisfies
// fmt.Stringer.
func (v Value) String() string {
	if v.kind == StringKind {
		return v.str
	}
	return v.format()
}

// Bytes returns the bytes variant. The result must not be modified.
func (v Value) Bytes() []byte {
	v.must(BytesKind)
	return v.raw
}

func (v Value) Enum() *schema.EnumValue {
	v.must(EnumKind)
	return v.enum
}

func (v Value) Message() *Message {
	v.must(MessageKind)
	return v.msg
}

// Len returns the number of list elements.
func (v Value) Len() int {
	v.must(ListKind)
	return len(v.list)
}

// Index returns the i'th list element.
func (v Value) Index(i int) Value {
	v.must(ListKind)
	return v.list[i]
}

// List returns a copy of the list elements.
func (v Value) List() []Value {
	v.must(ListKind)
	return append([]Value(nil), v.list...)
}

func (v Value) must(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("message: %v accessor called on %v value", k, v.kind))
	}
}

// Equal reports whether a and b hold the same variant with equal contents.
// NaN floats compare equal to each other.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case InvalidKind:
		return true
	case IntKind, UintKind, BoolKind:
		return a.num == b.num
	case FloatKind:
		fa, fb := a.Float(), b.Float()
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	case StringKind:
		return a.str == b.str
	case BytesKind:
		return bytes.Equal(a.raw, b.raw)
	case EnumKind:
		return a.enum.Number == b.enum.Number && a.enum.Name == b.enum.Name
	case MessageKind:
		return a.msg.Equal(b.msg)
	case ListKind:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) format() string {
	switch v.kind {
	case InvalidKind:
		return "<invalid>"
	case IntKind:
		return strconv.FormatInt(v.Int(), 10)
	case UintKind:
		return strconv.FormatUint(v.Uint(), 10)
	case FloatKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case BoolKind:
		return strconv.FormatBool(v.Bool())
	case StringKind:
		return strconv.Quote(v.str)
	case BytesKind:
		return fmt.Sprintf("%x", v.raw)
	case EnumKind:
		return fmt.Sprintf("%s(%d)", v.enum.Name, v.enum.Number)
	case MessageKind:
		return v.msg.String()
	case ListKind:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.format()
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return v.kind.String()
}

// KindFor returns the value kind that a single (non-list) value of the given
// field type must have.
func KindFor(ft schema.FieldType) Kind {
	switch ft.Kind {
	case schema.KindMessage:
		return MessageKind
	case schema.KindEnum:
		return EnumKind
	case schema.KindPrimitive:
		switch ft.PrimitiveType {
		case schema.TypeInt32, schema.TypeInt64, schema.TypeSint32, schema.TypeSint64,
			schema.TypeSfixed32, schema.TypeSfixed64:
			return IntKind
		case schema.TypeUint32, schema.TypeUint64, schema.TypeFixed32, schema.TypeFixed64:
			return UintKind
		case schema.TypeFloat, schema.TypeDouble:
			return FloatKind
		case schema.TypeBool:
			return BoolKind
		case schema.TypeString:
			return StringKind
		case schema.TypeBytes:
			return BytesKind
		}
	}
	return InvalidKind
}
