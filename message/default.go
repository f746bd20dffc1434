package message

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anirudhraja/protobridge/schema"
)

// Default returns the value an unset field reads as: an empty list for
// repeated fields, an empty message for message fields, the declared proto2
// default if any, otherwise the first enum value or the zero scalar.
func Default(f *schema.Field, types Types) (Value, error) {
	if f.IsRepeated() {
		return ValueOfList(), nil
	}
	switch f.Type.Kind {
	case schema.KindMessage:
		desc, err := types.GetMessage(f.Type.MessageType)
		if err != nil {
			return Value{}, err
		}
		m, _ := NewBuilder(f.Type.MessageType, desc, types).Build()
		return ValueOfMessage(m), nil
	case schema.KindEnum:
		enum, err := types.GetEnum(f.Type.EnumType)
		if err != nil {
			return Value{}, err
		}
		ev := enum.Default()
		if f.DefaultValue != "" {
			ev = enum.ValueByName(f.DefaultValue)
		}
		if ev == nil {
			return Value{}, fmt.Errorf("enum %s has no default value", f.Type.EnumType)
		}
		return ValueOfEnum(ev), nil
	case schema.KindPrimitive:
		return parseScalarDefault(f.Type.PrimitiveType, f.DefaultValue)
	}
	return Value{}, fmt.Errorf("field %s: no default for type kind %q", f.Name, f.Type.Kind)
}

func parseScalarDefault(pt schema.PrimitiveType, text string) (Value, error) {
	switch KindFor(schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: pt}) {
	case IntKind:
		if text == "" {
			return ValueOfInt(0), nil
		}
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad %s default %q: %w", pt, text, err)
		}
		return ValueOfInt(n), nil
	case UintKind:
		if text == "" {
			return ValueOfUint(0), nil
		}
		n, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad %s default %q: %w", pt, text, err)
		}
		return ValueOfUint(n), nil
	case FloatKind:
		switch strings.ToLower(text) {
		case "":
			return ValueOfFloat(0), nil
		case "inf", "+inf":
			return ValueOfFloat(math.Inf(1)), nil
		case "-inf":
			return ValueOfFloat(math.Inf(-1)), nil
		case "nan":
			return ValueOfFloat(math.NaN()), nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad %s default %q: %w", pt, text, err)
		}
		return ValueOfFloat(f), nil
	case BoolKind:
		if text == "" {
			return ValueOfBool(false), nil
		}
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("bad bool default %q: %w", text, err)
		}
		return ValueOfBool(b), nil
	case StringKind:
		return ValueOfString(text), nil
	case BytesKind:
		return ValueOfBytes([]byte(text)), nil
	}
	return Value{}, fmt.Errorf("unknown primitive type %q", pt)
}
