package registry

import (
	"strings"

	"github.com/anirudhraja/protobridge/schema"
)

// normalizeMessage rewrites map fields into repeated fields of a synthetic
// entry message nested in msg, the way protoc does, and fills in JSON names.
// Already normalized messages are left unchanged.
func normalizeMessage(fullName string, msg *schema.Message) {
	for _, f := range msg.Fields {
		if f.JsonName == "" {
			f.JsonName = toLowerCamel(f.Name)
		}
		if f.Type.Kind != schema.KindMap {
			continue
		}
		entry := mapEntryMessage(f.Name, f.Type.MapKey, f.Type.MapValue)
		if existing := nestedByName(msg, entry.Name); existing == nil {
			msg.NestedTypes = append(msg.NestedTypes, entry)
		}
		f.Label = schema.LabelRepeated
		f.Type = schema.FieldType{Kind: schema.KindMessage, MessageType: fullName + "." + entry.Name}
		f.Packed = false
	}
	for _, nested := range msg.NestedTypes {
		normalizeMessage(fullName+"."+nested.Name, nested)
	}
}

// mapEntryMessage creates a synthetic message type for map entries
func mapEntryMessage(mapFieldName string, keyType, valueType *schema.FieldType) *schema.Message {
	return &schema.Message{
		Name:     entryName(mapFieldName),
		MapEntry: true,
		Fields: []*schema.Field{
			{Name: "key", Number: 1, Label: schema.LabelOptional, Type: *keyType, JsonName: "key", OneofIndex: -1},
			{Name: "value", Number: 2, Label: schema.LabelOptional, Type: *valueType, JsonName: "value", OneofIndex: -1},
		},
	}
}

// entryName derives the entry type name protoc uses: "phone_book" -> "PhoneBookEntry".
func entryName(field string) string {
	camel := toLowerCamel(field)
	if camel == "" {
		return "Entry"
	}
	return strings.ToUpper(camel[:1]) + camel[1:] + "Entry"
}

func nestedByName(msg *schema.Message, name string) *schema.Message {
	for _, nested := range msg.NestedTypes {
		if nested.Name == name {
			return nested
		}
	}
	return nil
}

// toLowerCamel converts snake_case to lowerCamelCase
func toLowerCamel(s string) string {
	out := make([]byte, 0, len(s))
	upperNext := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			upperNext = true
			continue
		}
		if upperNext && c >= 'a' && c <= 'z' {
			c = c - 'a' + 'A'
		}
		upperNext = false
		out = append(out, c)
	}
	return string(out)
}
