// Package testschema provides the address book schema shared by tests.
package testschema

import (
	"github.com/anirudhraja/protobridge/registry"
	"github.com/anirudhraja/protobridge/schema"
)

func primitive(pt schema.PrimitiveType) schema.FieldType {
	return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: pt}
}

func field(name string, number int32, label schema.FieldLabel, typ schema.FieldType) *schema.Field {
	return &schema.Field{Name: name, Number: number, Label: label, Type: typ, OneofIndex: -1}
}

// File returns a fresh copy of the tutorial address book schema:
//
//	message Person {
//	  optional string name = 1;
//	  required int32 id = 2;
//	  optional string email = 3;
//	  repeated PhoneNumber phone = 4;
//	  optional bytes photo = 5;
//	  optional double score = 6;
//	  repeated string tags = 7;
//	  optional uint64 big = 8;
//	  optional float ratio = 9;
//	  optional Person friend = 10;
//	  map<string, int32> scores = 11;
//	  oneof contact { string twitter = 12; string fax = 13; }
//	  optional sint64 offset = 14;
//	  repeated int32 lucky = 15 [packed = true];
//	  optional fixed32 crc = 16;
//	  optional sfixed64 delta = 17;
//	  optional bool active = 18;
//	}
//	message PhoneNumber {
//	  required string number = 1;
//	  optional PhoneType type = 2 [default = HOME];
//	}
//	enum PhoneType { MOBILE = 0; HOME = 1; WORK = 2; }
//	message AddressBook { repeated Person person = 1; }
func File() *schema.ProtoFile {
	phoneType := field("type", 2, schema.LabelOptional, schema.FieldType{Kind: schema.KindEnum, EnumType: "tutorial.Person.PhoneType"})
	phoneType.DefaultValue = "HOME"

	twitter := field("twitter", 12, schema.LabelOptional, primitive(schema.TypeString))
	twitter.OneofIndex = 0
	fax := field("fax", 13, schema.LabelOptional, primitive(schema.TypeString))
	fax.OneofIndex = 0

	lucky := field("lucky", 15, schema.LabelRepeated, primitive(schema.TypeInt32))
	lucky.Packed = true

	keyType := primitive(schema.TypeString)
	valueType := primitive(schema.TypeInt32)

	person := &schema.Message{
		Name: "Person",
		Fields: []*schema.Field{
			field("name", 1, schema.LabelOptional, primitive(schema.TypeString)),
			field("id", 2, schema.LabelRequired, primitive(schema.TypeInt32)),
			field("email", 3, schema.LabelOptional, primitive(schema.TypeString)),
			field("phone", 4, schema.LabelRepeated, schema.FieldType{Kind: schema.KindMessage, MessageType: "tutorial.Person.PhoneNumber"}),
			field("photo", 5, schema.LabelOptional, primitive(schema.TypeBytes)),
			field("score", 6, schema.LabelOptional, primitive(schema.TypeDouble)),
			field("tags", 7, schema.LabelRepeated, primitive(schema.TypeString)),
			field("big", 8, schema.LabelOptional, primitive(schema.TypeUint64)),
			field("ratio", 9, schema.LabelOptional, primitive(schema.TypeFloat)),
			field("friend", 10, schema.LabelOptional, schema.FieldType{Kind: schema.KindMessage, MessageType: "tutorial.Person"}),
			field("scores", 11, schema.LabelRepeated, schema.FieldType{Kind: schema.KindMap, MapKey: &keyType, MapValue: &valueType}),
			twitter,
			fax,
			field("offset", 14, schema.LabelOptional, primitive(schema.TypeSint64)),
			lucky,
			field("crc", 16, schema.LabelOptional, primitive(schema.TypeFixed32)),
			field("delta", 17, schema.LabelOptional, primitive(schema.TypeSfixed64)),
			field("active", 18, schema.LabelOptional, primitive(schema.TypeBool)),
		},
		NestedTypes: []*schema.Message{{
			Name: "PhoneNumber",
			Fields: []*schema.Field{
				field("number", 1, schema.LabelRequired, primitive(schema.TypeString)),
				phoneType,
			},
		}},
		NestedEnums: []*schema.Enum{{
			Name: "PhoneType",
			Values: []*schema.EnumValue{
				{Name: "MOBILE", Number: 0},
				{Name: "HOME", Number: 1},
				{Name: "WORK", Number: 2},
			},
		}},
		OneofGroups: []*schema.Oneof{{Name: "contact", Fields: []string{"twitter", "fax"}}},
	}

	book := &schema.Message{
		Name: "AddressBook",
		Fields: []*schema.Field{
			field("person", 1, schema.LabelRepeated, schema.FieldType{Kind: schema.KindMessage, MessageType: "tutorial.Person"}),
		},
	}

	return &schema.ProtoFile{
		Name:     "tutorial/addressbook.proto",
		Package:  "tutorial",
		Syntax:   "proto2",
		Messages: []*schema.Message{person, book},
	}
}

// NewRegistry returns a registry holding File.
func NewRegistry() (*registry.Registry, error) {
	r := registry.NewRegistry(nil)
	if err := r.Register(File()); err != nil {
		return nil, err
	}
	return r, nil
}
