package registry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/anirudhraja/protobridge/schema"
)

func loadAddressBook(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry([]string{"testdata"})
	if err := r.LoadSchemaFromFile("tutorial/addressbook.proto"); err != nil {
		t.Fatalf("LoadSchemaFromFile failed: %v", err)
	}
	return r
}

func writeProto(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry(nil)
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if got := r.ListMessages(); len(got) != 0 {
		t.Errorf("Expected no messages, got %v", got)
	}
	if got := r.Files(); len(got) != 0 {
		t.Errorf("Expected no files, got %v", got)
	}
}

func TestLoadSchemaFromFile_NonExistentPath(t *testing.T) {
	r := NewRegistry([]string{t.TempDir()})
	err := r.LoadSchemaFromFile("missing.proto")
	if err == nil || !strings.Contains(err.Error(), "path does not exist") {
		t.Errorf("Expected 'path does not exist' error, got: %v", err)
	}
}

func TestLoadSchemaFromFile_NonProtoFile(t *testing.T) {
	dir := t.TempDir()
	writeProto(t, dir, "test.txt", "hello")

	r := NewRegistry([]string{dir})
	err := r.LoadSchemaFromFile("test.txt")
	if err == nil || !strings.Contains(err.Error(), "is not a .proto file") {
		t.Errorf("Expected 'is not a .proto file' error, got: %v", err)
	}
}

func TestLoadSchemaFromFile_AddressBook(t *testing.T) {
	r := loadAddressBook(t)

	want := []string{
		"common.Timestamp",
		"tutorial.AddressBook",
		"tutorial.Person",
		"tutorial.Person.PhoneNumber",
		"tutorial.Person.ScoresEntry",
	}
	if diff := cmp.Diff(want, r.ListMessages()); diff != "" {
		t.Errorf("ListMessages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"tutorial.Person.PhoneType"}, r.ListEnums()); diff != "" {
		t.Errorf("ListEnums mismatch (-want +got):\n%s", diff)
	}
	if got := len(r.Files()); got != 2 {
		t.Errorf("Expected 2 files, got %d", got)
	}

	person, err := r.GetMessage("tutorial.Person")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		field string
		label schema.FieldLabel
		typ   schema.FieldType
	}{
		{"name", schema.LabelOptional, schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeString}},
		{"phone", schema.LabelRepeated, schema.FieldType{Kind: schema.KindMessage, MessageType: "tutorial.Person.PhoneNumber"}},
		{"last_updated", schema.LabelOptional, schema.FieldType{Kind: schema.KindMessage, MessageType: "common.Timestamp"}},
		{"scores", schema.LabelRepeated, schema.FieldType{Kind: schema.KindMessage, MessageType: "tutorial.Person.ScoresEntry"}},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f := person.FieldByName(tt.field)
			if f == nil {
				t.Fatalf("field %s not found", tt.field)
			}
			if f.Label != tt.label {
				t.Errorf("label = %s, want %s", f.Label, tt.label)
			}
			if diff := cmp.Diff(tt.typ, f.Type); diff != "" {
				t.Errorf("type mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if f := person.FieldByName("last_updated"); f.JsonName != "lastUpdated" {
		t.Errorf("JsonName = %q, want lastUpdated", f.JsonName)
	}
	if f := person.FieldByName("lucky_numbers"); !f.Packed {
		t.Error("lucky_numbers should be packed")
	}
	if len(person.OneofGroups) != 1 || person.OneofGroups[0].Name != "contact" {
		t.Fatalf("unexpected oneof groups %+v", person.OneofGroups)
	}
	if diff := cmp.Diff([]string{"twitter", "fax"}, person.OneofGroups[0].Fields); diff != "" {
		t.Errorf("oneof members mismatch (-want +got):\n%s", diff)
	}
	if f := person.FieldByName("fax"); f.OneofIndex != 0 {
		t.Errorf("fax OneofIndex = %d, want 0", f.OneofIndex)
	}

	entry, err := r.GetMessage("tutorial.Person.ScoresEntry")
	if err != nil {
		t.Fatal(err)
	}
	if !entry.MapEntry || len(entry.Fields) != 2 {
		t.Errorf("unexpected map entry %+v", entry)
	}

	phone, err := r.GetMessage("tutorial.Person.PhoneNumber")
	if err != nil {
		t.Fatal(err)
	}
	if f := phone.FieldByName("type"); f.DefaultValue != "HOME" || f.Type.EnumType != "tutorial.Person.PhoneType" {
		t.Errorf("unexpected phone type field %+v", f)
	}

	// proto3 packs repeated scalars by default
	ts, err := r.GetMessage("common.Timestamp")
	if err != nil {
		t.Fatal(err)
	}
	if f := ts.FieldByName("offsets"); !f.Packed {
		t.Error("proto3 offsets should be packed")
	}
}

func TestLoadSchemaFromFile_UnresolvedType(t *testing.T) {
	dir := t.TempDir()
	writeProto(t, dir, "broken.proto", `syntax = "proto3";
package broken;

message Holder {
  Missing value = 1;
}
`)
	r := NewRegistry([]string{dir})
	err := r.LoadSchemaFromFile("broken.proto")
	if err == nil || !strings.Contains(err.Error(), "unable to resolve type name: Missing") {
		t.Errorf("Expected unresolved type error, got: %v", err)
	}
}

func TestLoadSchemaFromFile_ScopedResolution(t *testing.T) {
	dir := t.TempDir()
	writeProto(t, dir, "scope.proto", `syntax = "proto3";
package a.b;

message Item {}

message Outer {
  message Item {}
  Item inner = 1;
  .a.b.Item outer = 2;
}
`)
	r := NewRegistry([]string{dir})
	if err := r.LoadSchemaFromFile("scope.proto"); err != nil {
		t.Fatal(err)
	}
	outer, err := r.GetMessage("a.b.Outer")
	if err != nil {
		t.Fatal(err)
	}
	if got := outer.FieldByName("inner").Type.MessageType; got != "a.b.Outer.Item" {
		t.Errorf("inner resolved to %s", got)
	}
	if got := outer.FieldByName("outer").Type.MessageType; got != "a.b.Item" {
		t.Errorf("outer resolved to %s", got)
	}
}

func TestLookupMessage(t *testing.T) {
	r := loadAddressBook(t)

	full, _, err := r.LookupMessage(".tutorial.Person")
	if err != nil || full != "tutorial.Person" {
		t.Errorf("leading dot lookup = %q, %v", full, err)
	}
	full, _, err = r.LookupMessage("PhoneNumber")
	if err != nil || full != "tutorial.Person.PhoneNumber" {
		t.Errorf("suffix lookup = %q, %v", full, err)
	}
	if _, _, err := r.LookupMessage("Nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := r.GetEnum("PhoneType"); err != nil {
		t.Errorf("GetEnum by suffix failed: %v", err)
	}

	dir := t.TempDir()
	writeProto(t, dir, "dup.proto", `syntax = "proto3";
package other;
message Person {}
`)
	r.ProtoDirectories = append(r.ProtoDirectories, dir)
	if err := r.LoadSchemaFromFile("dup.proto"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.LookupMessage("Person"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("Expected ambiguity error, got %v", err)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry(nil)
	file := func(name string) *schema.ProtoFile {
		return &schema.ProtoFile{
			Name:     name,
			Package:  "dup",
			Messages: []*schema.Message{{Name: "Thing"}},
		}
	}
	if err := r.Register(file("a.proto")); err != nil {
		t.Fatal(err)
	}
	// same file name is skipped
	if err := r.Register(file("a.proto")); err != nil {
		t.Errorf("re-registering a.proto: %v", err)
	}
	if err := r.Register(file("b.proto")); err == nil || !strings.Contains(err.Error(), "duplicate message dup.Thing") {
		t.Errorf("Expected duplicate error, got %v", err)
	}
}

func TestRegister_FailedBatchLeavesRegistryUnchanged(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&schema.ProtoFile{Name: "a.proto", Package: "dup", Messages: []*schema.Message{{Name: "Thing"}}}); err != nil {
		t.Fatal(err)
	}

	// b.proto registers dup.Other before hitting the duplicate dup.Thing.
	clash := &schema.ProtoFile{
		Name:     "b.proto",
		Package:  "dup",
		Messages: []*schema.Message{{Name: "Other"}, {Name: "Thing"}},
	}
	if err := r.Register(clash); err == nil || !strings.Contains(err.Error(), "duplicate message dup.Thing") {
		t.Fatalf("Expected duplicate error, got %v", err)
	}
	// c.proto fails in the reference check after its names are in.
	dangling := &schema.ProtoFile{
		Name:    "c.proto",
		Package: "ref",
		Messages: []*schema.Message{{Name: "Holder", Fields: []*schema.Field{
			{Name: "x", Number: 1, Label: schema.LabelOptional, Type: schema.FieldType{Kind: schema.KindMessage, MessageType: "ref.Missing"}, OneofIndex: -1},
		}}},
	}
	if err := r.Register(dangling); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if diff := cmp.Diff([]string{"dup.Thing"}, r.ListMessages()); diff != "" {
		t.Errorf("ListMessages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.proto"}, r.Files()); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}

	// The fixed files register cleanly afterwards.
	clash.Messages = clash.Messages[:1]
	dangling.Messages[0].NestedTypes = []*schema.Message{{Name: "Missing"}}
	dangling.Messages[0].Fields[0].Type.MessageType = "ref.Holder.Missing"
	if err := r.Register(clash, dangling); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if diff := cmp.Diff([]string{"dup.Other", "dup.Thing", "ref.Holder", "ref.Holder.Missing"}, r.ListMessages()); diff != "" {
		t.Errorf("ListMessages mismatch (-want +got):\n%s", diff)
	}
}

func TestNewBuilder(t *testing.T) {
	r := loadAddressBook(t)
	b, err := r.NewBuilder("Person")
	if err != nil {
		t.Fatal(err)
	}
	if b.TypeName() != "tutorial.Person" {
		t.Errorf("TypeName = %s", b.TypeName())
	}
	if _, err := r.NewBuilder("Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLoadFileDescriptor(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.LoadFileDescriptor(descriptorpb.File_google_protobuf_descriptor_proto); err != nil {
		t.Fatal(err)
	}

	fdp, err := r.GetMessage("google.protobuf.FieldDescriptorProto")
	if err != nil {
		t.Fatal(err)
	}
	label := fdp.FieldByName("label")
	if label.Type.Kind != schema.KindEnum || label.Type.EnumType != "google.protobuf.FieldDescriptorProto.Label" {
		t.Errorf("unexpected label field %+v", label.Type)
	}
	if label.JsonName != "label" {
		t.Errorf("JsonName = %q", label.JsonName)
	}

	opts, err := r.GetMessage("google.protobuf.FileOptions")
	if err != nil {
		t.Fatal(err)
	}
	if f := opts.FieldByName("optimize_for"); f.DefaultValue != "SPEED" {
		t.Errorf("optimize_for default = %q", f.DefaultValue)
	}
	if f := opts.FieldByName("cc_enable_arenas"); f.DefaultValue != "true" {
		t.Errorf("cc_enable_arenas default = %q", f.DefaultValue)
	}

	// loading twice is a no-op
	if err := r.LoadFileDescriptor(descriptorpb.File_google_protobuf_descriptor_proto); err != nil {
		t.Errorf("second load: %v", err)
	}
}

func TestLoadDescriptorSetBytes(t *testing.T) {
	set := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			protodesc.ToFileDescriptorProto(timestamppb.File_google_protobuf_timestamp_proto),
		},
	}
	b, err := proto.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(nil)
	if err := r.LoadDescriptorSetBytes(b); err != nil {
		t.Fatal(err)
	}
	ts, err := r.GetMessage("google.protobuf.Timestamp")
	if err != nil {
		t.Fatal(err)
	}
	if f := ts.FieldByNumber(2); f == nil || f.Name != "nanos" || f.Type.PrimitiveType != schema.TypeInt32 {
		t.Errorf("unexpected nanos field %+v", f)
	}

	if err := r.LoadDescriptorSetBytes([]byte{0xff}); err == nil {
		t.Error("Expected error for garbage descriptor set")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := loadAddressBook(t)

	var buf bytes.Buffer
	if err := r.WriteSnapshot(&buf); err != nil {
		t.Fatal(err)
	}

	restored := NewRegistry(nil)
	if err := restored.ReadSnapshot(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r.ListMessages(), restored.ListMessages()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	want, _ := r.GetMessage("tutorial.Person")
	got, err := restored.GetMessage("tutorial.Person")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Person mismatch (-want +got):\n%s", diff)
	}

	// deterministic output
	var again bytes.Buffer
	if err := restored.WriteSnapshot(&again); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), again.Bytes()) {
		t.Error("snapshot of restored registry differs")
	}
}

func TestReadSnapshot_Version(t *testing.T) {
	data, err := snapshotEncMode.Marshal(snapshot{Version: snapshotVersion + 1})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	err = NewRegistry(nil).ReadSnapshot(&buf)
	if !errors.Is(err, ErrSnapshotVersion) {
		t.Errorf("Expected ErrSnapshotVersion, got %v", err)
	}
}
