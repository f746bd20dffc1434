package registry

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/anirudhraja/protobridge/schema"
)

var primitiveKinds = map[protoreflect.Kind]schema.PrimitiveType{
	protoreflect.DoubleKind:   schema.TypeDouble,
	protoreflect.FloatKind:    schema.TypeFloat,
	protoreflect.Int64Kind:    schema.TypeInt64,
	protoreflect.Uint64Kind:   schema.TypeUint64,
	protoreflect.Int32Kind:    schema.TypeInt32,
	protoreflect.Fixed64Kind:  schema.TypeFixed64,
	protoreflect.Fixed32Kind:  schema.TypeFixed32,
	protoreflect.BoolKind:     schema.TypeBool,
	protoreflect.StringKind:   schema.TypeString,
	protoreflect.BytesKind:    schema.TypeBytes,
	protoreflect.Uint32Kind:   schema.TypeUint32,
	protoreflect.Sfixed32Kind: schema.TypeSfixed32,
	protoreflect.Sfixed64Kind: schema.TypeSfixed64,
	protoreflect.Sint32Kind:   schema.TypeSint32,
	protoreflect.Sint64Kind:   schema.TypeSint64,
}

// LoadFileDescriptor registers a compiled file descriptor, such as the one
// generated code exposes, along with the files it imports.
func (r *Registry) LoadFileDescriptor(fd protoreflect.FileDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var files []*schema.ProtoFile
	visited := make(map[string]struct{})
	var visit func(fd protoreflect.FileDescriptor) error
	visit = func(fd protoreflect.FileDescriptor) error {
		if _, ok := visited[fd.Path()]; ok {
			return nil
		}
		visited[fd.Path()] = struct{}{}
		if _, ok := r.repo.ProtoFiles[fd.Path()]; ok {
			return nil
		}
		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			imp := imports.Get(i)
			if imp.IsPlaceholder() {
				continue
			}
			if err := visit(imp.FileDescriptor); err != nil {
				return err
			}
		}
		file, err := fileFromDescriptor(fd)
		if err != nil {
			return err
		}
		files = append(files, file)
		return nil
	}
	if err := visit(fd); err != nil {
		return err
	}
	return r.registerLocked(files)
}

// LoadFileDescriptorSet registers every file in set, typically the output of
// protoc --descriptor_set_out --include_imports.
func (r *Registry) LoadFileDescriptorSet(set *descriptorpb.FileDescriptorSet) error {
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return fmt.Errorf("invalid descriptor set: %w", err)
	}
	var loadErr error
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		loadErr = r.LoadFileDescriptor(fd)
		return loadErr == nil
	})
	return loadErr
}

// LoadDescriptorSetBytes registers a serialized FileDescriptorSet.
func (r *Registry) LoadDescriptorSetBytes(b []byte) error {
	set := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(b, set); err != nil {
		return fmt.Errorf("failed to unmarshal descriptor set: %w", err)
	}
	return r.LoadFileDescriptorSet(set)
}

func fileFromDescriptor(fd protoreflect.FileDescriptor) (*schema.ProtoFile, error) {
	file := &schema.ProtoFile{
		Name:    fd.Path(),
		Package: string(fd.Package()),
		Syntax:  fd.Syntax().String(),
	}
	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		imp := imports.Get(i)
		file.Imports = append(file.Imports, &schema.Import{
			Path:   imp.Path(),
			Public: imp.IsPublic,
			Weak:   imp.IsWeak,
		})
	}
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		msg, err := messageFromDescriptor(msgs.Get(i))
		if err != nil {
			return nil, err
		}
		file.Messages = append(file.Messages, msg)
	}
	enums := fd.Enums()
	for i := 0; i < enums.Len(); i++ {
		file.Enums = append(file.Enums, enumFromDescriptor(enums.Get(i)))
	}
	return file, nil
}

func messageFromDescriptor(md protoreflect.MessageDescriptor) (*schema.Message, error) {
	msg := &schema.Message{
		Name:     string(md.Name()),
		MapEntry: md.IsMapEntry(),
	}

	// Synthetic oneofs of proto3 optional fields are not real groups.
	oneofIndex := make(map[protoreflect.FullName]int32)
	oneofs := md.Oneofs()
	for i := 0; i < oneofs.Len(); i++ {
		od := oneofs.Get(i)
		if od.IsSynthetic() {
			continue
		}
		group := &schema.Oneof{Name: string(od.Name())}
		members := od.Fields()
		for j := 0; j < members.Len(); j++ {
			group.Fields = append(group.Fields, string(members.Get(j).Name()))
		}
		oneofIndex[od.FullName()] = int32(len(msg.OneofGroups))
		msg.OneofGroups = append(msg.OneofGroups, group)
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		f := &schema.Field{
			Name:       string(fd.Name()),
			Number:     int32(fd.Number()),
			Label:      schema.LabelOptional,
			JsonName:   fd.JSONName(),
			OneofIndex: -1,
			Packed:     fd.IsPacked(),
		}
		switch fd.Cardinality() {
		case protoreflect.Repeated:
			f.Label = schema.LabelRepeated
		case protoreflect.Required:
			f.Label = schema.LabelRequired
		}
		if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
			f.OneofIndex = oneofIndex[od.FullName()]
		}

		switch fd.Kind() {
		case protoreflect.MessageKind, protoreflect.GroupKind:
			f.Type = schema.FieldType{Kind: schema.KindMessage, MessageType: string(fd.Message().FullName())}
		case protoreflect.EnumKind:
			f.Type = schema.FieldType{Kind: schema.KindEnum, EnumType: string(fd.Enum().FullName())}
		default:
			pt, ok := primitiveKinds[fd.Kind()]
			if !ok {
				return nil, fmt.Errorf("field %s: unsupported kind %v", fd.FullName(), fd.Kind())
			}
			f.Type = schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: pt}
		}
		if fd.HasDefault() {
			f.DefaultValue = defaultString(fd)
		}
		msg.Fields = append(msg.Fields, f)
	}

	nested := md.Messages()
	for i := 0; i < nested.Len(); i++ {
		n, err := messageFromDescriptor(nested.Get(i))
		if err != nil {
			return nil, err
		}
		msg.NestedTypes = append(msg.NestedTypes, n)
	}
	enums := md.Enums()
	for i := 0; i < enums.Len(); i++ {
		msg.NestedEnums = append(msg.NestedEnums, enumFromDescriptor(enums.Get(i)))
	}
	return msg, nil
}

// defaultString renders a declared default the way it is written in a
// .proto file.
func defaultString(fd protoreflect.FieldDescriptor) string {
	v := fd.Default()
	switch fd.Kind() {
	case protoreflect.EnumKind:
		return string(fd.DefaultEnumValue().Name())
	case protoreflect.BytesKind:
		return string(v.Bytes())
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BoolKind:
		return strconv.FormatBool(v.Bool())
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case protoreflect.Uint32Kind, protoreflect.Uint64Kind, protoreflect.Fixed32Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(v.Uint(), 10)
	}
	return strconv.FormatInt(v.Int(), 10)
}

func enumFromDescriptor(ed protoreflect.EnumDescriptor) *schema.Enum {
	enum := &schema.Enum{Name: string(ed.Name())}
	if opts, ok := ed.Options().(*descriptorpb.EnumOptions); ok {
		enum.AllowAlias = opts.GetAllowAlias()
	}
	values := ed.Values()
	for i := 0; i < values.Len(); i++ {
		v := values.Get(i)
		enum.Values = append(enum.Values, &schema.EnumValue{Name: string(v.Name()), Number: int32(v.Number())})
	}
	return enum
}
