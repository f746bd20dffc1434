package registry

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	protoparser "github.com/yoheimuta/go-protoparser/v4"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"

	"github.com/anirudhraja/protobridge/schema"
)

// parsedFile is one .proto file as returned by go-protoparser.
type parsedFile struct {
	path    string
	body    *protoparserparser.Proto
	pkg     string
	syntax  string
	imports []*schema.Import
}

// LoadSchemaFromFile parses protoFile, found under one of ProtoDirectories,
// together with everything it imports, resolves type references and
// registers the result.
func (r *Registry) LoadSchemaFromFile(protoFile string) error {
	parsed, err := r.getAllProtoInfo(protoFile)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := &converter{
		messages: make(map[string]struct{}),
		enums:    make(map[string]struct{}),
	}
	for name := range r.messages {
		c.messages[name] = struct{}{}
	}
	for name := range r.enums {
		c.enums[name] = struct{}{}
	}
	for _, pf := range parsed {
		c.collectNames(pf.pkg, pf.body.ProtoBody)
	}

	files := make([]*schema.ProtoFile, 0, len(parsed))
	for _, pf := range parsed {
		file, err := c.file(pf)
		if err != nil {
			return fmt.Errorf("failed to load proto file %s: %w", pf.path, err)
		}
		files = append(files, file)
	}
	return r.registerLocked(files)
}

// getAllProtoInfo uses DFS to parse protoFile and all the files it imports.
// Dependencies come before the files importing them.
func (r *Registry) getAllProtoInfo(protoFile string) ([]*parsedFile, error) {
	visited := make(map[string]struct{}) // to make sure we don't end up in a loop
	var result []*parsedFile

	var dfs func(fullPath string) error
	dfs = func(fullPath string) error {
		if _, ok := visited[fullPath]; ok {
			return nil
		}
		visited[fullPath] = struct{}{}

		protoBytes, err := os.ReadFile(fullPath)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		body, err := protoparser.Parse(bytes.NewReader(protoBytes))
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", fullPath, err)
		}

		pf := &parsedFile{path: fullPath, body: body, syntax: "proto2"}
		if body.Syntax != nil {
			pf.syntax = strings.Trim(body.Syntax.ProtobufVersion, `"'`)
		}
		for _, item := range body.ProtoBody {
			switch b := item.(type) {
			case *protoparserparser.Package:
				pf.pkg = b.Name
			case *protoparserparser.Import: // resolve relation for each import
				importPath := strings.Trim(b.Location, `"'`)
				pf.imports = append(pf.imports, &schema.Import{
					Path:   importPath,
					Public: b.Modifier == protoparserparser.ImportModifierPublic,
					Weak:   b.Modifier == protoparserparser.ImportModifierWeak,
				})
				fullImportPath, err := r.findIfProtoExists(importPath)
				if err != nil {
					// Well-known types are only needed when referenced;
					// registration reports the missing type in that case.
					if strings.HasPrefix(importPath, "google/protobuf/") {
						continue
					}
					return err
				}
				if err := dfs(fullImportPath); err != nil {
					return err
				}
			}
		}
		result = append(result, pf)
		return nil
	}

	protoPath, err := r.findIfProtoExists(protoFile)
	if err != nil {
		return nil, err
	}
	if err := dfs(protoPath); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Registry) findIfProtoExists(protoPath string) (string, error) {
	protoPath = strings.Trim(protoPath, `"`)
	if !strings.HasSuffix(protoPath, ".proto") {
		return "", fmt.Errorf("file %s is not a .proto file", protoPath)
	}
	candidates := []string{protoPath}
	if !filepath.IsAbs(protoPath) {
		candidates = candidates[:0]
		for _, dir := range r.ProtoDirectories {
			candidates = append(candidates, path.Join(dir, protoPath))
		}
	}
	var lastErr error
	for _, fullPath := range candidates {
		info, err := os.Stat(fullPath)
		if err == nil && !info.IsDir() {
			return fullPath, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return "", fmt.Errorf("path does not exist: %s: %w", protoPath, lastErr)
}

// converter turns parsed files into schema files with fully qualified type
// references.
type converter struct {
	messages map[string]struct{}
	enums    map[string]struct{}
}

func (c *converter) collectNames(scope string, body []protoparserparser.Visitee) {
	for _, item := range body {
		switch b := item.(type) {
		case *protoparserparser.Message:
			full := qualify(scope, b.MessageName)
			c.messages[full] = struct{}{}
			c.collectNames(full, b.MessageBody)
		case *protoparserparser.Enum:
			c.enums[qualify(scope, b.EnumName)] = struct{}{}
		}
	}
}

func (c *converter) file(pf *parsedFile) (*schema.ProtoFile, error) {
	file := &schema.ProtoFile{
		Name:    pf.path,
		Package: pf.pkg,
		Syntax:  pf.syntax,
		Imports: pf.imports,
	}
	for _, item := range pf.body.ProtoBody {
		switch b := item.(type) {
		case *protoparserparser.Message:
			msg, err := c.message(pf.pkg, b, pf.syntax)
			if err != nil {
				return nil, err
			}
			file.Messages = append(file.Messages, msg)
		case *protoparserparser.Enum:
			enum, err := convertEnum(b)
			if err != nil {
				return nil, err
			}
			file.Enums = append(file.Enums, enum)
		}
	}
	return file, nil
}

func (c *converter) message(scope string, m *protoparserparser.Message, syntax string) (*schema.Message, error) {
	full := qualify(scope, m.MessageName)
	msg := &schema.Message{Name: m.MessageName}

	for _, item := range m.MessageBody {
		switch b := item.(type) {
		case *protoparserparser.Field:
			f, err := c.field(full, b.FieldName, b.FieldNumber, b.Type, b.FieldOptions, syntax)
			if err != nil {
				return nil, err
			}
			switch {
			case b.IsRepeated:
				f.Label = schema.LabelRepeated
			case b.IsRequired:
				f.Label = schema.LabelRequired
			}
			f.Packed = f.IsRepeated() && packed(f, b.FieldOptions, syntax)
			msg.Fields = append(msg.Fields, f)

		case *protoparserparser.MapField:
			number, err := parseNumber(b.FieldNumber)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", full, b.MapName, err)
			}
			key, err := c.resolveType(b.KeyType, full)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", full, b.MapName, err)
			}
			value, err := c.resolveType(b.Type, full)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", full, b.MapName, err)
			}
			msg.Fields = append(msg.Fields, &schema.Field{
				Name:       b.MapName,
				Number:     int32(number),
				Label:      schema.LabelRepeated,
				Type:       schema.FieldType{Kind: schema.KindMap, MapKey: &key, MapValue: &value},
				OneofIndex: -1,
			})

		case *protoparserparser.Oneof:
			group := &schema.Oneof{Name: b.OneofName}
			index := int32(len(msg.OneofGroups))
			for _, of := range b.OneofFields {
				f, err := c.field(full, of.FieldName, of.FieldNumber, of.Type, of.FieldOptions, syntax)
				if err != nil {
					return nil, err
				}
				f.OneofIndex = index
				msg.Fields = append(msg.Fields, f)
				group.Fields = append(group.Fields, f.Name)
			}
			msg.OneofGroups = append(msg.OneofGroups, group)

		case *protoparserparser.Message:
			nested, err := c.message(full, b, syntax)
			if err != nil {
				return nil, err
			}
			msg.NestedTypes = append(msg.NestedTypes, nested)

		case *protoparserparser.Enum:
			enum, err := convertEnum(b)
			if err != nil {
				return nil, err
			}
			msg.NestedEnums = append(msg.NestedEnums, enum)
		}
	}
	return msg, nil
}

func (c *converter) field(scope, name, number, typeName string, opts []*protoparserparser.FieldOption, syntax string) (*schema.Field, error) {
	n, err := parseNumber(number)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", scope, name, err)
	}
	ft, err := c.resolveType(typeName, scope)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", scope, name, err)
	}
	f := &schema.Field{
		Name:       name,
		Number:     int32(n),
		Label:      schema.LabelOptional,
		Type:       ft,
		OneofIndex: -1,
	}
	for _, opt := range opts {
		switch opt.OptionName {
		case "default":
			f.DefaultValue = strings.Trim(opt.Constant, `"'`)
		case "json_name":
			f.JsonName = strings.Trim(opt.Constant, `"'`)
		}
	}
	return f, nil
}

// packed reports whether a repeated field uses packed encoding: proto3 packs
// numeric scalars unless told otherwise, proto2 only on request.
func packed(f *schema.Field, opts []*protoparserparser.FieldOption, syntax string) bool {
	if f.Type.Kind != schema.KindPrimitive && f.Type.Kind != schema.KindEnum {
		return false
	}
	if f.Type.Kind == schema.KindPrimitive && !schema.IsPackedType(f.Type.PrimitiveType) {
		return false
	}
	for _, opt := range opts {
		if opt.OptionName == "packed" {
			return opt.Constant == "true"
		}
	}
	return syntax == "proto3"
}

var scalarTypes = map[string]schema.PrimitiveType{
	"double":   schema.TypeDouble,
	"float":    schema.TypeFloat,
	"int64":    schema.TypeInt64,
	"uint64":   schema.TypeUint64,
	"int32":    schema.TypeInt32,
	"fixed64":  schema.TypeFixed64,
	"fixed32":  schema.TypeFixed32,
	"bool":     schema.TypeBool,
	"string":   schema.TypeString,
	"bytes":    schema.TypeBytes,
	"uint32":   schema.TypeUint32,
	"sfixed32": schema.TypeSfixed32,
	"sfixed64": schema.TypeSfixed64,
	"sint32":   schema.TypeSint32,
	"sint64":   schema.TypeSint64,
}

// resolveType maps a type name as written in a field declaration to a
// FieldType with a fully qualified message or enum reference.
func (c *converter) resolveType(typeName, scope string) (schema.FieldType, error) {
	if pt, ok := scalarTypes[typeName]; ok {
		return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: pt}, nil
	}
	full, err := getReferencedType(typeName, scope, c.known)
	if err != nil {
		return schema.FieldType{}, err
	}
	if _, ok := c.messages[full]; ok {
		return schema.FieldType{Kind: schema.KindMessage, MessageType: full}, nil
	}
	return schema.FieldType{Kind: schema.KindEnum, EnumType: full}, nil
}

func (c *converter) known(name string) bool {
	if _, ok := c.messages[name]; ok {
		return true
	}
	_, ok := c.enums[name]
	return ok
}

/*
getReferencedType returns the fully qualified name for a referenced type, be
it nested, file level or imported. Scopes are searched from the innermost
outwards, as protoc does.
Ref - https://github.com/protocolbuffers/protobuf/blob/b7a5772caf08d62a20fd1bca258f501fa4db022c/src/google/protobuf/descriptor.proto#L186-L191
*/
func getReferencedType(typeName, scope string, known func(string) bool) (string, error) {
	// fully qualified, prefixed by dot
	if strings.HasPrefix(typeName, ".") {
		if full := typeName[1:]; known(full) {
			return full, nil
		}
		return "", fmt.Errorf("unable to resolve fully qualified type name: %s", typeName)
	}
	if scope != "" {
		parts := strings.Split(scope, ".")
		// Omit the last element in each iteration as we go a level above to the outer entity
		for i := len(parts); i > 0; i-- {
			candidate := strings.Join(parts[:i], ".") + "." + typeName
			if known(candidate) {
				return candidate, nil
			}
		}
	}
	if known(typeName) {
		return typeName, nil
	}
	return "", fmt.Errorf("unable to resolve type name: %s", typeName)
}

func convertEnum(e *protoparserparser.Enum) (*schema.Enum, error) {
	enum := &schema.Enum{Name: e.EnumName}
	for _, item := range e.EnumBody {
		switch b := item.(type) {
		case *protoparserparser.EnumField:
			n, err := parseNumber(b.Number)
			if err != nil {
				return nil, fmt.Errorf("enum %s.%s: %w", e.EnumName, b.Ident, err)
			}
			enum.Values = append(enum.Values, &schema.EnumValue{Name: b.Ident, Number: int32(n)})
		case *protoparserparser.Option:
			if b.OptionName == "allow_alias" && b.Constant == "true" {
				enum.AllowAlias = true
			}
		}
	}
	return enum, nil
}

func parseNumber(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return n, nil
}

func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}
