package registry

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/schema"
)

// ErrNotFound is wrapped by lookups of unregistered type names.
var ErrNotFound = errors.New("type not found")

// Registry stores the schema of the protobuf messages. We look this up when
// we need to read or write a message. Loading takes the write lock; lookups
// are safe to run concurrently once loading is done.
type Registry struct {
	// ProtoDirectories are the import roots searched by LoadSchemaFromFile.
	ProtoDirectories []string

	mu       sync.RWMutex
	repo     *schema.ProtoRepo
	messages map[string]*schema.Message // fully qualified name -> message
	enums    map[string]*schema.Enum    // fully qualified name -> enum
}

// NewRegistry returns an empty registry resolving imports against protoDirectories.
func NewRegistry(protoDirectories []string) *Registry {
	return &Registry{
		ProtoDirectories: protoDirectories,
		repo:             &schema.ProtoRepo{ProtoFiles: make(map[string]*schema.ProtoFile)},
		messages:         make(map[string]*schema.Message),
		enums:            make(map[string]*schema.Enum),
	}
}

// Register adds a file whose type references are already fully qualified.
// Map fields are rewritten into repeated entry messages, and every message
// and enum reference is checked.
func (r *Registry) Register(files ...*schema.ProtoFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(files)
}

// registerLocked registers files as one batch: when any of them fails, the
// registry is left as it was.
func (r *Registry) registerLocked(files []*schema.ProtoFile) (err error) {
	messages, enums := maps.Clone(r.messages), maps.Clone(r.enums)
	var added []string
	defer func() {
		if err != nil {
			r.messages, r.enums = messages, enums
			for _, name := range added {
				delete(r.repo.ProtoFiles, name)
			}
		}
	}()

	// Pass 1: normalize and register all message and enum names
	for _, file := range files {
		if _, ok := r.repo.ProtoFiles[file.Name]; ok {
			continue
		}
		for _, msg := range file.Messages {
			normalizeMessage(r.getFullName(file.Package, msg.Name), msg)
		}
		if err := r.registerNames(file); err != nil {
			return err
		}
		r.repo.ProtoFiles[file.Name] = file
		added = append(added, file.Name)
	}

	// Pass 2: every field must refer to a registered type
	for _, file := range files {
		for _, msg := range file.Messages {
			if err := r.checkReferences(r.getFullName(file.Package, msg.Name), msg); err != nil {
				return fmt.Errorf("file %s: %w", file.Name, err)
			}
		}
	}
	return nil
}

// registerNames registers all message and enum names
func (r *Registry) registerNames(file *schema.ProtoFile) error {
	for _, msg := range file.Messages {
		if err := r.registerMessage(r.getFullName(file.Package, msg.Name), msg); err != nil {
			return err
		}
	}
	for _, enum := range file.Enums {
		if err := r.registerEnum(r.getFullName(file.Package, enum.Name), enum); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerMessage(fullName string, msg *schema.Message) error {
	if _, dup := r.messages[fullName]; dup {
		return fmt.Errorf("duplicate message %s", fullName)
	}
	r.messages[fullName] = msg

	for _, nested := range msg.NestedTypes {
		if err := r.registerMessage(fullName+"."+nested.Name, nested); err != nil {
			return err
		}
	}
	for _, nested := range msg.NestedEnums {
		if err := r.registerEnum(fullName+"."+nested.Name, nested); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerEnum(fullName string, enum *schema.Enum) error {
	if _, dup := r.enums[fullName]; dup {
		return fmt.Errorf("duplicate enum %s", fullName)
	}
	r.enums[fullName] = enum
	return nil
}

func (r *Registry) checkReferences(fullName string, msg *schema.Message) error {
	for _, f := range msg.Fields {
		switch f.Type.Kind {
		case schema.KindMessage:
			if _, ok := r.messages[f.Type.MessageType]; !ok {
				return fmt.Errorf("field %s.%s: %w: message %s", fullName, f.Name, ErrNotFound, f.Type.MessageType)
			}
		case schema.KindEnum:
			if _, ok := r.enums[f.Type.EnumType]; !ok {
				return fmt.Errorf("field %s.%s: %w: enum %s", fullName, f.Name, ErrNotFound, f.Type.EnumType)
			}
		case schema.KindPrimitive:
			if message.KindFor(f.Type) == message.InvalidKind {
				return fmt.Errorf("field %s.%s: unknown primitive type %q", fullName, f.Name, f.Type.PrimitiveType)
			}
		default:
			return fmt.Errorf("field %s.%s: unsupported type kind %q", fullName, f.Name, f.Type.Kind)
		}
	}
	for _, nested := range msg.NestedTypes {
		if err := r.checkReferences(fullName+"."+nested.Name, nested); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) getFullName(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// LookupMessage resolves name to a registered message and its fully
// qualified name. A leading dot is ignored; a name without its package is
// accepted when exactly one registered message ends with it.
func (r *Registry) LookupMessage(name string) (string, *schema.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.TrimPrefix(name, ".")
	if msg, ok := r.messages[name]; ok {
		return name, msg, nil
	}
	full, err := uniqueSuffix(name, r.messages)
	if err != nil {
		return "", nil, fmt.Errorf("message %s: %w", name, err)
	}
	return full, r.messages[full], nil
}

// GetMessage retrieves a message definition by name
func (r *Registry) GetMessage(name string) (*schema.Message, error) {
	_, msg, err := r.LookupMessage(name)
	return msg, err
}

// GetEnum retrieves an enum definition by name
func (r *Registry) GetEnum(name string) (*schema.Enum, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.TrimPrefix(name, ".")
	if enum, ok := r.enums[name]; ok {
		return enum, nil
	}
	full, err := uniqueSuffix(name, r.enums)
	if err != nil {
		return nil, fmt.Errorf("enum %s: %w", name, err)
	}
	return r.enums[full], nil
}

func uniqueSuffix[T any](name string, table map[string]T) (string, error) {
	var found []string
	for fullName := range table {
		if strings.HasSuffix(fullName, "."+name) {
			found = append(found, fullName)
		}
	}
	switch len(found) {
	case 0:
		return "", ErrNotFound
	case 1:
		return found[0], nil
	}
	sort.Strings(found)
	return "", fmt.Errorf("ambiguous name, candidates %s", strings.Join(found, ", "))
}

// NewBuilder returns an empty message builder for the named type.
func (r *Registry) NewBuilder(typeName string) (*message.Builder, error) {
	full, msg, err := r.LookupMessage(typeName)
	if err != nil {
		return nil, err
	}
	return message.NewBuilder(full, msg, r), nil
}

// ListMessages returns all registered message names, sorted
func (r *Registry) ListMessages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.messages)
}

// ListEnums returns all registered enum names, sorted
func (r *Registry) ListEnums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.enums)
}

// Files returns the names of the registered files, sorted.
func (r *Registry) Files() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.repo.ProtoFiles)
}

func sortedKeys[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
