package schema

// FieldByName returns the field with the exact name, or nil.
func (m *Message) FieldByName(name string) *Field {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldByNumber returns the field with the given number, or nil.
func (m *Message) FieldByNumber(number int32) *Field {
	for _, f := range m.Fields {
		if f.Number == number {
			return f
		}
	}
	return nil
}

// OneofSiblings returns the other members of the oneof group f belongs to.
// It returns nil when f is not part of a oneof.
func (m *Message) OneofSiblings(f *Field) []*Field {
	if f.OneofIndex < 0 || int(f.OneofIndex) >= len(m.OneofGroups) {
		return nil
	}
	var out []*Field
	for _, name := range m.OneofGroups[f.OneofIndex].Fields {
		if name == f.Name {
			continue
		}
		if sib := m.FieldByName(name); sib != nil {
			out = append(out, sib)
		}
	}
	return out
}

// IsRepeated reports whether the field holds an ordered list of values.
func (f *Field) IsRepeated() bool { return f.Label == LabelRepeated }

// IsRequired reports whether the field is a proto2 required field.
func (f *Field) IsRequired() bool { return f.Label == LabelRequired }

// AlwaysEmitted reports whether the field is written even when unset.
// Repeated fields are treated like required ones: they are always present.
func (f *Field) AlwaysEmitted() bool { return f.IsRepeated() || f.IsRequired() }

// ValueByName returns the enum value with the given name, or nil.
func (e *Enum) ValueByName(name string) *EnumValue {
	for _, v := range e.Values {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// ValueByNumber returns the first enum value with the given number, or nil.
// With allow_alias several names share a number; the first declared wins.
func (e *Enum) ValueByNumber(number int32) *EnumValue {
	for _, v := range e.Values {
		if v.Number == number {
			return v
		}
	}
	return nil
}

// Default returns the first declared value, which protobuf uses as the
// default of an unset enum field.
func (e *Enum) Default() *EnumValue {
	if len(e.Values) == 0 {
		return nil
	}
	return e.Values[0]
}
