package codec

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/anirudhraja/protobridge/internal/testschema"
	"github.com/anirudhraja/protobridge/message"
	"github.com/anirudhraja/protobridge/registry"
	"github.com/anirudhraja/protobridge/schema"
	"github.com/anirudhraja/protobridge/token"
)

type driver struct {
	name string
	open func(string) token.Reader
}

var drivers = []driver{
	{"located", func(s string) token.Reader { return token.NewLocatedReader(strings.NewReader(s), token.LocatedOptions{}) }},
	{"decoder", func(s string) token.Reader { return token.NewDecoder(strings.NewReader(s)) }},
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := testschema.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func enumValue(t *testing.T, reg *registry.Registry, name string) message.Value {
	t.Helper()
	enum, err := reg.GetEnum("tutorial.Person.PhoneType")
	if err != nil {
		t.Fatal(err)
	}
	ev := enum.ValueByName(name)
	if ev == nil {
		t.Fatalf("no enum value %s", name)
	}
	return message.ValueOfEnum(ev)
}

// build creates a message of typeName with the given field values.
func build(t *testing.T, reg *registry.Registry, typeName string, fields map[string]message.Value) *message.Message {
	t.Helper()
	b, err := reg.NewBuilder(typeName)
	if err != nil {
		t.Fatal(err)
	}
	for name, v := range fields {
		if err := b.SetByName(name, v); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func phone(t *testing.T, reg *registry.Registry, number, typ string) message.Value {
	t.Helper()
	fields := map[string]message.Value{"number": message.ValueOfString(number)}
	if typ != "" {
		fields["type"] = enumValue(t, reg, typ)
	}
	return message.ValueOfMessage(build(t, reg, "tutorial.Person.PhoneNumber", fields))
}

func write(t *testing.T, m *message.Message) string {
	t.Helper()
	var buf bytes.Buffer
	out := token.NewWriter(&buf, "")
	if err := NewWriter(out, Options{}).WriteMessage(m); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := out.Flush(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func read(reg *registry.Registry, in token.Reader, opts Options) (*message.Message, error) {
	return NewReader(in, reg, opts).ReadMessage("tutorial.Person")
}

func fullPerson(t *testing.T, reg *registry.Registry) *message.Message {
	t.Helper()
	entry := build(t, reg, "tutorial.Person.ScoresEntry", map[string]message.Value{
		"key":   message.ValueOfString("math"),
		"value": message.ValueOfInt(97),
	})
	friend := build(t, reg, "tutorial.Person", map[string]message.Value{
		"id":   message.ValueOfInt(2),
		"name": message.ValueOfString("Bob"),
	})
	return build(t, reg, "tutorial.Person", map[string]message.Value{
		"name":   message.ValueOfString("Ann \"the\" Coder\n"),
		"id":     message.ValueOfInt(-7),
		"email":  message.ValueOfString("ann@example.com"),
		"phone":  message.ValueOfList(phone(t, reg, "111", "WORK"), phone(t, reg, "222", "")),
		"photo":  message.ValueOfBytes([]byte{0, 1, 0xfe, 0xff}),
		"score":  message.ValueOfFloat(math.Inf(-1)),
		"tags":   message.ValueOfList(message.ValueOfString("c"), message.ValueOfString("a"), message.ValueOfString("b")),
		"big":    message.ValueOfUint(math.MaxUint64),
		"ratio":  message.ValueOfFloat(float64(float32(0.1))),
		"friend": message.ValueOfMessage(friend),
		"scores": message.ValueOfList(message.ValueOfMessage(entry)),
		"fax":    message.ValueOfString("555"),
		"offset": message.ValueOfInt(math.MinInt64),
		"lucky":  message.ValueOfList(message.ValueOfInt(3), message.ValueOfInt(-1)),
		"crc":    message.ValueOfUint(math.MaxUint32),
		"delta":  message.ValueOfInt(-42),
		"active": message.ValueOfBool(true),
	})
}

func TestRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	tests := map[string]*message.Message{
		"full":  fullPerson(t, reg),
		"empty": build(t, reg, "tutorial.Person", nil),
		"nan":   build(t, reg, "tutorial.Person", map[string]message.Value{"score": message.ValueOfFloat(math.NaN())}),
	}
	for name, m := range tests {
		encoded := write(t, m)
		for _, d := range drivers {
			t.Run(name+"/"+d.name, func(t *testing.T) {
				got, err := read(reg, d.open(encoded), Options{})
				if err != nil {
					t.Fatalf("ReadMessage(%s): %v", encoded, err)
				}
				if !got.Equal(m) {
					t.Errorf("round trip mismatch\nwant %v\ngot  %v", m, got)
				}
			})
		}
	}
}

func TestWriteMessage(t *testing.T) {
	reg := newRegistry(t)
	tests := []struct {
		name string
		msg  *message.Message
		want string
	}{
		{
			name: "empty",
			msg:  build(t, reg, "tutorial.Person", nil),
			want: `{"id":0,"phone":[],"tags":[],"scores":[],"lucky":[]}`,
		},
		{
			name: "declaration order",
			msg: build(t, reg, "tutorial.Person", map[string]message.Value{
				"tags":  message.ValueOfList(message.ValueOfString("x")),
				"name":  message.ValueOfString("Ann"),
				"phone": message.ValueOfList(phone(t, reg, "111", "WORK"), phone(t, reg, "222", "")),
				"id":    message.ValueOfInt(7),
				"photo": message.ValueOfBytes([]byte{1, 2, 3}),
			}),
			want: `{"name":"Ann","id":7,"phone":[{"number":"111","type":"WORK"},{"number":"222"}],"photo":"AQID","tags":["x"],"scores":[],"lucky":[]}`,
		},
		{
			name: "floats",
			msg: build(t, reg, "tutorial.Person", map[string]message.Value{
				"id":    message.ValueOfInt(1),
				"score": message.ValueOfFloat(math.NaN()),
				"ratio": message.ValueOfFloat(float64(float32(0.1))),
			}),
			want: `{"id":1,"phone":[],"score":"NaN","tags":[],"ratio":0.1,"scores":[],"lucky":[]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, write(t, tt.msg)); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnknownFieldTolerance(t *testing.T) {
	reg := newRegistry(t)
	want := build(t, reg, "tutorial.Person", map[string]message.Value{
		"name":  message.ValueOfString("Ann"),
		"id":    message.ValueOfInt(1),
		"phone": message.ValueOfList(phone(t, reg, "111", "HOME")),
	})

	values := []string{
		`1`, `"s"`, `true`, `null`, `{}`, `[]`,
		`{"a":{"b":[1,{"c":[]}]}}`,
		`[[[]],{"x":[{"y":null}]},"z"]`,
		`{"name":"decoy","id":99,"phone":[{"number":"000"}]}`,
	}
	templates := []string{
		`{"extra":%s,"name":"Ann","id":1,"phone":[{"number":"111","type":"HOME"}]}`,
		`{"name":"Ann","id":1,"extra":%s,"phone":[{"number":"111","type":"HOME"}]}`,
		`{"name":"Ann","id":1,"phone":[{"number":"111","extra":%s,"type":"HOME"}]}`,
		`{"name":"Ann","id":1,"phone":[{"number":"111","type":"HOME","extra":%s}],"extra2":%s}`,
	}
	for _, d := range drivers {
		for _, tmpl := range templates {
			for _, v := range values {
				input := strings.ReplaceAll(tmpl, "%s", v)
				t.Run(d.name+"/"+input, func(t *testing.T) {
					got, err := read(reg, d.open(input), Options{})
					if err != nil {
						t.Fatalf("ReadMessage: %v", err)
					}
					if !got.Equal(want) {
						t.Errorf("got %v, want %v", got, want)
					}
				})
			}
		}
	}
}

func TestEnumDualEncoding(t *testing.T) {
	reg := newRegistry(t)
	for _, d := range drivers {
		byName, err := read(reg, d.open(`{"id":1,"phone":[{"number":"1","type":"WORK"}]}`), Options{})
		if err != nil {
			t.Fatal(err)
		}
		byNumber, err := read(reg, d.open(`{"id":1,"phone":[{"number":"1","type":2}]}`), Options{})
		if err != nil {
			t.Fatal(err)
		}
		if !byName.Equal(byNumber) {
			t.Errorf("%s: by name %v, by number %v", d.name, byName, byNumber)
		}
	}
}

func TestOrderPreservation(t *testing.T) {
	reg := newRegistry(t)
	m, err := read(reg, drivers[0].open(`{"id":1,"tags":["c","a","b"],"lucky":[3,1,2]}`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	tags := m.Get(m.Descriptor().FieldByName("tags"))
	var got []string
	for _, v := range tags.List() {
		got = append(got, v.String())
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, got); diff != "" {
		t.Errorf("tags order (-want +got):\n%s", diff)
	}
	if got := write(t, m); !strings.Contains(got, `"lucky":[3,1,2]`) {
		t.Errorf("lucky order lost: %s", got)
	}
}

func TestMalformedInput(t *testing.T) {
	reg := newRegistry(t)
	inputs := []string{
		`{`,
		`{"phone":[`,
		`{"phone":[{`,
		`{"phone":[{"number":"111",`,
		``,
		`[]`,
		`{"id":1,"extra":{"a":[1,2}`,
		`{"id" 1}`,
		`{"id":1 "name":"x"}`,
		`{"id":1,}`,
		`{"phone":[{"number":"1"} {"number":"2"}]}`,
		`{"phone":[{"number":"1"}}`,
	}
	for _, d := range drivers {
		for _, input := range inputs {
			t.Run(d.name+"/"+input, func(t *testing.T) {
				_, err := read(reg, d.open(input), Options{})
				if !errors.Is(err, ErrStructural) {
					t.Fatalf("expected structural error, got %v", err)
				}
				var ce *Error
				if !errors.As(err, &ce) || ce.Pos == nil {
					t.Errorf("error has no position: %v", err)
				}
			})
		}
	}
}

func TestMalformedPosition(t *testing.T) {
	reg := newRegistry(t)
	_, err := read(reg, drivers[0].open("{\n  \"phone\": [\n    {\"number\": \"111\","), Options{})
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ce.Kind != Structural || ce.Pos.Line != 3 {
		t.Errorf("got kind %v at %v, want structural on line 3", ce.Kind, ce.Pos)
	}
	if got := ce.FieldPath(); got != "phone[0]" {
		t.Errorf("FieldPath = %q, want phone[0]", got)
	}
}

func TestOptionalOmission(t *testing.T) {
	reg := newRegistry(t)
	m := build(t, reg, "tutorial.Person", map[string]message.Value{"id": message.ValueOfInt(3)})
	encoded := write(t, m)
	if strings.Contains(encoded, `"name"`) || strings.Contains(encoded, `"email"`) {
		t.Errorf("unset optional fields written: %s", encoded)
	}
	got, err := read(reg, drivers[0].open(encoded), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Has(got.Descriptor().FieldByName("name")) {
		t.Error("name should be unset after round trip")
	}
}

func TestLastWriteWins(t *testing.T) {
	reg := newRegistry(t)
	for _, d := range drivers {
		m, err := read(reg, d.open(`{"id":1,"id":2}`), Options{})
		if err != nil {
			t.Fatal(err)
		}
		if got := m.Get(m.Descriptor().FieldByName("id")).Int(); got != 2 {
			t.Errorf("%s: id = %d, want 2", d.name, got)
		}
	}
}

func TestNullClearsField(t *testing.T) {
	reg := newRegistry(t)
	m, err := read(reg, drivers[0].open(`{"name":"Ann","id":1,"name":null,"tags":null}`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Has(m.Descriptor().FieldByName("name")) {
		t.Error("name should have been cleared")
	}
	if m.Has(m.Descriptor().FieldByName("tags")) {
		t.Error("tags should be unset")
	}
}

func TestOneofLastMemberWins(t *testing.T) {
	reg := newRegistry(t)
	m, err := read(reg, drivers[0].open(`{"id":1,"twitter":"@ann","fax":"555"}`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	desc := m.Descriptor()
	if m.Has(desc.FieldByName("twitter")) || !m.Has(desc.FieldByName("fax")) {
		t.Errorf("oneof siblings not cleared: %v", m)
	}
}

func TestNumericCoercion(t *testing.T) {
	reg := newRegistry(t)
	m, err := read(reg, drivers[0].open(`{"id":1e3,"big":18446744073709551615,"offset":-2.0,"ratio":0.5,"score":"-Infinity","crc":4294967295}`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	desc := m.Descriptor()
	if got := m.Get(desc.FieldByName("id")).Int(); got != 1000 {
		t.Errorf("id = %d", got)
	}
	if got := m.Get(desc.FieldByName("big")).Uint(); got != math.MaxUint64 {
		t.Errorf("big = %d", got)
	}
	if got := m.Get(desc.FieldByName("offset")).Int(); got != -2 {
		t.Errorf("offset = %d", got)
	}
	if got := m.Get(desc.FieldByName("score")).Float(); !math.IsInf(got, -1) {
		t.Errorf("score = %v", got)
	}
	if got := m.Get(desc.FieldByName("crc")).Uint(); got != math.MaxUint32 {
		t.Errorf("crc = %d", got)
	}
}

func TestSemanticErrors(t *testing.T) {
	reg := newRegistry(t)
	tests := []struct {
		input string
		path  string
	}{
		{`{"id":2147483648}`, "id"},
		{`{"id":1.5}`, "id"},
		{`{"id":"1"}`, "id"},
		{`{"big":-1}`, "big"},
		{`{"crc":4294967296}`, "crc"},
		{`{"ratio":1e39}`, "ratio"},
		{`{"score":"nan"}`, "score"},
		{`{"name":5}`, "name"},
		{`{"active":"true"}`, "active"},
		{`{"photo":"!!!"}`, "photo"},
		{`{"photo":12}`, "photo"},
		{`{"phone":[{"number":"1","type":"FAX"}]}`, "phone[0].type"},
		{`{"phone":[{"number":"1"},{"number":"2","type":7}]}`, "phone[1].type"},
		{`{"phone":[{"number":"1","type":true}]}`, "phone[0].type"},
		{`{"friend":{"friend":{"id":"x"}}}`, "friend.friend.id"},
	}
	for _, d := range drivers {
		for _, tt := range tests {
			t.Run(d.name+"/"+tt.input, func(t *testing.T) {
				_, err := read(reg, d.open(tt.input), Options{})
				if !errors.Is(err, ErrSemantic) {
					t.Fatalf("expected semantic error, got %v", err)
				}
				var ce *Error
				errors.As(err, &ce)
				if got := ce.FieldPath(); got != tt.path {
					t.Errorf("FieldPath = %q, want %q", got, tt.path)
				}
			})
		}
	}
}

func TestEnumErrorMessages(t *testing.T) {
	reg := newRegistry(t)
	_, err := read(reg, drivers[0].open(`{"phone":[{"type":"FAX"}]}`), Options{})
	if err == nil || !strings.Contains(err.Error(), "unknown enum value") {
		t.Errorf("got %v", err)
	}
	_, err = read(reg, drivers[0].open(`{"phone":[{"type":[]}]}`), Options{})
	if err == nil || !strings.Contains(err.Error(), "unexpected value for enum field") {
		t.Errorf("got %v", err)
	}
}

func TestRepeatedFieldRequiresArray(t *testing.T) {
	reg := newRegistry(t)
	_, err := read(reg, drivers[0].open(`{"tags":"a"}`), Options{})
	if !errors.Is(err, ErrStructural) {
		t.Errorf("expected structural error, got %v", err)
	}
}

func TestDepthGuard(t *testing.T) {
	reg := newRegistry(t)
	nested := func(n int) string {
		return strings.Repeat(`{"friend":`, n) + `{}` + strings.Repeat(`}`, n)
	}

	if _, err := read(reg, drivers[0].open(nested(5)), Options{MaxDepth: 3}); !errors.Is(err, ErrStructural) {
		t.Errorf("MaxDepth 3: expected structural error, got %v", err)
	}
	if _, err := read(reg, drivers[0].open(nested(3)), Options{MaxDepth: 3}); err != nil {
		t.Errorf("MaxDepth 3 at depth 3: %v", err)
	}
	if _, err := read(reg, drivers[0].open(nested(DefaultMaxDepth+1)), Options{}); !errors.Is(err, ErrStructural) {
		t.Errorf("default depth: expected structural error, got %v", err)
	}
	if _, err := read(reg, drivers[0].open(nested(DefaultMaxDepth+1)), Options{MaxDepth: -1}); err != nil {
		t.Errorf("unlimited depth: %v", err)
	}
}

func TestRequireInitialized(t *testing.T) {
	reg := newRegistry(t)
	input := `{"id":1,"phone":[{"type":"HOME"}]}`
	if _, err := read(reg, drivers[0].open(input), Options{}); err != nil {
		t.Errorf("without check: %v", err)
	}
	_, err := read(reg, drivers[0].open(input), Options{RequireInitialized: true})
	if !errors.Is(err, ErrSemantic) || !strings.Contains(err.Error(), "number") {
		t.Errorf("expected missing required field error, got %v", err)
	}
}

func TestSchemaError(t *testing.T) {
	reg := newRegistry(t)
	_, err := NewReader(drivers[0].open(`{}`), reg, Options{}).ReadMessage("tutorial.Nope")
	if !errors.Is(err, ErrSchema) {
		t.Errorf("expected schema error, got %v", err)
	}
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("cause not wrapped: %v", err)
	}
}

func TestSerializationError(t *testing.T) {
	reg := registry.NewRegistry(nil)
	err := reg.Register(&schema.ProtoFile{
		Name:    "broken.proto",
		Package: "broken",
		Enums:   []*schema.Enum{{Name: "Empty"}},
		Messages: []*schema.Message{{
			Name: "Holder",
			Fields: []*schema.Field{
				{Name: "ok", Number: 1, Label: schema.LabelOptional, Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeString}, OneofIndex: -1},
				{Name: "e", Number: 2, Label: schema.LabelRequired, Type: schema.FieldType{Kind: schema.KindEnum, EnumType: "broken.Empty"}, OneofIndex: -1},
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.NewBuilder("broken.Holder")
	if err != nil {
		t.Fatal(err)
	}
	b.SetByName("ok", message.ValueOfString("yes"))
	m, _ := b.Build()

	var buf bytes.Buffer
	out := token.NewWriter(&buf, "")
	err = NewWriter(out, Options{}).WriteMessage(m)
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
	var ce *Error
	errors.As(err, &ce)
	if ce.Type != "broken.Holder" || ce.FieldPath() != "e" {
		t.Errorf("error names %s field %s", ce.Type, ce.FieldPath())
	}
	out.Flush()
	if got := buf.String(); got != `{"ok":"yes","e":` {
		t.Errorf("partial output = %q", got)
	}

	if err := NewWriter(out, Options{}).WriteMessage(nil); !errors.Is(err, ErrSerialization) {
		t.Errorf("nil message: %v", err)
	}
}

func TestMore(t *testing.T) {
	reg := newRegistry(t)
	rd := NewReader(drivers[0].open(`{"id":1} {"id":2}`), reg, Options{})
	var ids []int64
	for {
		ok, err := rd.More()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		m, err := rd.ReadMessage("Person")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.Get(m.Descriptor().FieldByName("id")).Int())
	}
	if diff := cmp.Diff([]int64{1, 2}, ids); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
}

func TestLogsSkippedFields(t *testing.T) {
	reg := newRegistry(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if _, err := read(reg, drivers[0].open(`{"id":1,"mystery":[1]}`), Options{Logger: logger}); err != nil {
		t.Fatal(err)
	}
	if got := logs.String(); !strings.Contains(got, "skipping unknown field") || !strings.Contains(got, "field=mystery") {
		t.Errorf("log output = %q", got)
	}
}

func TestSkip(t *testing.T) {
	tests := []struct {
		input string
		after token.Kind // token following the skipped value
	}{
		{`[1, "x"] 5`, token.Number},
		{`{"a":{"b":[{}]}} true`, token.Bool},
		{`"s" null`, token.Null},
		{`[[[[[[]]]]],{}] {}`, token.BeginObject},
	}
	for _, d := range drivers {
		for _, tt := range tests {
			in := d.open(tt.input)
			if _, err := in.Next(); err != nil {
				t.Fatal(err)
			}
			if err := Skip(in); err != nil {
				t.Fatalf("%s: Skip(%s): %v", d.name, tt.input, err)
			}
			if kind, err := in.Next(); err != nil || kind != tt.after {
				t.Errorf("%s: after Skip(%s) got %v, %v; want %v", d.name, tt.input, kind, err, tt.after)
			}
		}
	}

	in := drivers[0].open(`{"a":[1,{"b":`)
	in.Next()
	if err := Skip(in); !errors.Is(err, ErrStructural) || !strings.Contains(err.Error(), "unterminated structure") {
		t.Errorf("truncated skip: %v", err)
	}
}

func TestDecodeBase64(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"+/+/", []byte{0xfb, 0xff, 0xbf}},
		{"-_-_", []byte{0xfb, 0xff, 0xbf}},
		{"+/8=", []byte{0xfb, 0xff}},
		{"-_8=", []byte{0xfb, 0xff}},
		{"+/8", []byte{0xfb, 0xff}},
		{"-_8", []byte{0xfb, 0xff}},
		{"", []byte{}},
	}
	for _, tt := range tests {
		got, err := decodeBase64(tt.in)
		if err != nil {
			t.Errorf("decodeBase64(%q): %v", tt.in, err)
			continue
		}
		if !bytes.Equal(tt.want, got) {
			t.Errorf("decodeBase64(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		text    string
		bits    int
		want    int64
		wantErr bool
	}{
		{"12", 32, 12, false},
		{"-2147483648", 32, math.MinInt32, false},
		{"2147483648", 32, 0, true},
		{"1e3", 32, 1000, false},
		{"1.5", 64, 0, true},
		{"1e10", 32, 0, true},
		{"-9223372036854775808", 64, math.MinInt64, false},
	}
	for _, tt := range tests {
		got, err := parseInt(tt.text, tt.bits)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseInt(%s, %d) error = %v, wantErr %v", tt.text, tt.bits, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseInt(%s, %d) = %d, want %d", tt.text, tt.bits, got, tt.want)
		}
	}
}
