package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.bytecodealliance.org/wit"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"u8", "u8"},
		{"s64", "s64"},
		{"i32", "s32"},
		{"f32", "f32"},
		{"bool", "bool"},
		{"string", "string"},
		{"bytes", "bytes"},
		{"duration", "duration"},
		{"timestamp", "timestamp"},
		{"option<string>", "option<string>"},
		{"list<u32>", "list<u32>"},
		{"map<string, list<u32>>", "map<string, list<u32>>"},
		{" option< list< option<u8> > > ", "option<list<option<u8>>>"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			d, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			if got := d.String(); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.expr, got, tt.want)
			}
			if err := d.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{
		"",
		"list<>",
		"list<u32",
		"map<string>",
		"option<u8, u8>",
		"frob<u8>",
		"Person",
		"u32 trailing",
	} {
		t.Run(expr, func(t *testing.T) {
			if _, err := Parse(expr); err == nil {
				t.Errorf("Parse(%q) should fail", expr)
			}
		})
	}
}

func TestParseWith_Resolver(t *testing.T) {
	person := Record("Person", F("name", String()), F("tags", Sequence(String())))
	r := ResolverFunc(func(name string) (*Descriptor, bool) {
		if name == "Person" {
			return person, true
		}
		return nil, false
	})

	d, err := ParseWith("list<Person>", r)
	if err != nil {
		t.Fatalf("ParseWith: %v", err)
	}
	if d.Elem != person {
		t.Error("resolver result should be used as-is")
	}
	if got := d.Signature(); got != "list<record Person{name: string, tags: list<string>}>" {
		t.Errorf("Signature = %s", got)
	}
}

func TestFixedSize(t *testing.T) {
	tests := []struct {
		d    *Descriptor
		size int
	}{
		{Bool(), 1},
		{U8(), 1},
		{S16(), 2},
		{U32(), 4},
		{S64(), 8},
		{F32(), 4},
		{F64(), 8},
		{Duration(), 12},
		{Timestamp(), 12},
		{Object("Counter"), 8},
		{String(), -1},
		{Sequence(U8()), -1},
	}
	for _, tt := range tests {
		if got := tt.d.FixedSize(); got != tt.size {
			t.Errorf("%s.FixedSize() = %d, want %d", tt.d, got, tt.size)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Run("duplicate field", func(t *testing.T) {
		d := Record("R", F("a", U8()), F("a", U8()))
		if d.Validate() == nil {
			t.Error("expected duplicate field error")
		}
	})

	t.Run("empty enum", func(t *testing.T) {
		if Enum("E").Validate() == nil {
			t.Error("expected empty enum error")
		}
	})

	t.Run("bad width", func(t *testing.T) {
		if Int(24, false).Validate() == nil {
			t.Error("expected width error")
		}
	})

	t.Run("nil element", func(t *testing.T) {
		if Sequence(nil).Validate() == nil {
			t.Error("expected nil element error")
		}
	})

	t.Run("cycle", func(t *testing.T) {
		node := Record("Node")
		node.Fields = []Field{F("next", Optional(node))}
		if node.Validate() == nil {
			t.Error("expected recursive type error")
		}
	})

	t.Run("valid nested", func(t *testing.T) {
		shape := Enum("Shape",
			V("circle", F("radius", F64())),
			V("rect", F("w", F64()), F("h", F64())),
			V("empty"),
		)
		d := Mapping(String(), Sequence(shape))
		if err := d.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}

func TestIndexLookups(t *testing.T) {
	e := Enum("Color", V("red"), V("green"), V("blue"))
	if i, ok := e.VariantIndex("blue"); !ok || i != 2 {
		t.Errorf("VariantIndex(blue) = %d, %v", i, ok)
	}
	if _, ok := e.VariantIndex("pink"); ok {
		t.Error("VariantIndex(pink) should miss")
	}

	r := Record("P", F("x", S32()), F("y", S32()))
	if i, ok := r.FieldIndex("y"); !ok || i != 1 {
		t.Errorf("FieldIndex(y) = %d, %v", i, ok)
	}
}

func TestEqual(t *testing.T) {
	a := Record("P", F("x", S32()))
	b := Record("P", F("x", S32()))
	c := Record("P", F("x", S64()))
	if !Equal(a, b) {
		t.Error("structurally equal records should be Equal")
	}
	if Equal(a, c) {
		t.Error("different field types should not be Equal")
	}
	if Equal(a, nil) {
		t.Error("nil should not equal non-nil")
	}
	if ErrorEnum("E", V("x")).Signature() == Enum("E", V("x")).Signature() {
		t.Error("error flag should be part of the signature")
	}
}

func TestFromWIT(t *testing.T) {
	name := "point"
	tests := []struct {
		name string
		in   wit.Type
		want string
	}{
		{"u32", wit.U32{}, "u32"},
		{"s8", wit.S8{}, "s8"},
		{"string", wit.String{}, "string"},
		{"list<u8> is bytes", &wit.TypeDef{Kind: &wit.List{Type: wit.U8{}}}, "bytes"},
		{"list<string>", &wit.TypeDef{Kind: &wit.List{Type: wit.String{}}}, "list<string>"},
		{"option", &wit.TypeDef{Kind: &wit.Option{Type: wit.U64{}}}, "option<u64>"},
		{
			"record",
			&wit.TypeDef{Name: &name, Kind: &wit.Record{Fields: []wit.Field{
				{Name: "x", Type: wit.S32{}},
				{Name: "y", Type: wit.S32{}},
			}}},
			"record point{x: s32, y: s32}",
		},
		{
			"tuple",
			&wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.U32{}, wit.String{}}}},
			"record {0: u32, 1: string}",
		},
		{
			"enum",
			&wit.TypeDef{Kind: &wit.Enum{Cases: []wit.EnumCase{{Name: "a"}, {Name: "b"}}}},
			"enum {a, b}",
		},
		{
			"variant",
			&wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
				{Name: "none"},
				{Name: "some", Type: wit.U32{}},
			}}},
			"enum {none, some{value: u32}}",
		},
		{
			"result",
			&wit.TypeDef{Kind: &wit.Result{OK: wit.U32{}, Err: wit.String{}}},
			"enum {ok{value: u32}, err{value: string}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := FromWIT(tt.in)
			if err != nil {
				t.Fatalf("FromWIT: %v", err)
			}
			if got := d.Signature(); got != tt.want {
				t.Errorf("Signature = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("flags unsupported", func(t *testing.T) {
		_, err := FromWIT(&wit.TypeDef{Kind: &wit.Flags{Flags: []wit.Flag{{Name: "a"}}}})
		if err == nil {
			t.Error("flags should be rejected")
		}
	})
}

func TestSplitTopLevel(t *testing.T) {
	got := SplitTopLevel("a: map<string, u32>, b: list<option<u8>>, c: u8", ',')
	want := []string{"a: map<string, u32>", "b: list<option<u8>>", "c: u8"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFillDefaults(t *testing.T) {
	params := []Field{
		F("path", String()),
		F("mode", U32()).WithDefault(uint64(0o644)),
		F("sync", Bool()).WithDefault(false),
	}
	tests := []struct {
		name string
		args []any
		want []any
	}{
		{"all given", []any{"a", uint32(1), true}, []any{"a", uint32(1), true}},
		{"trailing defaults", []any{"a"}, []any{"a", uint64(0o644), false}},
		{"one default", []any{"a", uint32(1)}, []any{"a", uint32(1), false}},
		{"required missing", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FillDefaults(tt.args, params)); diff != "" {
				t.Errorf("FillDefaults mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
