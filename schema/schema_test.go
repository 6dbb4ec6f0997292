package schema

import (
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

func loadCounter(t *testing.T) *Document {
	t.Helper()
	doc, err := Load("testdata/counter.json")
	require.NoError(t, err)
	return doc
}

func resolveCounter(t *testing.T) *Interface {
	t.Helper()
	iface, err := Resolve(loadCounter(t))
	require.NoError(t, err)
	return iface
}

func TestLoad(t *testing.T) {
	doc := loadCounter(t)
	assert.Equal(t, "counter", doc.Namespace)
	assert.Len(t, doc.Functions, 5)
	assert.Len(t, doc.Objects[0].Methods, 4)

	_, err := Load("testdata/missing.json")
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `{`},
		{"unknown field", `{"namespace":"a","version":"1.0.0","extra":1}`},
		{"missing namespace", `{"version":"1.0.0"}`},
		{"bad namespace", `{"namespace":"Bad-Name","version":"1.0.0"}`},
		{"bad version", `{"namespace":"a","version":"one"}`},
		{"zero id", `{"namespace":"a","version":"1.0.0","functions":[{"name":"f","id":0}]}`},
		{"empty enum", `{"namespace":"a","version":"1.0.0","enums":[{"name":"e","variants":[]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestResolve(t *testing.T) {
	iface := resolveCounter(t)

	stats, ok := iface.Type("stats")
	require.True(t, ok)
	want := types.Record("stats",
		types.F("value", types.S64()),
		types.F("history", types.Sequence(types.S64())),
		types.F("label", types.Optional(types.String())),
	)
	assert.True(t, types.Equal(want, stats), "stats = %s", stats.Signature())

	defs := iface.Functions()
	require.Len(t, defs, 10)
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].ID, defs[i].ID)
	}

	ctor, ok := iface.Function("counter.new")
	require.True(t, ok)
	assert.Equal(t, types.KindObject, ctor.Returns.Kind)
	assert.Equal(t, "counter", ctor.Returns.Name)

	add, ok := iface.Function("counter.add")
	require.True(t, ok)
	assert.Equal(t, "counter", add.Receiver)
	require.Len(t, add.Params, 2)
	assert.Equal(t, "self", add.Params[0].Name)
	require.NotNil(t, add.Throws)
	assert.True(t, add.Throws.Error)
	errID, ok := iface.ErrorTypeID("counter_error")
	require.True(t, ok)
	assert.Equal(t, errID, add.ThrowsID)
	assert.NotZero(t, add.Checksum)

	wait, ok := iface.Function("counter.wait_for")
	require.True(t, ok)
	assert.True(t, wait.Async)

	sum, ok := iface.Function("sum")
	require.True(t, ok)
	assert.Equal(t, "list<counter>", sum.Params[0].Type.String())

	cbs := iface.CallbackInterfaces()
	require.Len(t, cbs, 1)
	assert.Equal(t, "observer", cbs[0].Name)
	assert.Equal(t, []string{"changed", "should_continue"},
		[]string{cbs[0].Methods[0].Name, cbs[0].Methods[1].Name})
}

func TestCheck_Problems(t *testing.T) {
	doc := &Document{
		Namespace: "broken",
		Version:   "1.0.0",
		Records: []Record{
			{Name: "node", Fields: []Field{{Name: "next", Type: "option<node>"}}},
			{Name: "a", Fields: []Field{{Name: "b", Type: "b"}}},
			{Name: "b", Fields: []Field{{Name: "a", Type: "list<a>"}}},
			{Name: "point", Fields: []Field{{Name: "x", Type: "s32"}, {Name: "x", Type: "s32"}}},
		},
		Enums:  []Enum{{Name: "point", Variants: []Variant{{Name: "v"}, {Name: "v"}}}},
		Errors: []Enum{{Name: "oops", Variants: []Variant{{Name: "bad"}}}},
		Functions: []Function{
			{ID: 1, Name: "f", Returns: "pont"},
			{ID: 1, Name: "g", Throws: "point"},
			{ID: 2, Name: "f"},
		},
		Objects: []Object{{Name: "thing", Methods: []Function{
			{ID: 3, Name: "m", Params: []Field{{Name: "self", Type: "u8"}}},
		}}},
	}

	err := doc.Check()
	var ce *ConsistencyError
	require.True(t, stderrors.As(err, &ce))

	expect := []string{
		`type "point" declared as both record and enum`,
		`record point: duplicate field "x"`,
		`enum point: duplicate variant "v"`,
		`function f returns: unknown type in "pont" (did you mean "point"?)`,
		`function g: throws "point", which is not a declared error`,
		`function g: id 1 already used by f`,
		`function f declared twice`,
		`method thing.m: parameter name self is reserved`,
		`recursive type: a -> b -> a`,
		`recursive type: node -> node`,
	}
	for _, want := range expect {
		found := false
		for _, p := range ce.Problems {
			if strings.Contains(p, want) {
				found = true
				break
			}
		}
		assert.True(t, found, "missing problem %q in:\n%s", want, err)
	}

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.PhaseSchema, e.Phase)

	_, err = Resolve(doc)
	assert.Error(t, err)
}

func TestChecksum_Stable(t *testing.T) {
	a := resolveCounter(t)
	b := resolveCounter(t)
	assert.Equal(t, a.Checksum(), b.Checksum())
	assert.Equal(t, a.FFINamespace(), b.FFINamespace())
	assert.True(t, strings.HasPrefix(a.FFINamespace(), "counter_"))

	// Declaration order of functions does not matter; ids do.
	doc := loadCounter(t)
	doc.Functions[0], doc.Functions[1] = doc.Functions[1], doc.Functions[0]
	c, err := Resolve(doc)
	require.NoError(t, err)
	assert.Equal(t, a.Checksum(), c.Checksum())

	// The version is not hashed.
	doc = loadCounter(t)
	doc.Version = "1.3.0"
	c, err = Resolve(doc)
	require.NoError(t, err)
	assert.Equal(t, a.Checksum(), c.Checksum())
}

func TestChecksum_Sensitive(t *testing.T) {
	base := resolveCounter(t)

	mutations := map[string]func(*Document){
		"param type":    func(d *Document) { d.Functions[2].Params[0].Type = "bytes" },
		"param name":    func(d *Document) { d.Functions[2].Params[0].Name = "text" },
		"return type":   func(d *Document) { d.Functions[1].Returns = "s64" },
		"function id":   func(d *Document) { d.Functions[1].ID = 99 },
		"function name": func(d *Document) { d.Functions[0].Name = "get_str" },
		"record field":  func(d *Document) { d.Records[0].Fields[0].Type = "s32" },
		"error variant": func(d *Document) { d.Errors[0].Variants[1].Name = "locked" },
		"async":         func(d *Document) { d.Objects[0].Methods[3].Async = false },
		"callback":      func(d *Document) { d.CallbackInterfaces[0].Methods[1].Returns = "" },
		"namespace":     func(d *Document) { d.Namespace = "counter2" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			doc := loadCounter(t)
			mutate(doc)
			changed, err := Resolve(doc)
			require.NoError(t, err)
			assert.NotEqual(t, base.Checksum(), changed.Checksum())
		})
	}
}

func TestFunctionChecksum(t *testing.T) {
	iface := resolveCounter(t)
	seen := make(map[uint16]string)
	for _, f := range iface.Functions() {
		assert.Equal(t, f.Checksum, FunctionChecksum(&f))
		if prev, ok := seen[f.Checksum]; ok {
			t.Logf("checksum collision between %s and %s", prev, f.Name)
		}
		seen[f.Checksum] = f.Name
	}
}

func TestCheckCompatible(t *testing.T) {
	base := resolveCounter(t)

	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr string
	}{
		{"identical", func(*Document) {}, ""},
		{"minor bump", func(d *Document) { d.Version = "1.9.0" }, ""},
		{"major bump", func(d *Document) { d.Version = "2.0.0" }, "major version"},
		{"namespace", func(d *Document) { d.Namespace = "other" }, "namespace"},
		{"changed function", func(d *Document) { d.Functions[2].Returns = "u64" }, "function pass_string changed"},
		{"removed function", func(d *Document) { d.Functions = d.Functions[:4] }, "function now is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := loadCounter(t)
			tt.mutate(doc)
			actual, err := Resolve(doc)
			require.NoError(t, err)

			err = CheckCompatible(base, actual)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var e *errors.Error
			require.True(t, stderrors.As(err, &e))
			assert.Equal(t, errors.KindIncompatible, e.Kind)
		})
	}
}

func TestImportWIT(t *testing.T) {
	doc := &Document{
		Namespace: "calc",
		Version:   "0.1.0",
		Errors:    []Enum{{Name: "calc_error", Variants: []Variant{{Name: "overflow"}}}},
	}
	wit := `
interface calc {
	add: func(a: u32, b: u32) -> u32;
	export divide: func(a: s32, b: s32) -> result<s32, calc-error>;
	reset: func();
	fetch-all: async func(keys: list<string>) -> list<option<u64>>;
}`
	fns, err := doc.ImportWIT(wit, 100)
	require.NoError(t, err)

	want := []Function{
		{ID: 100, Name: "add", Params: []Field{{Name: "a", Type: "u32"}, {Name: "b", Type: "u32"}}, Returns: "u32"},
		{ID: 101, Name: "divide", Params: []Field{{Name: "a", Type: "s32"}, {Name: "b", Type: "s32"}}, Returns: "s32", Throws: "calc_error"},
		{ID: 102, Name: "reset"},
		{ID: 103, Name: "fetch_all", Params: []Field{{Name: "keys", Type: "list<string>"}}, Returns: "list<option<u64>>", Async: true},
	}
	if diff := cmp.Diff(want, fns); diff != "" {
		t.Errorf("ImportWIT mismatch (-want +got):\n%s", diff)
	}

	iface, err := Resolve(doc)
	require.NoError(t, err)
	div, ok := iface.Function("divide")
	require.True(t, ok)
	assert.Equal(t, "calc_error", div.Throws.Name)

	_, err = doc.ImportWIT("nothing here", 1)
	assert.Error(t, err)
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	require.NoError(t, err)

	var s map[string]any
	require.NoError(t, json.Unmarshal(data, &s))
	props, ok := s["properties"].(map[string]any)
	require.True(t, ok, "schema has properties")
	for _, key := range []string{"namespace", "version", "functions", "objects", "callback_interfaces"} {
		assert.Contains(t, props, key)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	doc := loadCounter(t)
	data, err := doc.Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func defaultsDoc(fieldType, literal string) string {
	return `{"namespace":"opts","version":"1.0.0",
	  "enums":[{"name":"level","variants":[{"name":"low"},{"name":"high"},{"name":"custom","fields":[{"name":"n","type":"u8"}]}]}],
	  "records":[{"name":"options","fields":[{"name":"v","type":"` + fieldType + `","default":` + literal + `}]}]}`
}

func TestResolve_Defaults(t *testing.T) {
	tests := []struct {
		typ     string
		literal string
		want    any
	}{
		{"bool", `true`, true},
		{"string", `"auto"`, "auto"},
		{"s32", `-7`, int64(-7)},
		{"u16", `"0x10"`, uint64(16)},
		{"u8", `"0o17"`, uint64(15)},
		{"f64", `2.5`, 2.5},
		{"f32", `0.5`, float32(0.5)},
		{"level", `"high"`, transcoder.Variant{Name: "high"}},
		{"list<string>", `[]`, []any{}},
		{"map<string, u32>", `{}`, transcoder.Map{}},
		{"option<u32>", `null`, nil},
		{"option<u32>", `3`, uint64(3)},
		{"option<option<u32>>", `3`, transcoder.Some{V: uint64(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"="+tt.literal, func(t *testing.T) {
			doc, err := Parse([]byte(defaultsDoc(tt.typ, tt.literal)))
			require.NoError(t, err)
			iface, err := Resolve(doc)
			require.NoError(t, err)

			d, ok := iface.Type("options")
			require.True(t, ok)
			require.NotNil(t, d.Fields[0].Default)
			if diff := cmp.Diff(tt.want, d.Fields[0].Default.Value); diff != "" {
				t.Errorf("default mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_BadDefaults(t *testing.T) {
	tests := []struct {
		typ     string
		literal string
	}{
		{"u8", `256`},
		{"u32", `-1`},
		{"s8", `"0x80"`},
		{"bool", `1`},
		{"string", `null`},
		{"level", `"medium"`},
		{"level", `"custom"`},
		{"list<string>", `["x"]`},
		{"map<string, u32>", `{"a": 1}`},
		{"duration", `"1s"`},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"="+tt.literal, func(t *testing.T) {
			doc, err := Parse([]byte(defaultsDoc(tt.typ, tt.literal)))
			require.NoError(t, err)
			_, err = Resolve(doc)
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, errors.PhaseSchema, e.Phase)
		})
	}
}

func TestDefaults_Lower(t *testing.T) {
	doc, err := Parse([]byte(`{"namespace":"opts","version":"1.0.0",
	  "records":[{"name":"options","fields":[
	    {"name":"retries","type":"u8","default":3},
	    {"name":"label","type":"option<string>","default":"x"}
	  ]}],
	  "functions":[{"id":1,"name":"configure","params":[
	    {"name":"opts","type":"options"},
	    {"name":"verbose","type":"bool","default":false}
	  ]}]}`))
	require.NoError(t, err)
	iface, err := Resolve(doc)
	require.NoError(t, err)

	def, ok := iface.Function("configure")
	require.True(t, ok)
	args := types.FillDefaults([]any{map[string]any{}}, def.Params)
	require.Len(t, args, 2)

	enc := transcoder.NewEncoder(nil)
	buf := buffer.Get()
	defer buf.Release()
	require.NoError(t, enc.LowerAll(buf, args, def.ParamTypes()))
	assert.Equal(t, []byte{3, 1, 0, 0, 0, 1, 'x', 0}, buf.Bytes())

	// Explicit values win over defaults; the checksum ignores defaults.
	buf.Reset()
	explicit := map[string]any{"retries": uint8(5), "label": nil}
	require.NoError(t, enc.LowerAll(buf, []any{explicit, true}, def.ParamTypes()))
	assert.Equal(t, []byte{5, 0, 1}, buf.Bytes())

	doc.Records[0].Fields[0].Default = json.RawMessage(`4`)
	changed, err := Resolve(doc)
	require.NoError(t, err)
	assert.Equal(t, iface.Checksum(), changed.Checksum())
}
