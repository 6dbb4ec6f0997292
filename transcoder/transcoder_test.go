package transcoder

import (
	"bytes"
	"encoding/hex"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/types"
)

var personDesc = types.Record("person",
	types.F("name", types.String()),
	types.F("tags", types.Sequence(types.String())),
)

func TestLower_ExampleBytes(t *testing.T) {
	enc := NewEncoder(nil)
	buf, err := enc.Lower(map[string]any{"name": "a", "tags": []string{"x", "y"}}, personDesc)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	defer buf.Release()

	want, _ := hex.DecodeString("00000001" + "61" + "00000002" + "00000001" + "78" + "00000001" + "79")
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("Lower = %x, want %x", buf.Bytes(), want)
	}

	got, err := NewDecoder(nil).Lift(buffer.FromBytes(want), personDesc)
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	expect := map[string]any{"name": "a", "tags": []any{"x", "y"}}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Errorf("Lift mismatch (-want +got):\n%s", diff)
	}
}

func TestTimestamp_WireBytes(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		wire string
	}{
		{"epoch", time.Unix(0, 0), "0000000000000000" + "00000000"},
		{"after epoch", time.Unix(1, 500_000_000), "0000000000000001" + "1dcd6500"},
		{"before epoch whole", time.Unix(-2, 0), "fffffffffffffffe" + "00000000"},
		{"before epoch fractional", time.Unix(0, 0).Add(-1500 * time.Millisecond), "fffffffffffffffe" + "1dcd6500"},
		{"just before epoch", time.Unix(0, 0).Add(-500 * time.Millisecond), "ffffffffffffffff" + "1dcd6500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewEncoder(nil).Lower(tt.ts, types.Timestamp())
			if err != nil {
				t.Fatalf("Lower: %v", err)
			}
			defer buf.Release()
			if got := hex.EncodeToString(buf.Bytes()); got != tt.wire {
				t.Fatalf("Lower = %s, want %s", got, tt.wire)
			}

			want, _ := hex.DecodeString(tt.wire)
			got, err := NewDecoder(nil).Lift(buffer.FromBytes(want), types.Timestamp())
			if err != nil {
				t.Fatalf("Lift: %v", err)
			}
			if !got.(time.Time).Equal(tt.ts) {
				t.Errorf("Lift = %v, want %v", got, tt.ts)
			}
		})
	}
}

func TestLower_FieldDefaults(t *testing.T) {
	settings := types.Record("settings",
		types.F("name", types.String()),
		types.F("retries", types.U8()).WithDefault(uint64(3)),
		types.F("tags", types.Sequence(types.String())).WithDefault([]any{}),
	)
	enc := NewEncoder(nil)

	buf, err := enc.Lower(map[string]any{"name": "a"}, settings)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	defer buf.Release()
	want, _ := hex.DecodeString("00000001" + "61" + "03" + "00000000")
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("Lower = %x, want %x", buf.Bytes(), want)
	}

	// A field without a default is still required.
	if _, err := enc.Lower(map[string]any{"retries": 1}, settings); err == nil {
		t.Fatal("Lower without name: expected error")
	}

	mode := types.Enum("mode", types.V("step", types.F("by", types.U32()).WithDefault(uint64(1))))
	vbuf, err := enc.Lower(Variant{Name: "step"}, mode)
	if err != nil {
		t.Fatalf("Lower variant: %v", err)
	}
	defer vbuf.Release()
	if got := hex.EncodeToString(vbuf.Bytes()); got != "00000000"+"00000001" {
		t.Fatalf("Lower variant = %s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	shape := types.Enum("shape",
		types.V("empty"),
		types.V("circle", types.F("radius", types.F64())),
		types.V("rect", types.F("w", types.U32()), types.F("h", types.U32())),
	)
	wide := types.Record("wide",
		types.F("b", types.Bool()),
		types.F("u8", types.U8()), types.F("s8", types.S8()),
		types.F("u16", types.U16()), types.F("s16", types.S16()),
		types.F("u32", types.U32()), types.F("s32", types.S32()),
		types.F("u64", types.U64()), types.F("s64", types.S64()),
		types.F("f32", types.F32()), types.F("f64", types.F64()),
		types.F("s", types.String()), types.F("raw", types.Bytes()),
		types.F("opt", types.Optional(types.String())),
		types.F("d", types.Duration()), types.F("ts", types.Timestamp()),
	)
	ts := time.Date(2024, 2, 29, 12, 30, 15, 123456789, time.UTC)

	tests := []struct {
		name  string
		desc  *types.Descriptor
		value any
		want  any
	}{
		{"empty string", types.String(), "", ""},
		{"unicode string", types.String(), "héllo, 世界", "héllo, 世界"},
		{"empty bytes", types.Bytes(), []byte{}, []byte{}},
		{"nil bytes lift non-nil", types.Bytes(), []byte(nil), []byte{}},
		{"empty sequence", types.Sequence(types.U32()), []uint32{}, []any{}},
		{"absent optional", types.Optional(types.U32()), nil, nil},
		{"present optional", types.Optional(types.U32()), uint32(7), uint32(7)},
		{"pointer optional", types.Optional(types.S64()), ptr(int64(-4)), int64(-4)},
		{"nested optional absent inner", types.Optional(types.Optional(types.Bool())), Some{V: nil}, Some{V: nil}},
		{"nested optional present", types.Optional(types.Optional(types.Bool())), Some{V: true}, Some{V: true}},
		{"nested optional absent outer", types.Optional(types.Optional(types.Bool())), nil, nil},
		{"int extremes", types.Sequence(types.S64()), []int64{math.MinInt64, 0, math.MaxInt64}, []any{int64(math.MinInt64), int64(0), int64(math.MaxInt64)}},
		{"u64 max", types.U64(), uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"f32", types.F32(), float32(1.5), float32(1.5)},
		{"f64 negative zero", types.F64(), math.Copysign(0, -1), math.Copysign(0, -1)},
		{
			"max width record", wide,
			map[string]any{
				"b": true, "u8": uint8(255), "s8": int8(-128), "u16": uint16(65535), "s16": int16(-32768),
				"u32": uint32(math.MaxUint32), "s32": int32(math.MinInt32), "u64": uint64(math.MaxUint64),
				"s64": int64(math.MinInt64), "f32": float32(-2.25), "f64": 1e300, "s": "x", "raw": []byte{0, 1, 2},
				"opt": "y", "d": 90 * time.Second, "ts": ts,
			},
			map[string]any{
				"b": true, "u8": uint8(255), "s8": int8(-128), "u16": uint16(65535), "s16": int16(-32768),
				"u32": uint32(math.MaxUint32), "s32": int32(math.MinInt32), "u64": uint64(math.MaxUint64),
				"s64": int64(math.MinInt64), "f32": float32(-2.25), "f64": 1e300, "s": "x", "raw": []byte{0, 1, 2},
				"opt": "y", "d": 90 * time.Second, "ts": ts,
			},
		},
		{
			"nested sequences of records", types.Sequence(types.Sequence(personDesc)),
			[][]map[string]any{{{"name": "a", "tags": []string{}}}, {}},
			[]any{[]any{map[string]any{"name": "a", "tags": []any{}}}, []any{}},
		},
		{
			"map in insertion order", types.Mapping(types.String(), types.U8()),
			Map{{Key: "z", Value: uint8(1)}, {Key: "a", Value: uint8(2)}},
			Map{{Key: "z", Value: uint8(1)}, {Key: "a", Value: uint8(2)}},
		},
		{
			"go map sorted", types.Mapping(types.U16(), types.Bool()),
			map[uint16]bool{3: true, 1: false},
			Map{{Key: uint16(1), Value: false}, {Key: uint16(3), Value: true}},
		},
		{"fieldless variant by name", shape, "empty", Variant{Name: "empty"}},
		{"variant by index", shape, uint32(0), Variant{Name: "empty"}},
		{
			"variant with fields", shape,
			Variant{Name: "rect", Fields: map[string]any{"w": uint32(2), "h": uint32(3)}},
			Variant{Name: "rect", Fields: map[string]any{"w": uint32(2), "h": uint32(3)}},
		},
		{"zero duration", types.Duration(), time.Duration(0), time.Duration(0)},
		{"max duration", types.Duration(), time.Duration(math.MaxInt64), time.Duration(math.MaxInt64)},
		{"epoch", types.Timestamp(), time.Unix(0, 0), time.Unix(0, 0).UTC()},
		{"before epoch", types.Timestamp(), time.Unix(-1, 500), time.Unix(-1, 500).UTC()},
		{"far past", types.Timestamp(), time.Date(1066, 10, 14, 9, 0, 0, 1, time.UTC), time.Date(1066, 10, 14, 9, 0, 0, 1, time.UTC)},
	}

	enc := NewEncoder(nil)
	dec := NewDecoder(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := enc.Lower(tt.value, tt.desc)
			if err != nil {
				t.Fatalf("Lower: %v", err)
			}
			defer buf.Release()
			got, err := dec.Lift(buf, tt.desc)
			if err != nil {
				t.Fatalf("Lift: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type person struct {
	Name string   `bridge:"name"`
	Tags []string `bridge:"tags"`
}

type account struct {
	Nickname *string
	Owner    person
	UserID   uint64
	Balance  int32
}

var accountDesc = types.Record("account",
	types.F("user_id", types.U64()),
	types.F("owner", personDesc),
	types.F("balance", types.S32()),
	types.F("nickname", types.Optional(types.String())),
)

func TestStructs(t *testing.T) {
	in := account{UserID: 42, Owner: person{Name: "a", Tags: []string{"x", "y"}}, Balance: -10}

	buf, err := NewEncoder(nil).Lower(&in, accountDesc)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	defer buf.Release()

	dec := NewDecoder(nil)
	lifted, err := dec.Lift(buf, accountDesc)
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}

	var out account
	if err := dec.Assign(reflectValue(&out), lifted, accountDesc); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("struct round trip (-want +got):\n%s", diff)
	}

	nick := "bob"
	in.Nickname = &nick
	buf2, err := NewEncoder(nil).Lower(in, accountDesc)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	defer buf2.Release()
	lifted, err = dec.Lift(buf2, accountDesc)
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	out = account{}
	if err := dec.Assign(reflectValue(&out), lifted, accountDesc); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if out.Nickname == nil || *out.Nickname != "bob" {
		t.Errorf("Nickname = %v, want bob", out.Nickname)
	}
}

func TestCompiler_Cache(t *testing.T) {
	c := NewCompiler()
	p1, err := c.Compile(reflectType[account](), accountDesc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p2, _ := c.Compile(reflectType[*account](), accountDesc)
	if p1 != p2 {
		t.Error("expected cached plan for pointer type")
	}
	if p1.Fields[0].GoName != "UserID" {
		t.Errorf("user_id matched %s", p1.Fields[0].GoName)
	}

	_, err = c.Compile(reflectType[person](), accountDesc)
	var e *errors.Error
	if !errorsAs(err, &e) || e.Kind != errors.KindFieldMissing {
		t.Fatalf("expected missing field error, got %v", err)
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Name":       "name",
		"UserID":     "user_id",
		"HTTPServer": "http_server",
		"GetString":  "get_string",
		"Version2":   "version2",
		"ParseV2Doc": "parse_v2_doc",
	}
	for in, want := range tests {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLower_Errors(t *testing.T) {
	tests := []struct {
		name  string
		desc  *types.Descriptor
		value any
		kind  errors.Kind
	}{
		{"type mismatch", types.U32(), "nope", errors.KindTypeMismatch},
		{"overflow", types.U8(), 256, errors.KindOverflow},
		{"negative unsigned", types.U32(), -1, errors.KindOverflow},
		{"invalid utf8", types.String(), string([]byte{0xff, 0xfe}), errors.KindInvalidUTF8},
		{"missing field", personDesc, map[string]any{"name": "a"}, errors.KindFieldMissing},
		{"unknown field", personDesc, map[string]any{"name": "a", "tags": []string{}, "age": 3}, errors.KindFieldUnknown},
		{"unknown variant", types.Enum("e", types.V("a")), "b", errors.KindInvalidVariant},
		{"variant index", types.Enum("e", types.V("a")), uint32(1), errors.KindInvalidVariant},
		{"negative duration", types.Duration(), -time.Second, errors.KindInvalidData},
		{"object without table", types.Object("counter"), &struct{}{}, errors.KindUnsupported},
	}

	enc := NewEncoder(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := buffer.New(0)
			err := enc.LowerInto(buf, tt.value, tt.desc)
			var e *errors.Error
			if !errorsAs(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s (%v)", e.Kind, tt.kind, err)
			}
			if buf.Len() != 0 {
				t.Errorf("failed encode left %d bytes", buf.Len())
			}
		})
	}
}

func TestLift_Errors(t *testing.T) {
	tests := []struct {
		name string
		desc *types.Descriptor
		hex  string
		kind errors.Kind
	}{
		{"empty", types.U32(), "", errors.KindTruncated},
		{"short int", types.U64(), "00000001", errors.KindTruncated},
		{"short string", types.String(), "0000000561", errors.KindTruncated},
		{"invalid utf8", types.String(), "00000002fffe", errors.KindInvalidUTF8},
		{"presence byte", types.Optional(types.U8()), "02", errors.KindInvalidData},
		{"bool byte", types.Bool(), "07", errors.KindInvalidData},
		{"discriminant", types.Enum("e", types.V("a"), types.V("b")), "00000002", errors.KindInvalidVariant},
		{"trailing bytes", types.U8(), "0102", errors.KindInvalidData},
		{"nanos range", types.Duration(), "0000000000000001" + "3b9aca00", errors.KindInvalidData},
		{"huge count", types.Sequence(types.U8()), "ffffffff", errors.KindLimitExceeded},
		{"truncated record", personDesc, "000000016100000002", errors.KindTruncated},
	}

	dec := NewDecoder(nil, WithLimits(Limits{MaxSequenceLen: 1024}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := hex.DecodeString(tt.hex)
			if err != nil {
				t.Fatal(err)
			}
			_, err = dec.Lift(buffer.FromBytes(raw), tt.desc)
			var e *errors.Error
			if !errorsAs(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s (%v)", e.Kind, tt.kind, err)
			}
			if !errors.IsDecode(err) {
				t.Errorf("expected decode class, got %s", errors.ClassOf(err))
			}
		})
	}
}

func TestLift_ErrorPath(t *testing.T) {
	raw, _ := hex.DecodeString("000000016100000002000000017800")
	_, err := NewDecoder(nil).Lift(buffer.FromBytes(raw), personDesc)
	var e *errors.Error
	if !errorsAs(err, &e) {
		t.Fatalf("expected *errors.Error, got %v", err)
	}
	if got := strings.Join(e.Path, "."); got != "tags.[1]" {
		t.Errorf("Path = %q, want tags.[1]", got)
	}
}

func TestLimits(t *testing.T) {
	enc := NewEncoder(nil, WithLimits(Limits{MaxStringSize: 4, MaxNestingDepth: 2}))
	if _, err := enc.Lower("hello", types.String()); err == nil {
		t.Error("expected string limit error")
	}
	deep := types.Optional(types.Optional(types.Optional(types.Optional(types.U8()))))
	if _, err := enc.Lower(Some{Some{Some{uint8(1)}}}, deep); err == nil {
		t.Error("expected depth limit error")
	}
}

type counter struct {
	destroyed int
	n         int
}

func (c *counter) Destroy() { c.destroyed++ }

func TestObjects(t *testing.T) {
	table := handle.NewTable()
	enc := NewEncoder(table)
	dec := NewDecoder(table)
	obj := types.Object("counter")

	c := &counter{}
	buf, err := enc.Lower(c, obj)
	if err != nil {
		t.Fatalf("Lower native: %v", err)
	}
	h, err := dec.Lift(buf, obj)
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	buf.Release()
	hv := h.(handle.Handle)
	if n, _ := table.Count(hv); n != 1 {
		t.Fatalf("Count after insert = %d, want 1", n)
	}

	// Lowering an existing handle clones it.
	buf, err = enc.Lower(hv, obj)
	if err != nil {
		t.Fatalf("Lower handle: %v", err)
	}
	buf.Release()
	if n, _ := table.Count(hv); n != 2 {
		t.Fatalf("Count after clone = %d, want 2", n)
	}

	// Typed assignment borrows without touching the count.
	got, err := dec.Into(reflectType[*counter](), hv, obj)
	if err != nil {
		t.Fatalf("Into: %v", err)
	}
	if got.Interface().(*counter) != c {
		t.Error("Into returned a different object")
	}
	if n, _ := table.Count(hv); n != 2 {
		t.Fatalf("Count after borrow = %d, want 2", n)
	}

	// Wrong interface is a fatal handle error.
	buf, _ = enc.Lower(hv, obj)
	_, err = dec.Lift(buf, types.Object("other"))
	buf.Release()
	if !errors.IsFatal(err) {
		t.Errorf("expected fatal handle error, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := table.Release(hv); err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
	}
	if c.destroyed != 1 {
		t.Errorf("destroyed %d times, want 1", c.destroyed)
	}
}

func TestLower_RollsBackMintedHandles(t *testing.T) {
	table := handle.NewTable()
	enc := NewEncoder(table)
	desc := types.Record("pair",
		types.F("a", types.Object("counter")),
		types.F("b", types.Object("counter")),
		types.F("n", types.U8()),
	)

	first := &counter{}
	existing, err := table.InsertTyped(&counter{}, "counter")
	if err != nil {
		t.Fatal(err)
	}

	buf := buffer.New(0)
	err = enc.LowerInto(buf, map[string]any{"a": first, "b": existing, "n": 300}, desc)
	if err == nil {
		t.Fatal("expected overflow error")
	}
	if table.Len() != 1 {
		t.Errorf("table Len = %d, want 1 after rollback", table.Len())
	}
	if n, _ := table.Count(existing); n != 1 {
		t.Errorf("existing Count = %d, want 1", n)
	}
	if first.destroyed != 1 {
		t.Errorf("minted object destroyed %d times, want 1", first.destroyed)
	}
	if buf.Len() != 0 {
		t.Errorf("buffer holds %d bytes after rollback", buf.Len())
	}
}

func TestLowerAll_LiftAll(t *testing.T) {
	descs := []*types.Descriptor{types.String(), types.U32(), types.Optional(types.Bool())}
	buf := buffer.New(0)
	if err := NewEncoder(nil).LowerAll(buf, []any{"id", 9, nil}, descs); err != nil {
		t.Fatalf("LowerAll: %v", err)
	}
	got, err := NewDecoder(nil).LiftAll(buf, descs)
	if err != nil {
		t.Fatalf("LiftAll: %v", err)
	}
	if diff := cmp.Diff([]any{"id", uint32(9), nil}, got); diff != "" {
		t.Errorf("LiftAll (-want +got):\n%s", diff)
	}

	if err := NewEncoder(nil).LowerAll(buffer.New(0), []any{"x"}, descs); err == nil {
		t.Error("expected count mismatch error")
	}
}

func TestMap_Get(t *testing.T) {
	m := Map{{Key: []byte("k"), Value: 1}, {Key: "s", Value: 2}}
	if v, ok := m.Get([]byte("k")); !ok || v != 1 {
		t.Errorf("Get([]byte) = %v, %v", v, ok)
	}
	if _, ok := m.Get("k"); ok {
		t.Error("string key must not match []byte key")
	}
	if len(m.Keys()) != 2 {
		t.Error("Keys length")
	}
}
