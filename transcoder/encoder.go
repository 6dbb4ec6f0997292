package transcoder

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder/internal/coerce"
	"github.com/wippyai/ffi-bridge/types"
)

var handleType = reflect.TypeOf(handle.Handle(0))

// Encoder lowers Go values into the wire format.
// Object references are minted in table; an Encoder without a table
// rejects object values.
type Encoder struct {
	table    *handle.Table
	compiler *Compiler
	limits   Limits
}

func NewEncoder(table *handle.Table, opts ...Option) *Encoder {
	o := buildOptions(opts)
	return &Encoder{table: table, compiler: o.compiler, limits: o.limits}
}

// Table returns the handle table object references are minted in.
func (e *Encoder) Table() *handle.Table {
	return e.table
}

// Lower encodes value into a fresh pooled buffer. The caller owns the buffer.
func (e *Encoder) Lower(value any, d *types.Descriptor) (*buffer.Buffer, error) {
	buf := buffer.Get()
	if err := e.LowerInto(buf, value, d); err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}

// LowerInto appends value to buf. On failure buf is restored and every
// reference the encode minted is released.
func (e *Encoder) LowerInto(buf *buffer.Buffer, value any, d *types.Descriptor) error {
	minted := NewHandleList()
	defer minted.Release()
	return e.LowerTracked(buf, value, d, minted)
}

// LowerTracked is LowerInto that also records minted references in minted,
// so a caller that later discards the buffer can release them.
func (e *Encoder) LowerTracked(buf *buffer.Buffer, value any, d *types.Descriptor, minted *HandleList) error {
	start := buf.WriteOffset()
	mark := minted.Count()
	if err := e.lower(buf, minted, value, d, nil, 0); err != nil {
		e.rollback(minted, mark)
		buf.Truncate(start)
		return err
	}
	return nil
}

// LowerAll appends values in order, as an argument list.
func (e *Encoder) LowerAll(buf *buffer.Buffer, values []any, ds []*types.Descriptor) error {
	minted := NewHandleList()
	defer minted.Release()
	return e.LowerAllTracked(buf, values, ds, minted)
}

// LowerAllTracked is LowerAll recording the references it mints. Callers
// passing the buffer to a borrowing dispatcher drop minted afterwards.
func (e *Encoder) LowerAllTracked(buf *buffer.Buffer, values []any, ds []*types.Descriptor, minted *HandleList) error {
	if len(values) != len(ds) {
		return errors.New(errors.PhaseEncode, errors.KindInvalidData).
			Detail("value count mismatch: expected %d, got %d", len(ds), len(values)).
			Build()
	}

	start := buf.WriteOffset()
	mark := minted.Count()
	for i, d := range ds {
		if err := e.lower(buf, minted, values[i], d, []string{"arg[" + strconv.Itoa(i) + "]"}, 0); err != nil {
			e.rollback(minted, mark)
			buf.Truncate(start)
			return err
		}
	}
	return nil
}

func (e *Encoder) rollback(minted *HandleList, mark int) {
	if minted.Count() <= mark {
		return
	}
	tail := &HandleList{handles: minted.handles[mark:]}
	tail.Drop(e.table)
	minted.handles = minted.handles[:mark]
}

func (e *Encoder) lower(buf *buffer.Buffer, minted *HandleList, value any, d *types.Descriptor, path []string, depth int) error {
	if depth > e.limits.MaxNestingDepth {
		return errors.LimitExceeded(errors.PhaseEncode, path, "nesting depth", uint64(depth), uint64(e.limits.MaxNestingDepth))
	}

	switch d.Kind {
	case types.KindBool:
		b, ok := value.(bool)
		if !ok {
			rv := reflect.ValueOf(value)
			if rv.Kind() != reflect.Bool {
				return mismatch(path, value, d)
			}
			b = rv.Bool()
		}
		buf.WriteBool(b)
		return nil

	case types.KindInt:
		return e.lowerInt(buf, value, d, path)

	case types.KindFloat:
		f, ok := coerce.Float64(value)
		if !ok {
			return mismatch(path, value, d)
		}
		if d.Width == 32 {
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return errors.Overflow(errors.PhaseEncode, path, value, "f32")
			}
			buf.WriteF32(float32(f))
		} else {
			buf.WriteF64(f)
		}
		return nil

	case types.KindString:
		s, ok := value.(string)
		if !ok {
			rv := reflect.ValueOf(value)
			if rv.Kind() != reflect.String {
				return mismatch(path, value, d)
			}
			s = rv.String()
		}
		if !utf8.ValidString(s) {
			return errors.InvalidUTF8(errors.PhaseEncode, path, []byte(s))
		}
		if err := e.checkLen(path, "string length", len(s), e.limits.MaxStringSize); err != nil {
			return err
		}
		buf.WriteU32(uint32(len(s)))
		buf.WriteRaw([]byte(s))
		return nil

	case types.KindBytes:
		p, ok := value.([]byte)
		if !ok {
			rv := reflect.ValueOf(value)
			if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() != reflect.Uint8 {
				return mismatch(path, value, d)
			}
			p = rv.Bytes()
		}
		if err := e.checkLen(path, "bytes length", len(p), e.limits.MaxStringSize); err != nil {
			return err
		}
		buf.WriteU32(uint32(len(p)))
		buf.WriteRaw(p)
		return nil

	case types.KindOptional:
		return e.lowerOptional(buf, minted, value, d, path, depth)

	case types.KindSequence:
		return e.lowerSequence(buf, minted, value, d, path, depth)

	case types.KindMapping:
		return e.lowerMapping(buf, minted, value, d, path, depth)

	case types.KindRecord:
		return e.lowerRecord(buf, minted, value, d, path, depth)

	case types.KindEnum:
		return e.lowerEnum(buf, minted, value, d, path, depth)

	case types.KindObject:
		return e.lowerObject(buf, minted, value, d, path)

	case types.KindDuration:
		dur, ok := value.(time.Duration)
		if !ok {
			return mismatch(path, value, d)
		}
		if dur < 0 {
			return errors.New(errors.PhaseEncode, errors.KindInvalidData).
				Path(path...).
				Value(dur).
				Detail("negative duration %s", dur).
				Build()
		}
		buf.WriteU64(uint64(dur / time.Second))
		buf.WriteU32(uint32(dur % time.Second))
		return nil

	case types.KindTimestamp:
		t, ok := value.(time.Time)
		if !ok {
			if p, isPtr := value.(*time.Time); isPtr && p != nil {
				t = *p
			} else {
				return mismatch(path, value, d)
			}
		}
		// Seconds round down, so nanos are always in [0, 1e9).
		buf.WriteU64(uint64(t.Unix()))
		buf.WriteU32(uint32(t.Nanosecond()))
		return nil
	}

	return errors.Unsupported(errors.PhaseEncode, "descriptor kind "+d.Kind.String())
}

func (e *Encoder) lowerInt(buf *buffer.Buffer, value any, d *types.Descriptor, path []string) error {
	var bits uint64
	if d.Signed {
		v, ok := coerce.Int64(value)
		if !ok {
			if _, isNum := coerce.Uint64(value); isNum {
				return errors.Overflow(errors.PhaseEncode, path, value, d.String())
			}
			return mismatch(path, value, d)
		}
		if !coerce.FitsSigned(v, d.Width) {
			return errors.Overflow(errors.PhaseEncode, path, value, d.String())
		}
		bits = uint64(v)
	} else {
		v, ok := coerce.Uint64(value)
		if !ok {
			if _, isNum := coerce.Int64(value); isNum {
				return errors.Overflow(errors.PhaseEncode, path, value, d.String())
			}
			return mismatch(path, value, d)
		}
		if !coerce.FitsUnsigned(v, d.Width) {
			return errors.Overflow(errors.PhaseEncode, path, value, d.String())
		}
		bits = v
	}

	switch d.Width {
	case 8:
		buf.WriteU8(uint8(bits))
	case 16:
		buf.WriteU16(uint16(bits))
	case 32:
		buf.WriteU32(uint32(bits))
	case 64:
		buf.WriteU64(bits)
	default:
		return errors.Unsupported(errors.PhaseEncode, fmt.Sprintf("integer width %d", d.Width))
	}
	return nil
}

func (e *Encoder) lowerOptional(buf *buffer.Buffer, minted *HandleList, value any, d *types.Descriptor, path []string, depth int) error {
	if s, ok := value.(Some); ok {
		buf.WriteU8(1)
		return e.lower(buf, minted, s.V, d.Elem, path, depth+1)
	}
	if isNil(value) {
		buf.WriteU8(0)
		return nil
	}
	// *T stands for option<T> unless the element is an object, where the
	// pointer is the native object itself.
	if d.Elem.Kind != types.KindObject {
		if rv := reflect.ValueOf(value); rv.Kind() == reflect.Ptr {
			value = rv.Elem().Interface()
		}
	}
	buf.WriteU8(1)
	return e.lower(buf, minted, value, d.Elem, path, depth+1)
}

func (e *Encoder) lowerSequence(buf *buffer.Buffer, minted *HandleList, value any, d *types.Descriptor, path []string, depth int) error {
	if items, ok := value.([]any); ok {
		if err := e.checkLen(path, "sequence length", len(items), e.limits.MaxSequenceLen); err != nil {
			return err
		}
		buf.WriteU32(uint32(len(items)))
		for i, item := range items {
			if err := e.lower(buf, minted, item, d.Elem, appendPath(path, indexSeg(i)), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return mismatch(path, value, d)
	}
	n := rv.Len()
	if err := e.checkLen(path, "sequence length", n, e.limits.MaxSequenceLen); err != nil {
		return err
	}
	buf.WriteU32(uint32(n))
	for i := 0; i < n; i++ {
		if err := e.lower(buf, minted, rv.Index(i).Interface(), d.Elem, appendPath(path, indexSeg(i)), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) lowerMapping(buf *buffer.Buffer, minted *HandleList, value any, d *types.Descriptor, path []string, depth int) error {
	entries, ok := value.(Map)
	if !ok {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Map {
			return mismatch(path, value, d)
		}
		entries = sortedEntries(rv)
	}
	if err := e.checkLen(path, "map length", len(entries), e.limits.MaxSequenceLen); err != nil {
		return err
	}
	buf.WriteU32(uint32(len(entries)))
	for i, entry := range entries {
		seg := indexSeg(i)
		if err := e.lower(buf, minted, entry.Key, d.Key, appendPath(path, seg+".key"), depth+1); err != nil {
			return err
		}
		if err := e.lower(buf, minted, entry.Value, d.Value, appendPath(path, seg+".value"), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// sortedEntries orders a Go map's entries so encoding is deterministic.
func sortedEntries(rv reflect.Value) Map {
	entries := make(Map, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, MapEntry{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return keyLess(entries[i].Key, entries[j].Key)
	})
	return entries
}

func keyLess(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == rb.Kind() {
		switch ra.Kind() {
		case reflect.String:
			return ra.String() < rb.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return ra.Int() < rb.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return ra.Uint() < rb.Uint()
		case reflect.Float32, reflect.Float64:
			return ra.Float() < rb.Float()
		case reflect.Bool:
			return !ra.Bool() && rb.Bool()
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func (e *Encoder) lowerRecord(buf *buffer.Buffer, minted *HandleList, value any, d *types.Descriptor, path []string, depth int) error {
	if m, ok := value.(map[string]any); ok {
		return e.lowerFields(buf, minted, m, d.Fields, path, depth)
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return errors.NilPointer(errors.PhaseEncode, path, rv.Type().String())
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		plan, err := e.compiler.Compile(rv.Type(), d)
		if err != nil {
			return err
		}
		for _, f := range plan.Fields {
			fv := rv.FieldByIndex(f.Index)
			if err := e.lower(buf, minted, fv.Interface(), f.Type, appendPath(path, f.Name), depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return mismatch(path, value, d)
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return e.lowerFields(buf, minted, m, d.Fields, path, depth)
	}
	return mismatch(path, value, d)
}

// lowerFields writes fields in declaration order. An absent field lowers its
// declared default; without one, absent optional fields encode as absent and
// any other absent field is an error. Unknown keys are an error.
func (e *Encoder) lowerFields(buf *buffer.Buffer, minted *HandleList, m map[string]any, fields []types.Field, path []string, depth int) error {
	matched := 0
	for _, f := range fields {
		v, ok := m[f.Name]
		switch {
		case ok:
			matched++
		case f.Default != nil:
			v = f.Default.Value
		case f.Type.Kind != types.KindOptional:
			return errors.FieldMissing(errors.PhaseEncode, path, f.Name)
		}
		if err := e.lower(buf, minted, v, f.Type, appendPath(path, f.Name), depth+1); err != nil {
			return err
		}
	}
	if matched != len(m) {
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if !hasField(fields, k) {
				return errors.FieldUnknown(errors.PhaseEncode, path, k)
			}
		}
	}
	return nil
}

func hasField(fields []types.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (e *Encoder) lowerEnum(buf *buffer.Buffer, minted *HandleList, value any, d *types.Descriptor, path []string, depth int) error {
	var (
		idx    uint32
		fields map[string]any
	)

	switch v := value.(type) {
	case Variant:
		i, ok := d.VariantIndex(v.Name)
		if !ok {
			return unknownVariant(path, v.Name, d)
		}
		idx, fields = i, v.Fields
	case *Variant:
		if v == nil {
			return errors.NilPointer(errors.PhaseEncode, path, "*transcoder.Variant")
		}
		i, ok := d.VariantIndex(v.Name)
		if !ok {
			return unknownVariant(path, v.Name, d)
		}
		idx, fields = i, v.Fields
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.String {
			i, ok := d.VariantIndex(rv.String())
			if !ok {
				return unknownVariant(path, rv.String(), d)
			}
			idx = i
			break
		}
		n, ok := coerce.Uint64(value)
		if !ok {
			return mismatch(path, value, d)
		}
		if n >= uint64(len(d.Variants)) {
			return errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
				Path(path...).
				Value(value).
				Detail("variant index %d out of range for %s", n, d.Name).
				Build()
		}
		idx = uint32(n)
	}

	variant := d.Variants[idx]
	buf.WriteU32(idx)
	if fields == nil {
		fields = map[string]any{}
	}
	return e.lowerFields(buf, minted, fields, variant.Fields, appendPath(path, variant.Name), depth)
}

func unknownVariant(path []string, name string, d *types.Descriptor) error {
	return errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
		Path(path...).
		Value(name).
		Detail("%s has no variant %q", d.Name, name).
		Build()
}

func (e *Encoder) lowerObject(buf *buffer.Buffer, minted *HandleList, value any, d *types.Descriptor, path []string) error {
	if e.table == nil {
		return errors.New(errors.PhaseEncode, errors.KindUnsupported).
			Path(path...).
			Detail("object reference without a handle table").
			Build()
	}
	if isNil(value) {
		return errors.NilPointer(errors.PhaseEncode, path, d.String())
	}

	var h handle.Handle
	if existing, ok := value.(handle.Handle); ok {
		if err := e.table.Check(existing, d.Name); err != nil {
			return err
		}
		cloned, err := e.table.Clone(existing)
		if err != nil {
			return err
		}
		h = cloned
	} else {
		inserted, err := e.table.InsertTyped(value, d.Name)
		if err != nil {
			return err
		}
		h = inserted
	}
	minted.Add(h)
	buf.WriteU64(uint64(h))
	return nil
}

func (e *Encoder) checkLen(path []string, what string, n int, limit uint32) error {
	if uint64(n) > uint64(limit) {
		return errors.LimitExceeded(errors.PhaseEncode, path, what, uint64(n), uint64(limit))
	}
	return nil
}

func mismatch(path []string, value any, d *types.Descriptor) error {
	return errors.TypeMismatch(errors.PhaseEncode, path, coerce.TypeName(value), d.String())
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

func indexSeg(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}
