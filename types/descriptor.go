package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/ffi-bridge/errors"
)

// Descriptor identifies the wire shape of a value.
// Descriptors are shared freely and must not be mutated once built.
type Descriptor struct {
	Elem     *Descriptor // Optional, Sequence
	Key      *Descriptor // Mapping
	Value    *Descriptor // Mapping
	Name     string      // Record, Enum, Object (interface id)
	Fields   []Field     // Record
	Variants []Variant   // Enum
	Kind     Kind
	Width    uint8 // Int: 8/16/32/64, Float: 32/64
	Signed   bool
	Error    bool // Enum declared as an operation error type
}

type Field struct {
	Type    *Descriptor
	Default *Literal // nil when the field has no declared default
	Name    string
}

// Literal is a declared default, held as a value the encoder accepts for the
// field's type. A nil Value is the absent optional.
type Literal struct {
	Value any
}

type Variant struct {
	Name   string
	Fields []Field
}

var (
	boolDesc      = &Descriptor{Kind: KindBool}
	stringDesc    = &Descriptor{Kind: KindString}
	bytesDesc     = &Descriptor{Kind: KindBytes}
	durationDesc  = &Descriptor{Kind: KindDuration}
	timestampDesc = &Descriptor{Kind: KindTimestamp}
	f32Desc       = &Descriptor{Kind: KindFloat, Width: 32}
	f64Desc       = &Descriptor{Kind: KindFloat, Width: 64}
	intDescs      = map[[2]uint8]*Descriptor{}
)

func init() {
	for _, w := range []uint8{8, 16, 32, 64} {
		intDescs[[2]uint8{w, 0}] = &Descriptor{Kind: KindInt, Width: w}
		intDescs[[2]uint8{w, 1}] = &Descriptor{Kind: KindInt, Width: w, Signed: true}
	}
}

func Bool() *Descriptor      { return boolDesc }
func String() *Descriptor    { return stringDesc }
func Bytes() *Descriptor     { return bytesDesc }
func Duration() *Descriptor  { return durationDesc }
func Timestamp() *Descriptor { return timestampDesc }
func F32() *Descriptor       { return f32Desc }
func F64() *Descriptor       { return f64Desc }
func U8() *Descriptor        { return Int(8, false) }
func U16() *Descriptor       { return Int(16, false) }
func U32() *Descriptor       { return Int(32, false) }
func U64() *Descriptor       { return Int(64, false) }
func S8() *Descriptor        { return Int(8, true) }
func S16() *Descriptor       { return Int(16, true) }
func S32() *Descriptor       { return Int(32, true) }
func S64() *Descriptor       { return Int(64, true) }

// Int returns the integer descriptor of the given width. Width must be 8, 16, 32 or 64.
func Int(width uint8, signed bool) *Descriptor {
	var s uint8
	if signed {
		s = 1
	}
	if d, ok := intDescs[[2]uint8{width, s}]; ok {
		return d
	}
	return &Descriptor{Kind: KindInt, Width: width, Signed: signed}
}

// Float returns the float descriptor of the given width (32 or 64).
func Float(width uint8) *Descriptor {
	switch width {
	case 32:
		return f32Desc
	case 64:
		return f64Desc
	}
	return &Descriptor{Kind: KindFloat, Width: width}
}

func Optional(elem *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindOptional, Elem: elem}
}

func Sequence(elem *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindSequence, Elem: elem}
}

func Mapping(key, value *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindMapping, Key: key, Value: value}
}

func Record(name string, fields ...Field) *Descriptor {
	return &Descriptor{Kind: KindRecord, Name: name, Fields: fields}
}

func Enum(name string, variants ...Variant) *Descriptor {
	return &Descriptor{Kind: KindEnum, Name: name, Variants: variants}
}

// ErrorEnum returns an enum descriptor flagged as an operation error type.
func ErrorEnum(name string, variants ...Variant) *Descriptor {
	return &Descriptor{Kind: KindEnum, Name: name, Variants: variants, Error: true}
}

// Object returns a reference to objects implementing the named interface.
func Object(interfaceID string) *Descriptor {
	return &Descriptor{Kind: KindObject, Name: interfaceID}
}

// F builds a record or variant field.
func F(name string, t *Descriptor) Field {
	return Field{Name: name, Type: t}
}

// WithDefault returns a copy of f whose absent value lowers as v.
func (f Field) WithDefault(v any) Field {
	f.Default = &Literal{Value: v}
	return f
}

// FillDefaults extends args with the defaults of the trailing parameters it
// omits. It stops at the first omitted parameter without a default, leaving
// the arity error to the encoder.
func FillDefaults(args []any, params []Field) []any {
	if len(args) >= len(params) {
		return args
	}
	out := append(make([]any, 0, len(params)), args...)
	for _, p := range params[len(args):] {
		if p.Default == nil {
			return args
		}
		out = append(out, p.Default.Value)
	}
	return out
}

// V builds an enum variant.
func V(name string, fields ...Field) Variant {
	return Variant{Name: name, Fields: fields}
}

// FixedSize returns the wire size of fixed-width kinds, or -1.
func (d *Descriptor) FixedSize() int {
	switch d.Kind {
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return int(d.Width / 8)
	case KindDuration, KindTimestamp:
		return 12
	case KindObject:
		return 8
	}
	return -1
}

// FieldIndex returns the position of a record field.
func (d *Descriptor) FieldIndex(name string) (int, bool) {
	for i, f := range d.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// VariantIndex returns the discriminant of a named variant.
func (d *Descriptor) VariantIndex(name string) (uint32, bool) {
	for i, v := range d.Variants {
		if v.Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// String renders the descriptor as a type expression. Named types render as their name.
func (d *Descriptor) String() string {
	if d == nil {
		return "<nil>"
	}
	switch d.Kind {
	case KindInt:
		if d.Signed {
			return "s" + strconv.Itoa(int(d.Width))
		}
		return "u" + strconv.Itoa(int(d.Width))
	case KindFloat:
		return "f" + strconv.Itoa(int(d.Width))
	case KindOptional:
		return "option<" + d.Elem.String() + ">"
	case KindSequence:
		return "list<" + d.Elem.String() + ">"
	case KindMapping:
		return "map<" + d.Key.String() + ", " + d.Value.String() + ">"
	case KindRecord, KindEnum, KindObject:
		if d.Name != "" {
			return d.Name
		}
		return d.Signature()
	}
	return d.Kind.String()
}

// Signature renders the full structure, expanding named types.
// Two descriptors with equal signatures share a wire format.
func (d *Descriptor) Signature() string {
	var b strings.Builder
	d.writeSignature(&b)
	return b.String()
}

func (d *Descriptor) writeSignature(b *strings.Builder) {
	switch d.Kind {
	case KindOptional:
		b.WriteString("option<")
		d.Elem.writeSignature(b)
		b.WriteByte('>')
	case KindSequence:
		b.WriteString("list<")
		d.Elem.writeSignature(b)
		b.WriteByte('>')
	case KindMapping:
		b.WriteString("map<")
		d.Key.writeSignature(b)
		b.WriteString(", ")
		d.Value.writeSignature(b)
		b.WriteByte('>')
	case KindRecord:
		b.WriteString("record ")
		b.WriteString(d.Name)
		writeFields(b, d.Fields)
	case KindEnum:
		if d.Error {
			b.WriteString("error ")
		} else {
			b.WriteString("enum ")
		}
		b.WriteString(d.Name)
		b.WriteByte('{')
		for i, v := range d.Variants {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(v.Name)
			if len(v.Fields) > 0 {
				writeFields(b, v.Fields)
			}
		}
		b.WriteByte('}')
	case KindObject:
		b.WriteString("object ")
		b.WriteString(d.Name)
	default:
		b.WriteString(d.String())
	}
}

func writeFields(b *strings.Builder, fields []Field) {
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		f.Type.writeSignature(b)
	}
	b.WriteByte('}')
}

// Equal reports structural equality.
func Equal(a, b *Descriptor) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Signature() == b.Signature()
}

// Validate checks widths, element presence, and name uniqueness.
// Descriptor graphs must be acyclic.
func (d *Descriptor) Validate() error {
	return d.validate(nil, map[*Descriptor]bool{})
}

func (d *Descriptor) validate(path []string, active map[*Descriptor]bool) error {
	if d == nil {
		return errors.NilPointer(errors.PhaseValidate, path, "*types.Descriptor")
	}
	if active[d] {
		return errors.InvalidData(errors.PhaseValidate, path, fmt.Sprintf("recursive type %s", d.Name))
	}
	active[d] = true
	defer delete(active, d)

	switch d.Kind {
	case KindBool, KindString, KindBytes, KindDuration, KindTimestamp:
		return nil
	case KindInt:
		switch d.Width {
		case 8, 16, 32, 64:
			return nil
		}
		return errors.InvalidData(errors.PhaseValidate, path, fmt.Sprintf("invalid integer width %d", d.Width))
	case KindFloat:
		if d.Width != 32 && d.Width != 64 {
			return errors.InvalidData(errors.PhaseValidate, path, fmt.Sprintf("invalid float width %d", d.Width))
		}
		return nil
	case KindOptional, KindSequence:
		return d.Elem.validate(append(path, "elem"), active)
	case KindMapping:
		if err := d.Key.validate(append(path, "key"), active); err != nil {
			return err
		}
		return d.Value.validate(append(path, "value"), active)
	case KindRecord:
		return validateFields(d.Fields, append(path, d.Name), active)
	case KindEnum:
		if len(d.Variants) == 0 {
			return errors.InvalidData(errors.PhaseValidate, path, fmt.Sprintf("enum %s has no variants", d.Name))
		}
		seen := make(map[string]bool, len(d.Variants))
		for _, v := range d.Variants {
			if v.Name == "" || seen[v.Name] {
				return errors.InvalidData(errors.PhaseValidate, path, fmt.Sprintf("enum %s: empty or duplicate variant %q", d.Name, v.Name))
			}
			seen[v.Name] = true
			if err := validateFields(v.Fields, append(path, d.Name, v.Name), active); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		if d.Name == "" {
			return errors.InvalidData(errors.PhaseValidate, path, "object reference without interface id")
		}
		return nil
	}
	return errors.Unsupported(errors.PhaseValidate, fmt.Sprintf("descriptor kind %d", d.Kind))
}

func validateFields(fields []Field, path []string, active map[*Descriptor]bool) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" || seen[f.Name] {
			return errors.InvalidData(errors.PhaseValidate, path, fmt.Sprintf("empty or duplicate field %q", f.Name))
		}
		seen[f.Name] = true
		if err := f.Type.validate(append(path, f.Name), active); err != nil {
			return err
		}
	}
	return nil
}
