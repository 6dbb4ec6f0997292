package transcoder

import (
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/types"
)

const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// Decoder lifts wire bytes into Go values.
//
// Lifted object references are checked against table (live and of the
// declared interface) but their counts are left alone.
type Decoder struct {
	table    *handle.Table
	compiler *Compiler
	limits   Limits
}

func NewDecoder(table *handle.Table, opts ...Option) *Decoder {
	o := buildOptions(opts)
	return &Decoder{table: table, compiler: o.compiler, limits: o.limits}
}

// Table returns the handle table object references are checked against.
func (d *Decoder) Table() *handle.Table {
	return d.table
}

// Lift decodes exactly one value from buf. Bytes left over are an error.
func (d *Decoder) Lift(buf *buffer.Buffer, desc *types.Descriptor) (any, error) {
	v, err := d.LiftNext(buf, desc)
	if err != nil {
		return nil, err
	}
	if err := trailing(buf); err != nil {
		return nil, err
	}
	return v, nil
}

// LiftNext decodes one value and leaves the read cursor after it.
func (d *Decoder) LiftNext(buf *buffer.Buffer, desc *types.Descriptor) (any, error) {
	return d.lift(buf, desc, nil, 0)
}

// LiftAll decodes an argument list and requires buf to be fully consumed.
func (d *Decoder) LiftAll(buf *buffer.Buffer, descs []*types.Descriptor) ([]any, error) {
	values := make([]any, len(descs))
	for i, desc := range descs {
		v, err := d.lift(buf, desc, []string{"arg[" + strconv.Itoa(i) + "]"}, 0)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	if err := trailing(buf); err != nil {
		return nil, err
	}
	return values, nil
}

func trailing(buf *buffer.Buffer) error {
	if n := buf.Len(); n != 0 {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(n).
			Detail("%d trailing bytes after value", n).
			Build()
	}
	return nil
}

// at attaches path to errors raised without one.
func at(err error, path []string) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Path == nil && len(path) > 0 {
		e.Path = append([]string(nil), path...)
	}
	return err
}

func (d *Decoder) lift(buf *buffer.Buffer, desc *types.Descriptor, path []string, depth int) (any, error) {
	if depth > d.limits.MaxNestingDepth {
		return nil, errors.LimitExceeded(errors.PhaseDecode, path, "nesting depth", uint64(depth), uint64(d.limits.MaxNestingDepth))
	}

	switch desc.Kind {
	case types.KindBool:
		b, err := buf.ReadU8()
		if err != nil {
			return nil, at(err, path)
		}
		switch b {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, errors.InvalidData(errors.PhaseDecode, path, fmt.Sprintf("invalid bool byte %#x", b))

	case types.KindInt:
		v, err := liftInt(buf, desc)
		if err != nil {
			return nil, at(err, path)
		}
		return v, nil

	case types.KindFloat:
		if desc.Width == 32 {
			f, err := buf.ReadF32()
			if err != nil {
				return nil, at(err, path)
			}
			return f, nil
		}
		f, err := buf.ReadF64()
		if err != nil {
			return nil, at(err, path)
		}
		return f, nil

	case types.KindString:
		p, err := d.readLengthPrefixed(buf, path, "string length")
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(p) {
			return nil, errors.InvalidUTF8(errors.PhaseDecode, path, p)
		}
		return string(p), nil

	case types.KindBytes:
		p, err := d.readLengthPrefixed(buf, path, "bytes length")
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(p))
		copy(out, p)
		return out, nil

	case types.KindOptional:
		tag, err := buf.ReadU8()
		if err != nil {
			return nil, at(err, path)
		}
		switch tag {
		case 0:
			return nil, nil
		case 1:
			v, err := d.lift(buf, desc.Elem, path, depth+1)
			if err != nil {
				return nil, err
			}
			if desc.Elem.Kind == types.KindOptional {
				return Some{V: v}, nil
			}
			return v, nil
		}
		return nil, errors.InvalidData(errors.PhaseDecode, path, fmt.Sprintf("invalid presence byte %#x", tag))

	case types.KindSequence:
		n, err := d.readCount(buf, path, "sequence length")
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, prealloc(n, buf))
		for i := 0; i < n; i++ {
			v, err := d.lift(buf, desc.Elem, appendPath(path, indexSeg(i)), depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil

	case types.KindMapping:
		n, err := d.readCount(buf, path, "map length")
		if err != nil {
			return nil, err
		}
		entries := make(Map, 0, prealloc(n, buf))
		for i := 0; i < n; i++ {
			seg := indexSeg(i)
			k, err := d.lift(buf, desc.Key, appendPath(path, seg+".key"), depth+1)
			if err != nil {
				return nil, err
			}
			v, err := d.lift(buf, desc.Value, appendPath(path, seg+".value"), depth+1)
			if err != nil {
				return nil, err
			}
			entries = append(entries, MapEntry{Key: k, Value: v})
		}
		return entries, nil

	case types.KindRecord:
		return d.liftFields(buf, desc.Fields, path, depth)

	case types.KindEnum:
		disc, err := buf.ReadU32()
		if err != nil {
			return nil, at(err, path)
		}
		if int(disc) >= len(desc.Variants) {
			return nil, errors.InvalidDiscriminant(errors.PhaseDecode, path, disc, uint32(len(desc.Variants)-1))
		}
		variant := desc.Variants[disc]
		out := Variant{Name: variant.Name}
		if len(variant.Fields) > 0 {
			fields, err := d.liftFields(buf, variant.Fields, appendPath(path, variant.Name), depth)
			if err != nil {
				return nil, err
			}
			out.Fields = fields
		}
		return out, nil

	case types.KindObject:
		raw, err := buf.ReadU64()
		if err != nil {
			return nil, at(err, path)
		}
		h := handle.Handle(raw)
		if d.table != nil {
			if err := d.table.Check(h, desc.Name); err != nil {
				return nil, at(err, path)
			}
		}
		return h, nil

	case types.KindDuration:
		secs, err := buf.ReadU64()
		if err != nil {
			return nil, at(err, path)
		}
		nanos, err := readNanos(buf, path)
		if err != nil {
			return nil, err
		}
		if secs > uint64(maxDurationSeconds) {
			return nil, errors.Overflow(errors.PhaseDecode, path, secs, "time.Duration")
		}
		dur := time.Duration(secs) * time.Second
		if dur > math.MaxInt64-time.Duration(nanos) {
			return nil, errors.Overflow(errors.PhaseDecode, path, secs, "time.Duration")
		}
		return dur + time.Duration(nanos), nil

	case types.KindTimestamp:
		secs, err := buf.ReadU64()
		if err != nil {
			return nil, at(err, path)
		}
		nanos, err := readNanos(buf, path)
		if err != nil {
			return nil, err
		}
		return time.Unix(int64(secs), int64(nanos)).UTC(), nil
	}

	return nil, errors.Unsupported(errors.PhaseDecode, "descriptor kind "+desc.Kind.String())
}

func liftInt(buf *buffer.Buffer, desc *types.Descriptor) (any, error) {
	switch desc.Width {
	case 8:
		v, err := buf.ReadU8()
		if err != nil {
			return nil, err
		}
		if desc.Signed {
			return int8(v), nil
		}
		return v, nil
	case 16:
		v, err := buf.ReadU16()
		if err != nil {
			return nil, err
		}
		if desc.Signed {
			return int16(v), nil
		}
		return v, nil
	case 32:
		v, err := buf.ReadU32()
		if err != nil {
			return nil, err
		}
		if desc.Signed {
			return int32(v), nil
		}
		return v, nil
	case 64:
		v, err := buf.ReadU64()
		if err != nil {
			return nil, err
		}
		if desc.Signed {
			return int64(v), nil
		}
		return v, nil
	}
	return nil, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("integer width %d", desc.Width))
}

func (d *Decoder) liftFields(buf *buffer.Buffer, fields []types.Field, path []string, depth int) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := d.lift(buf, f.Type, appendPath(path, f.Name), depth+1)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func (d *Decoder) readLengthPrefixed(buf *buffer.Buffer, path []string, what string) ([]byte, error) {
	n, err := buf.ReadU32()
	if err != nil {
		return nil, at(err, path)
	}
	if n > d.limits.MaxStringSize {
		return nil, errors.LimitExceeded(errors.PhaseDecode, path, what, uint64(n), uint64(d.limits.MaxStringSize))
	}
	p, err := buf.ReadN(int(n))
	if err != nil {
		return nil, at(err, path)
	}
	return p, nil
}

func (d *Decoder) readCount(buf *buffer.Buffer, path []string, what string) (int, error) {
	n, err := buf.ReadU32()
	if err != nil {
		return 0, at(err, path)
	}
	if n > d.limits.MaxSequenceLen {
		return 0, errors.LimitExceeded(errors.PhaseDecode, path, what, uint64(n), uint64(d.limits.MaxSequenceLen))
	}
	return int(n), nil
}

func readNanos(buf *buffer.Buffer, path []string) (uint32, error) {
	nanos, err := buf.ReadU32()
	if err != nil {
		return 0, at(err, path)
	}
	if nanos >= uint32(time.Second) {
		return 0, errors.InvalidData(errors.PhaseDecode, path, fmt.Sprintf("nanoseconds %d out of range", nanos))
	}
	return nanos, nil
}

// prealloc caps a declared count by what the buffer could still hold, so a
// forged count cannot force a large allocation.
func prealloc(n int, buf *buffer.Buffer) int {
	if rem := buf.Len() + 1; n > rem {
		return rem
	}
	return n
}
