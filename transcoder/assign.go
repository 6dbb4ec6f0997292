package transcoder

import (
	"reflect"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder/internal/coerce"
	"github.com/wippyai/ffi-bridge/types"
)

// Assign stores a lifted value into dst, converting the dynamic value model
// into the Go type of dst. Object references are resolved by borrowing from
// the decoder's table unless dst is a handle.Handle.
func (d *Decoder) Assign(dst reflect.Value, src any, desc *types.Descriptor) error {
	if !dst.CanSet() {
		return errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			GoType(dst.Type().String()).
			Detail("destination is not settable").
			Build()
	}
	return d.assign(dst, src, desc, nil)
}

// Into lifts one value from a dynamic result into a new value of type t.
func (d *Decoder) Into(t reflect.Type, src any, desc *types.Descriptor) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if err := d.assign(out, src, desc, nil); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func (d *Decoder) assign(dst reflect.Value, src any, desc *types.Descriptor, path []string) error {
	dt := dst.Type()

	if dt.Kind() == reflect.Interface {
		if src == nil {
			dst.Set(reflect.Zero(dt))
			return nil
		}
		sv := reflect.ValueOf(src)
		if !sv.Type().AssignableTo(dt) {
			return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), desc.String())
		}
		dst.Set(sv)
		return nil
	}

	switch desc.Kind {
	case types.KindOptional:
		if src == nil {
			dst.Set(reflect.Zero(dt))
			return nil
		}
		if s, ok := src.(Some); ok {
			src = s.V
		}
		if dt.Kind() == reflect.Ptr && desc.Elem.Kind != types.KindObject {
			elem := reflect.New(dt.Elem())
			if err := d.assign(elem.Elem(), src, desc.Elem, path); err != nil {
				return err
			}
			dst.Set(elem)
			return nil
		}
		return d.assign(dst, src, desc.Elem, path)

	case types.KindInt:
		return assignNumber(dst, src, desc, path)

	case types.KindFloat:
		f, ok := coerce.Float64(src)
		if !ok || (dt.Kind() != reflect.Float32 && dt.Kind() != reflect.Float64) {
			return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), desc.String())
		}
		dst.SetFloat(f)
		return nil

	case types.KindSequence:
		items, ok := src.([]any)
		if !ok {
			return errors.TypeMismatch(errors.PhaseDecode, path, coerce.TypeName(src), desc.String())
		}
		switch dt.Kind() {
		case reflect.Slice:
			out := reflect.MakeSlice(dt, len(items), len(items))
			for i, item := range items {
				if err := d.assign(out.Index(i), item, desc.Elem, appendPath(path, indexSeg(i))); err != nil {
					return err
				}
			}
			dst.Set(out)
			return nil
		case reflect.Array:
			if dt.Len() != len(items) {
				return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
					Path(path...).
					Detail("array of %d cannot hold %d elements", dt.Len(), len(items)).
					Build()
			}
			for i, item := range items {
				if err := d.assign(dst.Index(i), item, desc.Elem, appendPath(path, indexSeg(i))); err != nil {
					return err
				}
			}
			return nil
		}
		return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), desc.String())

	case types.KindMapping:
		entries, ok := src.(Map)
		if !ok {
			return errors.TypeMismatch(errors.PhaseDecode, path, coerce.TypeName(src), desc.String())
		}
		if dt == reflect.TypeOf(Map(nil)) {
			dst.Set(reflect.ValueOf(entries))
			return nil
		}
		if dt.Kind() != reflect.Map {
			return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), desc.String())
		}
		out := reflect.MakeMapWithSize(dt, len(entries))
		for i, entry := range entries {
			seg := indexSeg(i)
			k := reflect.New(dt.Key()).Elem()
			if err := d.assign(k, entry.Key, desc.Key, appendPath(path, seg+".key")); err != nil {
				return err
			}
			v := reflect.New(dt.Elem()).Elem()
			if err := d.assign(v, entry.Value, desc.Value, appendPath(path, seg+".value")); err != nil {
				return err
			}
			out.SetMapIndex(k, v)
		}
		dst.Set(out)
		return nil

	case types.KindRecord:
		return d.assignRecord(dst, src, desc, path)

	case types.KindEnum:
		v, ok := src.(Variant)
		if !ok {
			return errors.TypeMismatch(errors.PhaseDecode, path, coerce.TypeName(src), desc.String())
		}
		switch {
		case dt == reflect.TypeOf(Variant{}):
			dst.Set(reflect.ValueOf(v))
			return nil
		case dt.Kind() == reflect.String && len(v.Fields) == 0:
			dst.SetString(v.Name)
			return nil
		case dt.Kind() >= reflect.Int && dt.Kind() <= reflect.Uint64 && len(v.Fields) == 0:
			idx, _ := desc.VariantIndex(v.Name)
			return assignNumber(dst, idx, types.U32(), path)
		}
		return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), desc.String())

	case types.KindObject:
		h, ok := src.(handle.Handle)
		if !ok {
			return errors.TypeMismatch(errors.PhaseDecode, path, coerce.TypeName(src), desc.String())
		}
		if dt == handleType {
			dst.Set(reflect.ValueOf(h))
			return nil
		}
		if d.table == nil {
			return errors.New(errors.PhaseDecode, errors.KindUnsupported).
				Path(path...).
				Detail("object reference without a handle table").
				Build()
		}
		obj, err := d.table.BorrowTyped(h, desc.Name)
		if err != nil {
			return at(err, path)
		}
		ov := reflect.ValueOf(obj)
		if !ov.IsValid() || !ov.Type().AssignableTo(dt) {
			return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), coerce.TypeName(obj))
		}
		dst.Set(ov)
		return nil
	}

	// bool, string, bytes, duration, timestamp
	if src == nil {
		return errors.NilPointer(errors.PhaseDecode, path, dt.String())
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dt) {
		dst.Set(sv)
		return nil
	}
	if sv.Type().ConvertibleTo(dt) && sv.Kind() == dt.Kind() {
		dst.Set(sv.Convert(dt))
		return nil
	}
	return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), desc.String())
}

func assignNumber(dst reflect.Value, src any, desc *types.Descriptor, path []string) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, ok := coerce.Int64(src)
		if !ok || dst.OverflowInt(v) {
			return errors.Overflow(errors.PhaseDecode, path, src, dst.Type().String())
		}
		dst.SetInt(v)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		v, ok := coerce.Uint64(src)
		if !ok || dst.OverflowUint(v) {
			return errors.Overflow(errors.PhaseDecode, path, src, dst.Type().String())
		}
		dst.SetUint(v)
		return nil
	case reflect.Float32, reflect.Float64:
		f, ok := coerce.Float64(src)
		if !ok {
			return errors.Overflow(errors.PhaseDecode, path, src, dst.Type().String())
		}
		dst.SetFloat(f)
		return nil
	}
	return errors.TypeMismatch(errors.PhaseDecode, path, dst.Type().String(), desc.String())
}

func (d *Decoder) assignRecord(dst reflect.Value, src any, desc *types.Descriptor, path []string) error {
	m, ok := src.(map[string]any)
	if !ok {
		return errors.TypeMismatch(errors.PhaseDecode, path, coerce.TypeName(src), desc.String())
	}
	dt := dst.Type()

	switch dt.Kind() {
	case reflect.Ptr:
		elem := reflect.New(dt.Elem())
		if err := d.assignRecord(elem.Elem(), src, desc, path); err != nil {
			return err
		}
		dst.Set(elem)
		return nil

	case reflect.Map:
		if dt.Key().Kind() != reflect.String {
			break
		}
		out := reflect.MakeMapWithSize(dt, len(m))
		for _, f := range desc.Fields {
			v := reflect.New(dt.Elem()).Elem()
			if err := d.assign(v, m[f.Name], f.Type, appendPath(path, f.Name)); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(f.Name).Convert(dt.Key()), v)
		}
		dst.Set(out)
		return nil

	case reflect.Struct:
		plan, err := d.compiler.Compile(dt, desc)
		if err != nil {
			return err
		}
		for _, f := range plan.Fields {
			fv := dst.FieldByIndex(f.Index)
			if err := d.assign(fv, m[f.Name], f.Type, appendPath(path, f.Name)); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.TypeMismatch(errors.PhaseDecode, path, dt.String(), desc.String())
}
