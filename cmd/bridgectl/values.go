package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

// parseValue reads a command-line argument as JSON shaped by d. Strings,
// durations and timestamps may also be given bare.
//
// Enums are "variant" or {"variant": {fields}}; bytes are base64; durations
// use time.ParseDuration syntax; timestamps are RFC 3339.
func parseValue(raw string, d *types.Descriptor) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if !bareAllowed(d) {
			return nil, errors.ParseFailed("JSON argument", err)
		}
		v = raw
	}
	return fromJSON(v, d, nil)
}

func bareAllowed(d *types.Descriptor) bool {
	switch d.Kind {
	case types.KindString, types.KindDuration, types.KindTimestamp, types.KindEnum:
		return true
	case types.KindOptional:
		return bareAllowed(d.Elem)
	}
	return false
}

func mismatch(path []string, v any, d *types.Descriptor) error {
	return errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
		Path(path...).
		Detail("cannot use %T as %s", v, d).
		Build()
}

func fromJSON(v any, d *types.Descriptor, path []string) (any, error) {
	if v == nil {
		if d.Kind == types.KindOptional {
			return nil, nil
		}
		return nil, errors.NilPointer(errors.PhaseEncode, path, d.String())
	}

	switch d.Kind {
	case types.KindBool:
		if _, ok := v.(bool); !ok {
			return nil, mismatch(path, v, d)
		}
		return v, nil

	case types.KindInt:
		n, ok := v.(json.Number)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		if d.Signed {
			i, err := strconv.ParseInt(n.String(), 10, 64)
			if err != nil {
				return nil, errors.ParseFailed(strings.Join(path, "."), err)
			}
			return i, nil
		}
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return nil, errors.ParseFailed(strings.Join(path, "."), err)
		}
		return u, nil

	case types.KindFloat:
		n, ok := v.(json.Number)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		return n.Float64()

	case types.KindString:
		if _, ok := v.(string); !ok {
			return nil, mismatch(path, v, d)
		}
		return v, nil

	case types.KindBytes:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		p, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.ParseFailed(strings.Join(path, "."), err)
		}
		return p, nil

	case types.KindDuration:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		dur, err := time.ParseDuration(s)
		if err != nil {
			return nil, errors.ParseFailed(strings.Join(path, "."), err)
		}
		return dur, nil

	case types.KindTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, errors.ParseFailed(strings.Join(path, "."), err)
		}
		return t, nil

	case types.KindOptional:
		inner, err := fromJSON(v, d.Elem, path)
		if err != nil {
			return nil, err
		}
		if d.Elem.Kind == types.KindOptional {
			return transcoder.Some{V: inner}, nil
		}
		return inner, nil

	case types.KindSequence:
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		out := make([]any, len(items))
		for i, it := range items {
			x, err := fromJSON(it, d.Elem, append(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil

	case types.KindMapping:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(transcoder.Map, 0, len(obj))
		for _, k := range keys {
			var key any = k
			if d.Key.Kind != types.KindString {
				parsed, err := parseValue(k, d.Key)
				if err != nil {
					return nil, err
				}
				key = parsed
			}
			val, err := fromJSON(obj[k], d.Value, append(path, k))
			if err != nil {
				return nil, err
			}
			out = append(out, transcoder.MapEntry{Key: key, Value: val})
		}
		return out, nil

	case types.KindRecord:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, v, d)
		}
		return fieldsFromJSON(obj, d.Fields, d.Name, path)

	case types.KindEnum:
		return variantFromJSON(v, d, path)

	case types.KindObject:
		return nil, errors.Unsupported(errors.PhaseEncode, "object arguments have no offline encoding")
	}
	return nil, mismatch(path, v, d)
}

func fieldsFromJSON(obj map[string]any, fields []types.Field, owner string, path []string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		raw, ok := obj[f.Name]
		if !ok && f.Default != nil {
			out[f.Name] = f.Default.Value
			continue
		}
		if !ok && f.Type.Kind != types.KindOptional {
			return nil, errors.New(errors.PhaseEncode, errors.KindFieldMissing).
				Path(append(path, f.Name)...).
				Detail("%s has no field %q", owner, f.Name).
				Build()
		}
		x, err := fromJSON(raw, f.Type, append(path, f.Name))
		if err != nil {
			return nil, err
		}
		out[f.Name] = x
	}
	for k := range obj {
		if _, ok := out[k]; !ok {
			return nil, errors.New(errors.PhaseEncode, errors.KindFieldUnknown).
				Path(append(path, k)...).
				Detail("%s has no field %q", owner, k).
				Build()
		}
	}
	return out, nil
}

func variantFromJSON(v any, d *types.Descriptor, path []string) (any, error) {
	name, payload := "", map[string]any(nil)
	switch x := v.(type) {
	case string:
		name = x
	case map[string]any:
		if len(x) != 1 {
			return nil, mismatch(path, v, d)
		}
		for k, f := range x {
			name = k
			obj, ok := f.(map[string]any)
			if !ok {
				return nil, mismatch(append(path, k), f, d)
			}
			payload = obj
		}
	default:
		return nil, mismatch(path, v, d)
	}
	idx, ok := d.VariantIndex(name)
	if !ok {
		return nil, errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
			Path(path...).
			Detail("%s has no variant %q", d.Name, name).
			Build()
	}
	variant := d.Variants[idx]
	if len(variant.Fields) == 0 {
		return transcoder.Variant{Name: name}, nil
	}
	fields, err := fieldsFromJSON(payload, variant.Fields, d.Name+"."+name, append(path, name))
	if err != nil {
		return nil, err
	}
	return transcoder.Variant{Name: name, Fields: fields}, nil
}

// toJSON turns a lifted value into something encoding/json renders in the
// same shapes parseValue accepts.
func toJSON(v any) any {
	switch x := v.(type) {
	case transcoder.Some:
		return toJSON(x.V)
	case transcoder.Variant:
		if len(x.Fields) == 0 {
			return x.Name
		}
		return map[string]any{x.Name: toJSON(x.Fields)}
	case transcoder.Map:
		obj := make(map[string]any, len(x))
		for _, e := range x {
			obj[fmt.Sprint(toJSON(e.Key))] = toJSON(e.Value)
		}
		return obj
	case map[string]any:
		obj := make(map[string]any, len(x))
		for k, e := range x {
			obj[k] = toJSON(e)
		}
		return obj
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toJSON(e)
		}
		return out
	case time.Duration:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case handle.Handle:
		return uint64(x)
	}
	return v
}
