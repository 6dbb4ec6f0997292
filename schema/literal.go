package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

// literal converts a declared default to a value of type d.
//
// Integers may be JSON numbers or strings with a 0x, 0o or 0b prefix. Enum
// defaults name a variant without fields. Lists and maps only default to
// empty, and null only defaults an optional.
func literal(raw json.RawMessage, d *types.Descriptor, path []string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidInput, err, "default of "+strings.Join(path, "."))
	}
	return literalValue(v, d, path)
}

func badLiteral(path []string, v any, d *types.Descriptor) error {
	return errors.New(errors.PhaseSchema, errors.KindInvalidInput).
		Path(path...).
		WireType(d.String()).
		Detail("default %s is not a %s literal", string(mustJSON(v)), d).
		Build()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("?")
	}
	return data
}

func literalValue(v any, d *types.Descriptor, path []string) (any, error) {
	if v == nil {
		if d.Kind != types.KindOptional {
			return nil, badLiteral(path, v, d)
		}
		return nil, nil
	}

	switch d.Kind {
	case types.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}

	case types.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}

	case types.KindInt:
		var text string
		switch x := v.(type) {
		case json.Number:
			text = x.String()
		case string:
			text = x
		default:
			return nil, badLiteral(path, v, d)
		}
		if d.Signed {
			n, err := strconv.ParseInt(text, 0, int(d.Width))
			if err != nil {
				return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidInput, err, "default of "+strings.Join(path, "."))
			}
			return n, nil
		}
		n, err := strconv.ParseUint(text, 0, int(d.Width))
		if err != nil {
			return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidInput, err, "default of "+strings.Join(path, "."))
		}
		return n, nil

	case types.KindFloat:
		n, ok := v.(json.Number)
		if !ok {
			break
		}
		f, err := strconv.ParseFloat(n.String(), int(d.Width))
		if err != nil {
			return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidInput, err, "default of "+strings.Join(path, "."))
		}
		if d.Width == 32 {
			return float32(f), nil
		}
		return f, nil

	case types.KindEnum:
		name, ok := v.(string)
		if !ok {
			break
		}
		idx, found := d.VariantIndex(name)
		if !found {
			return nil, errors.New(errors.PhaseSchema, errors.KindInvalidVariant).
				Path(path...).
				Detail("default names unknown variant %q of %s", name, d.Name).
				Build()
		}
		if len(d.Variants[idx].Fields) > 0 {
			return nil, errors.New(errors.PhaseSchema, errors.KindInvalidVariant).
				Path(path...).
				Detail("default variant %q of %s has fields", name, d.Name).
				Build()
		}
		return transcoder.Variant{Name: name}, nil

	case types.KindSequence:
		if items, ok := v.([]any); ok && len(items) == 0 {
			return []any{}, nil
		}

	case types.KindMapping:
		if obj, ok := v.(map[string]any); ok && len(obj) == 0 {
			return transcoder.Map{}, nil
		}

	case types.KindOptional:
		inner, err := literalValue(v, d.Elem, path)
		if err != nil {
			return nil, err
		}
		if d.Elem.Kind == types.KindOptional {
			return transcoder.Some{V: inner}, nil
		}
		return inner, nil
	}
	return nil, badLiteral(path, v, d)
}
