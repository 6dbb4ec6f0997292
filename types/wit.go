package types

import (
	"fmt"
	"strconv"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-bridge/errors"
)

// FromWIT converts a WIT type into a descriptor.
//
// WIT variants and results become enums whose payload-carrying cases have a
// single field named "value". Tuples become anonymous records with fields
// "0", "1", ... and list<u8> becomes bytes. Resource handles become object
// references to the resource's name.
func FromWIT(t wit.Type) (*Descriptor, error) {
	return fromWIT(t, nil)
}

func fromWIT(t wit.Type, path []string) (*Descriptor, error) {
	switch v := t.(type) {
	case wit.Bool:
		return Bool(), nil
	case wit.U8:
		return U8(), nil
	case wit.S8:
		return S8(), nil
	case wit.U16:
		return U16(), nil
	case wit.S16:
		return S16(), nil
	case wit.U32:
		return U32(), nil
	case wit.S32:
		return S32(), nil
	case wit.U64:
		return U64(), nil
	case wit.S64:
		return S64(), nil
	case wit.F32:
		return F32(), nil
	case wit.F64:
		return F64(), nil
	case wit.String:
		return String(), nil
	case *wit.TypeDef:
		return fromTypeDef(v, path)
	case nil:
		return nil, errors.NilPointer(errors.PhaseParse, path, "wit.Type")
	}
	return nil, errors.Unsupported(errors.PhaseParse, fmt.Sprintf("WIT type %T", t))
}

func fromTypeDef(td *wit.TypeDef, path []string) (*Descriptor, error) {
	name := ""
	if td.Name != nil {
		name = *td.Name
	}

	switch k := td.Kind.(type) {
	case *wit.Record:
		fields := make([]Field, 0, len(k.Fields))
		for _, f := range k.Fields {
			ft, err := fromWIT(f.Type, append(path, f.Name))
			if err != nil {
				return nil, err
			}
			fields = append(fields, F(f.Name, ft))
		}
		return Record(name, fields...), nil

	case *wit.List:
		if _, ok := k.Type.(wit.U8); ok {
			return Bytes(), nil
		}
		elem, err := fromWIT(k.Type, append(path, "elem"))
		if err != nil {
			return nil, err
		}
		return Sequence(elem), nil

	case *wit.Option:
		elem, err := fromWIT(k.Type, append(path, "some"))
		if err != nil {
			return nil, err
		}
		return Optional(elem), nil

	case *wit.Tuple:
		fields := make([]Field, 0, len(k.Types))
		for i, et := range k.Types {
			ft, err := fromWIT(et, append(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			fields = append(fields, F(strconv.Itoa(i), ft))
		}
		return Record(name, fields...), nil

	case *wit.Enum:
		variants := make([]Variant, 0, len(k.Cases))
		for _, c := range k.Cases {
			variants = append(variants, V(c.Name))
		}
		return Enum(name, variants...), nil

	case *wit.Variant:
		variants := make([]Variant, 0, len(k.Cases))
		for _, c := range k.Cases {
			if c.Type == nil {
				variants = append(variants, V(c.Name))
				continue
			}
			ct, err := fromWIT(c.Type, append(path, c.Name))
			if err != nil {
				return nil, err
			}
			variants = append(variants, V(c.Name, F("value", ct)))
		}
		return Enum(name, variants...), nil

	case *wit.Result:
		ok := V("ok")
		if k.OK != nil {
			ot, err := fromWIT(k.OK, append(path, "ok"))
			if err != nil {
				return nil, err
			}
			ok = V("ok", F("value", ot))
		}
		fail := V("err")
		if k.Err != nil {
			et, err := fromWIT(k.Err, append(path, "err"))
			if err != nil {
				return nil, err
			}
			fail = V("err", F("value", et))
		}
		return Enum(name, ok, fail), nil

	case *wit.Own:
		return Object(resourceName(k.Type)), nil

	case *wit.Borrow:
		return Object(resourceName(k.Type)), nil

	case wit.Type:
		return fromWIT(k, path)
	}

	return nil, errors.Unsupported(errors.PhaseParse, fmt.Sprintf("WIT type definition %T", td.Kind))
}

func resourceName(td *wit.TypeDef) string {
	if td != nil && td.Name != nil {
		return *td.Name
	}
	return "resource"
}
