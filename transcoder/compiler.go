package transcoder

import (
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/types"
)

// Plan maps the fields of a Go struct onto a record descriptor.
// Fields are in descriptor (wire) order.
type Plan struct {
	GoType reflect.Type
	Desc   *types.Descriptor
	Fields []PlanField
}

type PlanField struct {
	Type    *types.Descriptor
	Name    string
	GoName  string
	Index   []int
	Pointer bool
}

// Compiler builds and caches struct plans.
type Compiler struct {
	cache sync.Map // cacheKey -> *Plan
}

type cacheKey struct {
	goType reflect.Type
	desc   *types.Descriptor
}

var defaultCompiler = NewCompiler()

func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile returns the plan for goType against the record descriptor d.
// Pointer types are dereferenced.
func (c *Compiler) Compile(goType reflect.Type, d *types.Descriptor) (*Plan, error) {
	if goType == nil {
		return nil, errors.New(errors.PhaseValidate, errors.KindNilPointer).
			Detail("Go type cannot be nil").
			Build()
	}
	for goType.Kind() == reflect.Ptr {
		goType = goType.Elem()
	}

	key := cacheKey{goType: goType, desc: d}
	if cached, ok := c.cache.Load(key); ok {
		return cached.(*Plan), nil
	}

	p, err := c.compile(goType, d)
	if err != nil {
		return nil, err
	}
	actual, _ := c.cache.LoadOrStore(key, p)
	return actual.(*Plan), nil
}

func (c *Compiler) compile(goType reflect.Type, d *types.Descriptor) (*Plan, error) {
	if d.Kind != types.KindRecord {
		return nil, errors.TypeMismatch(errors.PhaseValidate, nil, goType.String(), d.String())
	}
	if goType.Kind() != reflect.Struct {
		return nil, errors.TypeMismatch(errors.PhaseValidate, nil, goType.String(), "struct")
	}

	fields := make([]PlanField, 0, len(d.Fields))
	for _, f := range d.Fields {
		sf, found := findGoField(goType, f.Name)
		if !found {
			return nil, errors.New(errors.PhaseValidate, errors.KindFieldMissing).
				Path(d.Name, f.Name).
				GoType(goType.String()).
				Detail("no struct field for record field %q", f.Name).
				Build()
		}
		fields = append(fields, PlanField{
			Name:    f.Name,
			GoName:  sf.Name,
			Index:   sf.Index,
			Type:    f.Type,
			Pointer: sf.Type.Kind() == reflect.Ptr,
		})
	}

	return &Plan{GoType: goType, Desc: d, Fields: fields}, nil
}

// findGoField matches by: 1) bridge:"name" tag, 2) snake_case name, 3) case-insensitive.
func findGoField(goType reflect.Type, name string) (reflect.StructField, bool) {
	var fallback *reflect.StructField
	for i := 0; i < goType.NumField(); i++ {
		field := goType.Field(i)
		if !field.IsExported() {
			continue
		}

		if tag, ok := field.Tag.Lookup("bridge"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				if tag == name {
					return field, true
				}
				continue
			}
		}

		if SnakeCase(field.Name) == name {
			return field, true
		}
		if fallback == nil && strings.EqualFold(field.Name, name) {
			f := field
			fallback = &f
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return reflect.StructField{}, false
}

// SnakeCase converts a Go identifier to snake_case, keeping acronyms
// together: "UserID" becomes "user_id", "HTTPServer" becomes "http_server".
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
