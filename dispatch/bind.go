package dispatch

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

// Host is the interface for struct-based native implementations.
// All exported methods (except Namespace and Functions) are candidates.
type Host interface {
	// Namespace names the implemented interface in error messages.
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact function names when the
// automatic PascalCase-to-snake_case conversion doesn't apply.
type ExplicitRegistrar interface {
	Functions() map[string]any
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// BindHost registers defs, taking each handler from host.
//
// A definition named "counter.new" is implemented by a host method whose
// snake_case name is "counter_new" (CounterNew). Methods (defs with a
// Receiver) fall back to the receiver object's own method named after the
// part after the last dot, resolved at call time. Definitions that already
// carry a Handler are registered as they are.
//
// Implementations may take a leading context.Context and may return
// (T, error), T, error or nothing, matching the definition's return type.
// Every unimplemented definition is reported in one MissingImplsError.
func (d *Dispatcher) BindHost(host any, defs []FuncDef) error {
	if host == nil {
		return errors.InvalidInput(errors.PhaseHost, "host cannot be nil")
	}
	ns := reflect.TypeOf(host).String()
	if h, ok := host.(Host); ok && h.Namespace() != "" {
		ns = h.Namespace()
	}

	impls := collectImpls(host)
	bound := make([]FuncDef, 0, len(defs))
	var missing []string

	for _, def := range defs {
		if def.Handler != nil {
			bound = append(bound, def)
			continue
		}

		fn, ok := impls[def.Name]
		if !ok {
			fn, ok = impls[strings.ReplaceAll(def.Name, ".", "_")]
		}
		switch {
		case ok:
			h, err := reflectHandler(&def, fn)
			if err != nil {
				return errors.Registration(errors.PhaseHost, ns, def.Name, err)
			}
			def.Handler = h
		case def.Receiver != "":
			def.Handler = methodHandler(&def)
		default:
			owner := ""
			if i := strings.LastIndexByte(def.Name, '.'); i >= 0 {
				owner = def.Name[:i]
			}
			missing = append(missing, owner+"#"+def.Name)
			continue
		}
		bound = append(bound, def)
	}

	if len(missing) > 0 {
		return errors.NewMissingImplsError(ns, missing)
	}
	for _, def := range bound {
		if err := d.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func collectImpls(host any) map[string]reflect.Value {
	impls := make(map[string]reflect.Value)

	rv := reflect.ValueOf(host)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" || method.Name == "Functions" {
			continue
		}
		impls[transcoder.SnakeCase(method.Name)] = rv.Method(i)
	}

	if er, ok := host.(ExplicitRegistrar); ok {
		for name, fn := range er.Functions() {
			impls[name] = reflect.ValueOf(fn)
		}
	}
	return impls
}

// signature describes how to call a Go function for a definition.
type signature struct {
	fn        reflect.Value
	params    []types.Field
	withCtx   bool
	errLast   bool
	hasResult bool
}

func newSignature(fn reflect.Value, params []types.Field, returns *types.Descriptor) (*signature, error) {
	if fn.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(fn.Type().String()).
			Detail("handler must be a function").
			Build()
	}
	ft := fn.Type()
	s := &signature{fn: fn, params: params}

	s.withCtx = ft.NumIn() > 0 && ft.In(0) == contextType
	want := len(params)
	if s.withCtx {
		want++
	}
	if ft.IsVariadic() || ft.NumIn() != want {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(ft.String()).
			Detail("expected %d parameters", len(params)).
			Build()
	}

	outs := ft.NumOut()
	s.errLast = outs > 0 && ft.Out(outs-1) == errorType
	if s.errLast {
		outs--
	}
	switch {
	case outs > 1:
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(ft.String()).
			Detail("at most one result plus error is supported").
			Build()
	case outs == 1 && returns == nil:
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(ft.String()).
			Detail("function is declared without a return value").
			Build()
	case outs == 0 && returns != nil:
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(ft.String()).
			Detail("function is declared to return %s", returns.String()).
			Build()
	}
	s.hasResult = outs == 1
	return s, nil
}

func (s *signature) call(c *Call, args []any) (any, error) {
	ft := s.fn.Type()
	in := make([]reflect.Value, ft.NumIn())
	k := 0
	if s.withCtx {
		in[0] = reflect.ValueOf(c.Context())
		k = 1
	}
	for i, p := range s.params {
		v, err := c.d.dec.Into(ft.In(k+i), args[i], p.Type)
		if err != nil {
			return nil, err
		}
		in[k+i] = v
	}

	out := s.fn.Call(in)
	if s.errLast {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
	}
	if s.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

func reflectHandler(def *FuncDef, fn reflect.Value) (Handler, error) {
	sig, err := newSignature(fn, def.Params, def.Returns)
	if err != nil {
		return nil, err
	}
	return func(c *Call) (any, error) {
		return sig.call(c, c.Args)
	}, nil
}

type methodKey struct {
	recv reflect.Type
	id   uint32
}

var methodCache sync.Map // methodKey -> method index, -1 when absent

// methodHandler calls the receiver's own Go method. The method is located
// on the receiver's dynamic type, so binding cannot check it up front.
func methodHandler(def *FuncDef) Handler {
	name := def.Name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	params := def.Params[1:]
	returns := def.Returns
	id := def.ID

	return func(c *Call) (any, error) {
		recv, err := c.Receiver()
		if err != nil {
			return nil, err
		}
		rv := reflect.ValueOf(recv)
		key := methodKey{recv: rv.Type(), id: id}

		idx, ok := methodCache.Load(key)
		if !ok {
			idx = findMethod(rv.Type(), name)
			methodCache.Store(key, idx)
		}
		i := idx.(int)
		if i < 0 {
			return nil, errors.New(errors.PhaseDispatch, errors.KindMissingImpl).
				GoType(rv.Type().String()).
				Detail("no method implements %s", c.Def.Name).
				Build()
		}

		sig, err := newSignature(rv.Method(i), params, returns)
		if err != nil {
			return nil, err
		}
		return sig.call(c, c.Args[1:])
	}
}

func findMethod(t reflect.Type, name string) int {
	for i := 0; i < t.NumMethod(); i++ {
		if transcoder.SnakeCase(t.Method(i).Name) == name {
			return i
		}
	}
	return -1
}
