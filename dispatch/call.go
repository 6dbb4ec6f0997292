package dispatch

import (
	"context"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

// Scope tracks references a running task owns. They are released when the
// task finishes or is cancelled.
type Scope interface {
	Adopt(h handle.Handle)
}

// Call is one invocation of a native handler.
//
// Arguments are lifted values. Object arguments are borrowed: the handler may
// use them for the duration of the call but must Clone to keep them.
type Call struct {
	ctx   context.Context
	Def   *FuncDef
	d     *Dispatcher
	scope Scope
	Args  []any
}

func (c *Call) Context() context.Context { return c.ctx }

// Table returns the handle table object arguments live in.
func (c *Call) Table() *handle.Table { return c.d.table }

// Scope returns the owning task's scope, nil for synchronous calls.
func (c *Call) Scope() Scope { return c.scope }

// Arg returns the lifted argument i, nil when out of range.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Handle returns the object reference passed as argument i.
func (c *Call) Handle(i int) (handle.Handle, error) {
	v := c.Arg(i)
	if s, ok := v.(transcoder.Some); ok {
		v = s.V
	}
	h, ok := v.(handle.Handle)
	if !ok {
		return 0, errors.New(errors.PhaseDispatch, errors.KindTypeMismatch).
			Path(c.paramName(i)).
			WireType("object").
			Detail("argument %d of %s is not an object reference", i, c.Def.Name).
			Build()
	}
	return h, nil
}

// Borrow returns the native object behind object argument i without
// changing its reference count.
func (c *Call) Borrow(i int) (any, error) {
	h, err := c.Handle(i)
	if err != nil {
		return nil, err
	}
	iface := ""
	if i < len(c.Def.Params) {
		iface = objectInterface(c.Def.Params[i].Type)
	}
	if iface == "" {
		return c.d.table.Borrow(h)
	}
	return c.d.table.BorrowTyped(h, iface)
}

// Receiver borrows the receiver of a method call.
func (c *Call) Receiver() (any, error) {
	if c.Def.Receiver == "" {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Detail("%s is not a method", c.Def.Name).
			Build()
	}
	return c.Borrow(0)
}

// Adopt hands h to the task scope so it is released when the task ends.
// Outside a task the reference is released immediately.
func (c *Call) Adopt(h handle.Handle) error {
	if c.scope != nil {
		c.scope.Adopt(h)
		return nil
	}
	return c.d.table.Release(h)
}

func (c *Call) paramName(i int) string {
	if i < len(c.Def.Params) {
		return c.Def.Params[i].Name
	}
	return ""
}

func objectInterface(d *types.Descriptor) string {
	for d != nil && d.Kind == types.KindOptional {
		d = d.Elem
	}
	if d != nil && d.Kind == types.KindObject {
		return d.Name
	}
	return ""
}

// collectHandles appends every object reference inside v, a value lifted as
// desc, to out.
func collectHandles(out []handle.Handle, v any, desc *types.Descriptor) []handle.Handle {
	if v == nil || desc == nil {
		return out
	}
	switch desc.Kind {
	case types.KindObject:
		if h, ok := v.(handle.Handle); ok {
			out = append(out, h)
		}
	case types.KindOptional:
		if s, ok := v.(transcoder.Some); ok {
			v = s.V
		}
		out = collectHandles(out, v, desc.Elem)
	case types.KindSequence:
		items, _ := v.([]any)
		for _, it := range items {
			out = collectHandles(out, it, desc.Elem)
		}
	case types.KindMapping:
		entries, _ := v.(transcoder.Map)
		for _, e := range entries {
			out = collectHandles(out, e.Key, desc.Key)
			out = collectHandles(out, e.Value, desc.Value)
		}
	case types.KindRecord:
		fields, _ := v.(map[string]any)
		out = collectFields(out, fields, desc.Fields)
	case types.KindEnum:
		variant, ok := v.(transcoder.Variant)
		if !ok {
			break
		}
		if idx, found := desc.VariantIndex(variant.Name); found {
			out = collectFields(out, variant.Fields, desc.Variants[idx].Fields)
		}
	}
	return out
}

func collectFields(out []handle.Handle, values map[string]any, fields []types.Field) []handle.Handle {
	for _, f := range fields {
		out = collectHandles(out, values[f.Name], f.Type)
	}
	return out
}
