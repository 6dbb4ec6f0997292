package runtime

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/async"
	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

func (r *Runtime) resolve(name string) (uint32, *dispatch.FuncDef, error) {
	if r.closed.Load() {
		return 0, nil, errors.InvalidInput(errors.PhaseDispatch, "runtime is closed")
	}
	id, err := r.disp.Registry().Resolve(name)
	if err != nil {
		return 0, nil, err
	}
	def, _ := r.disp.Lookup(id)
	return id, def, nil
}

// invoke lowers args into a pooled buffer and dispatches. Omitted trailing
// arguments take their declared defaults. Object arguments are lent to the
// call: the references lowering took are dropped once Dispatch returns.
func (r *Runtime) invoke(ctx context.Context, id uint32, def *dispatch.FuncDef, args []any) (dispatch.Result, error) {
	buf := buffer.Get()
	defer buf.Release()
	minted := transcoder.NewHandleList()
	defer minted.ReleaseAll(r.objects)

	args = types.FillDefaults(args, def.Params)
	if err := r.disp.Encoder().LowerAllTracked(buf, args, def.ParamTypes(), minted); err != nil {
		return dispatch.Result{}, err
	}
	return r.disp.Dispatch(ctx, id, buf), nil
}

// Call invokes the named function the way generated glue does: arguments
// are lowered, the call is dispatched by id and the result lifted. Declared
// errors come back as *dispatch.DomainError. Asynchronous functions are
// awaited; cancelling ctx cancels the task.
//
// Returned objects are handles owned by the caller; release them with
// ReleaseHandle.
func (r *Runtime) Call(ctx context.Context, name string, args ...any) (any, error) {
	id, def, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	res, err := r.invoke(ctx, id, def, args)
	if err != nil {
		return nil, err
	}
	if !def.Async || !res.OK() {
		return r.disp.Unpack(id, res)
	}

	p := &Pending{rt: r, id: id, name: def.Name, task: res.Handle}
	defer func() { _ = p.Free() }()
	return p.Await(ctx)
}

// CallAsync starts an asynchronous function and returns its pending task.
// The caller must Free it.
func (r *Runtime) CallAsync(ctx context.Context, name string, args ...any) (*Pending, error) {
	id, def, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	if !def.Async {
		return nil, errors.InvalidInput(errors.PhaseAsync, name+" is not asynchronous")
	}
	res, err := r.invoke(ctx, id, def, args)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		_, err := r.disp.Unpack(id, res)
		return nil, err
	}
	return &Pending{rt: r, id: id, name: def.Name, task: res.Handle}, nil
}

// Pending is an asynchronous call in flight.
type Pending struct {
	rt    *Runtime
	name  string
	task  handle.Handle
	id    uint32
	freed atomic.Bool
}

// Task returns the task handle foreign code would poll.
func (p *Pending) Task() handle.Handle { return p.task }

// State returns the task's state.
func (p *Pending) State() (async.State, error) { return p.rt.tasks.State(p.task) }

// Await waits for the task and lifts its result. If ctx ends first the task
// is cancelled and ctx's error returned.
func (p *Pending) Await(ctx context.Context) (any, error) {
	pr, err := p.rt.tasks.Await(ctx, p.task)
	if err != nil {
		if ctx.Err() != nil {
			_ = p.Cancel()
		}
		return nil, err
	}
	if pr.State == async.StateDelivered {
		return nil, errors.New(errors.PhaseAsync, errors.KindAlreadyConsumed).
			Value(uint64(p.task)).
			Detail("result of %s already delivered", p.name).
			Build()
	}
	return p.rt.disp.UnpackCompletion(p.id, pr.Result)
}

// Cancel requests cancellation.
func (p *Pending) Cancel() error { return p.rt.tasks.Cancel(p.task) }

// Free releases the task. It is safe to call more than once.
func (p *Pending) Free() error {
	if !p.freed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.rt.tasks.Free(p.task); err != nil {
		p.rt.log.Warn("task free failed", zap.String("function", p.name), zap.Error(err))
		return err
	}
	return nil
}

// Borrow returns the native object behind h.
func (r *Runtime) Borrow(h handle.Handle) (any, error) {
	return r.objects.Borrow(h)
}
