package dispatch

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

// TaskFunc is the body of an asynchronous call.
type TaskFunc func(ctx context.Context, scope Scope) Result

// Spawner runs asynchronous calls. owned references are adopted by the
// task's scope before Spawn returns.
type Spawner interface {
	Spawn(ctx context.Context, fn TaskFunc, owned ...handle.Handle) (handle.Handle, error)
}

// Dispatcher routes calls by numeric id to native handlers.
//
// It never releases caller references: object arguments are borrowed for the
// call, and returned objects are new references owned by the caller.
type Dispatcher struct {
	registry   *Registry
	table      *handle.Table
	enc        *transcoder.Encoder
	dec        *transcoder.Decoder
	spawner    Spawner
	callbacks  *callbackRegistry
	middleware []Middleware
	codecOpts  []transcoder.Option
}

type Option func(*Dispatcher)

// WithRegistry shares a function registry.
func WithRegistry(r *Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// WithMiddleware adds middleware outside the built-in logging and recovery.
func WithMiddleware(mws ...Middleware) Option {
	return func(d *Dispatcher) { d.middleware = append(d.middleware, mws...) }
}

// WithCodecOptions configures the encoder and decoder.
func WithCodecOptions(opts ...transcoder.Option) Option {
	return func(d *Dispatcher) { d.codecOpts = append(d.codecOpts, opts...) }
}

// WithSpawner sets the runner for asynchronous functions.
func WithSpawner(s Spawner) Option {
	return func(d *Dispatcher) { d.spawner = s }
}

// New creates a dispatcher whose object references live in table.
func New(table *handle.Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{table: table, callbacks: newCallbackRegistry()}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	d.middleware = append(d.middleware, Logging(nil), Recovery())
	d.enc = transcoder.NewEncoder(table, d.codecOpts...)
	d.dec = transcoder.NewDecoder(table, d.codecOpts...)
	return d
}

func (d *Dispatcher) Registry() *Registry          { return d.registry }
func (d *Dispatcher) Table() *handle.Table         { return d.table }
func (d *Dispatcher) Encoder() *transcoder.Encoder { return d.enc }
func (d *Dispatcher) Decoder() *transcoder.Decoder { return d.dec }

// Register adds a function definition.
func (d *Dispatcher) Register(def FuncDef) error {
	return d.registry.Register(def)
}

func (d *Dispatcher) Lookup(id uint32) (*FuncDef, bool) {
	return d.registry.Lookup(id)
}

// SetSpawner sets the runner for asynchronous functions.
// Must be called before asynchronous functions are dispatched.
func (d *Dispatcher) SetSpawner(s Spawner) {
	d.spawner = s
}

// Dispatch invokes function id with lowered arguments. It never panics:
// every failure, including a native panic, is reported through the status.
// The caller keeps ownership of args.
func (d *Dispatcher) Dispatch(ctx context.Context, id uint32, args *buffer.Buffer) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(StatusPanic, errors.Panic(r))
		}
	}()

	def, ok := d.registry.Lookup(id)
	if !ok {
		err := errors.UnknownFunction(id, d.registry.nearestID(id))
		Logger().Error("unknown function", zap.Uint32("id", id))
		return failure(StatusUnknownFunction, err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if args == nil {
		args = buffer.Wrap(nil)
	}
	values, err := d.dec.LiftAll(args, def.ParamTypes())
	if err != nil {
		Logger().Debug("argument decode failed", zap.String("function", def.Name), zap.Error(err))
		return Failure(err)
	}

	if def.Async {
		return d.spawn(ctx, def, values)
	}
	return d.invoke(&Call{ctx: ctx, Def: def, d: d, Args: values})
}

func (d *Dispatcher) spawn(ctx context.Context, def *FuncDef, values []any) Result {
	if d.spawner == nil {
		return failure(StatusPanic, errors.Unsupported(errors.PhaseDispatch, "async function "+def.Name+" without a task bridge"))
	}

	// Borrowed arguments would not outlive this call; the task keeps its own
	// references until it ends.
	var nested []handle.Handle
	for i, p := range def.Params {
		if i < len(values) {
			nested = collectHandles(nested, values[i], p.Type)
		}
	}
	owned := make([]handle.Handle, 0, len(nested))
	for _, h := range nested {
		clone, err := d.table.Clone(h)
		if err != nil {
			d.releaseAll(owned)
			return Failure(err)
		}
		owned = append(owned, clone)
	}

	task, err := d.spawner.Spawn(ctx, func(tctx context.Context, scope Scope) Result {
		return d.invoke(&Call{ctx: tctx, Def: def, d: d, Args: values, scope: scope})
	}, owned...)
	if err != nil {
		d.releaseAll(owned)
		return Failure(err)
	}
	return Result{Status: StatusOk, Handle: task}
}

func (d *Dispatcher) releaseAll(hs []handle.Handle) {
	for _, h := range hs {
		if err := d.table.Release(h); err != nil {
			Logger().Warn("release failed", zap.Stringer("handle", h), zap.Error(err))
		}
	}
}

// invoke runs the handler chain and converts its outcome into a Result.
func (d *Dispatcher) invoke(c *Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(StatusPanic, errors.Panic(r))
		}
	}()

	h := Chain(c.Def.Handler, d.middleware...)
	value, err := h(c)
	if err != nil {
		return d.fail(c.Def, err)
	}
	return d.complete(c.Def, value)
}

func (d *Dispatcher) fail(def *FuncDef, err error) Result {
	var de *DomainError
	if !stderrors.As(err, &de) {
		return Failure(err)
	}
	if def.Throws == nil {
		return failure(StatusPanic, errors.Wrap(errors.PhaseDispatch, errors.KindPanic, err,
			def.Name+" raised an undeclared error"))
	}

	res, lerr := d.lower(de.Value, def.Throws)
	if lerr != nil {
		return failure(StatusPanic, errors.Wrap(errors.PhaseDispatch, errors.KindPanic, lerr,
			def.Name+" raised an error that does not match "+def.Throws.String()))
	}
	res.Status = StatusErr
	res.ErrorType = def.ThrowsID
	return res
}

func (d *Dispatcher) complete(def *FuncDef, value any) Result {
	if def.Returns == nil {
		return okUnit()
	}
	res, err := d.lower(value, def.Returns)
	if err != nil {
		Logger().Warn("return value lowering failed", zap.String("function", def.Name), zap.Error(err))
		return Failure(err)
	}
	if def.Returns.Kind == types.KindObject {
		h, rerr := res.Buffer.ReadU64()
		res.Release()
		if rerr != nil {
			res.Discard(d.table)
			return Failure(rerr)
		}
		res.Handle = handle.Handle(h)
	}
	return res
}

// lower encodes value into a Result buffer, recording minted references.
func (d *Dispatcher) lower(value any, desc *types.Descriptor) (Result, error) {
	buf := buffer.Get()
	minted := transcoder.NewHandleList()
	defer minted.Release()

	if err := d.enc.LowerTracked(buf, value, desc, minted); err != nil {
		buf.Release()
		return Result{}, err
	}
	res := Result{Status: StatusOk, Buffer: buf}
	if n := minted.Count(); n > 0 {
		res.Minted = append(make([]handle.Handle, 0, n), minted.Handles()...)
	}
	return res, nil
}

// Unpack converts a Result of function id back into a Go value, the way
// foreign glue would: Ok lifts the return value, Err yields a *DomainError
// holding the lifted error value, every other status yields its error.
// The result's buffer is released.
func (d *Dispatcher) Unpack(id uint32, r Result) (any, error) {
	def, ok := d.registry.Lookup(id)
	if !ok {
		r.Release()
		return nil, errors.UnknownFunction(id, "")
	}
	returns := def.Returns
	if def.Async {
		returns = nil
	}
	return d.unpack(r, returns, def.Throws)
}

// UnpackCompletion is Unpack for the result an asynchronous function's task
// delivers.
func (d *Dispatcher) UnpackCompletion(id uint32, r Result) (any, error) {
	def, ok := d.registry.Lookup(id)
	if !ok {
		r.Release()
		return nil, errors.UnknownFunction(id, "")
	}
	return d.unpack(r, def.Returns, def.Throws)
}

func (d *Dispatcher) unpack(r Result, returns, throws *types.Descriptor) (any, error) {
	defer r.Release()

	switch r.Status {
	case StatusOk:
		if r.Handle != 0 {
			return r.Handle, nil
		}
		if r.Buffer == nil || returns == nil {
			return nil, nil
		}
		return d.dec.Lift(r.Buffer, returns)
	case StatusErr:
		if throws == nil || r.Buffer == nil {
			return nil, errors.New(errors.PhaseDispatch, errors.KindDomain).
				Detail("undeclared domain error").
				Build()
		}
		v, err := d.dec.Lift(r.Buffer, throws)
		if err != nil {
			return nil, err
		}
		return nil, &DomainError{Value: v}
	}
	return nil, r.Err()
}
