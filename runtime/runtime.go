package runtime

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/async"
	"github.com/wippyai/ffi-bridge/config"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/schema"
	"github.com/wippyai/ffi-bridge/transcoder"
)

// Runtime serves one interface: it owns the object table, the dispatcher,
// the task bridge and the buffers lent to foreign code.
type Runtime struct {
	id      uuid.UUID
	cfg     config.Config
	iface   *schema.Interface
	log     *zap.Logger
	objects *handle.Table
	buffers *Buffers
	disp    *dispatch.Dispatcher
	tasks   *async.Bridge
	closed  atomic.Bool
}

type options struct {
	cfg        *config.Config
	iface      *schema.Interface
	logger     *zap.Logger
	middleware []dispatch.Middleware
}

type Option func(*options)

// WithConfig replaces config.Default.
func WithConfig(c config.Config) Option {
	return func(o *options) { o.cfg = &c }
}

// WithInterface serves iface instead of loading the configured schema path.
func WithInterface(iface *schema.Interface) Option {
	return func(o *options) { o.iface = iface }
}

// WithLogger sets the runtime's logger. The package logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware wraps every native call.
func WithMiddleware(mws ...dispatch.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mws...) }
}

// LoadInterface reads and resolves an interface description.
func LoadInterface(path string) (*schema.Interface, error) {
	doc, err := schema.Load(path)
	if err != nil {
		return nil, err
	}
	return schema.Resolve(doc)
}

// New creates a runtime. The interface comes from WithInterface or, failing
// that, from the config's schema path.
func New(opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := config.Default()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	iface := o.iface
	if iface == nil {
		if cfg.Schema.Path == "" {
			return nil, errors.InvalidInput(errors.PhaseConfig, "no interface: set schema.path or use WithInterface")
		}
		var err error
		if iface, err = LoadInterface(cfg.Schema.Path); err != nil {
			return nil, err
		}
	}

	log := o.logger
	if log == nil {
		log = Logger()
	}
	id := uuid.New()
	log = log.With(zap.Stringer("runtime", id), zap.String("namespace", iface.Namespace()))

	objects := handle.NewTable(handle.WithShards(cfg.Table.Shards))
	tasks := async.New(objects, async.WithMaxConcurrency(cfg.Async.MaxConcurrency))
	disp := dispatch.New(objects,
		dispatch.WithSpawner(tasks),
		dispatch.WithMiddleware(o.middleware...),
		dispatch.WithCodecOptions(transcoder.WithLimits(cfg.Codec.Limits())),
	)
	r := &Runtime{
		id:      id,
		cfg:     cfg,
		iface:   iface,
		log:     log,
		objects: objects,
		buffers: newBuffers(),
		disp:    disp,
		tasks:   tasks,
	}
	log.Info("runtime created",
		zap.String("version", iface.Version()),
		zap.String("ffi_namespace", iface.FFINamespace()),
		zap.Int("functions", len(iface.Functions())))
	return r, nil
}

func (r *Runtime) ID() uuid.UUID                    { return r.id }
func (r *Runtime) Config() config.Config            { return r.cfg }
func (r *Runtime) Interface() *schema.Interface     { return r.iface }
func (r *Runtime) Logger() *zap.Logger              { return r.log }
func (r *Runtime) Objects() *handle.Table           { return r.objects }
func (r *Runtime) Buffers() *Buffers                { return r.buffers }
func (r *Runtime) Dispatcher() *dispatch.Dispatcher { return r.disp }
func (r *Runtime) Tasks() *async.Bridge             { return r.tasks }

// Bind registers every function of the interface, implemented by host's
// methods. See dispatch.BindHost for the naming rules.
func (r *Runtime) Bind(host any) error {
	if err := r.disp.BindHost(host, r.iface.Functions()); err != nil {
		return err
	}
	r.log.Debug("host bound", zap.Int("functions", r.disp.Registry().Len()))
	return nil
}

// RegisterCallbacks installs the invoker for a callback interface declared
// by the interface description.
func (r *Runtime) RegisterCallbacks(name string, invoke dispatch.CallbackInvoker) (*dispatch.CallbackProxy, error) {
	for _, ci := range r.iface.CallbackInterfaces() {
		if ci.Name == name {
			return r.disp.RegisterCallbackInterface(ci, invoke)
		}
	}
	return nil, errors.NotFound(errors.PhaseHost, "callback interface", name)
}

// CheckGlue verifies that foreign glue generated from glue can talk to this
// runtime.
func (r *Runtime) CheckGlue(glue *schema.Interface) error {
	return schema.CheckCompatible(r.iface, glue)
}

// Close cancels pending tasks, waits for workers and destroys every object
// and buffer still held.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.tasks.Close(ctx)
	if n := r.objects.Len(); n > 0 {
		r.log.Warn("closing with live objects", zap.Int("objects", n))
	}
	_ = r.objects.Close()
	_ = r.buffers.close()
	r.log.Info("runtime closed")
	return err
}
