package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

// CallbackMethod is one method of a foreign-implemented interface.
type CallbackMethod struct {
	Returns *types.Descriptor
	Throws  *types.Descriptor
	Name    string
	Params  []types.Field
}

// CallbackInterface describes an interface native code calls and foreign
// code implements.
type CallbackInterface struct {
	Name    string
	Methods []CallbackMethod
}

// CallbackInvoker is installed by foreign glue. It runs method (an index
// into the interface's methods) on the foreign object behind obj, with
// lowered arguments, and returns the outcome as a Result.
type CallbackInvoker func(ctx context.Context, obj handle.Handle, method uint32, args *buffer.Buffer) Result

type callbackRegistry struct {
	proxies map[string]*CallbackProxy
	mu      sync.RWMutex
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{proxies: make(map[string]*CallbackProxy)}
}

// RegisterCallbackInterface installs the invoker for iface. One invoker per
// interface; registering twice is an error.
func (d *Dispatcher) RegisterCallbackInterface(iface CallbackInterface, invoke CallbackInvoker) (*CallbackProxy, error) {
	if iface.Name == "" {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "callback interface name cannot be empty")
	}
	if invoke == nil {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "callback invoker cannot be nil")
	}
	seen := make(map[string]bool, len(iface.Methods))
	for _, m := range iface.Methods {
		if seen[m.Name] {
			return nil, errors.Registration(errors.PhaseDispatch, iface.Name, m.Name,
				errors.InvalidInput(errors.PhaseDispatch, "duplicate method"))
		}
		seen[m.Name] = true
	}

	p := &CallbackProxy{iface: iface, invoke: invoke, d: d}

	d.callbacks.mu.Lock()
	defer d.callbacks.mu.Unlock()
	if _, exists := d.callbacks.proxies[iface.Name]; exists {
		return nil, errors.Registration(errors.PhaseDispatch, iface.Name, "",
			errors.InvalidInput(errors.PhaseDispatch, "callback interface already registered"))
	}
	d.callbacks.proxies[iface.Name] = p
	return p, nil
}

// CallbackProxy returns the proxy registered for the named interface.
func (d *Dispatcher) CallbackProxy(name string) (*CallbackProxy, bool) {
	d.callbacks.mu.RLock()
	defer d.callbacks.mu.RUnlock()
	p, ok := d.callbacks.proxies[name]
	return p, ok
}

// CallbackInterfaces returns the registered interface names, sorted.
func (d *Dispatcher) CallbackInterfaces() []string {
	d.callbacks.mu.RLock()
	defer d.callbacks.mu.RUnlock()
	names := make([]string, 0, len(d.callbacks.proxies))
	for n := range d.callbacks.proxies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CallbackProxy lets native code call foreign-implemented objects.
type CallbackProxy struct {
	invoke CallbackInvoker
	d      *Dispatcher
	iface  CallbackInterface
}

func (p *CallbackProxy) Interface() CallbackInterface { return p.iface }

// Wrap registers a foreign object token under the proxy's interface and
// returns its handle, owned by the caller.
func (p *CallbackProxy) Wrap(token any) (handle.Handle, error) {
	return p.d.table.InsertTyped(token, p.iface.Name)
}

// Invoke calls method on the foreign object obj. Arguments are lowered, the
// invoker runs, and the result is lifted. A declared error comes back as a
// *DomainError.
func (p *CallbackProxy) Invoke(ctx context.Context, obj handle.Handle, method string, args ...any) (result any, err error) {
	idx, m, err := p.method(method)
	if err != nil {
		return nil, err
	}
	if err := p.d.table.Check(obj, p.iface.Name); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	params := make([]*types.Descriptor, len(m.Params))
	for i, f := range m.Params {
		params[i] = f.Type
	}
	buf := buffer.Get()
	defer buf.Release()
	// Object arguments are lent for the call only.
	minted := transcoder.NewHandleList()
	defer minted.ReleaseAll(p.d.table)
	if err := p.d.enc.LowerAllTracked(buf, args, params, minted); err != nil {
		return nil, err
	}

	res, err := p.call(ctx, obj, idx, buf)
	if err != nil {
		return nil, err
	}
	return p.d.unpack(res, m.Returns, m.Throws)
}

func (p *CallbackProxy) call(ctx context.Context, obj handle.Handle, idx uint32, buf *buffer.Buffer) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(r)
		}
	}()
	return p.invoke(ctx, obj, idx, buf), nil
}

func (p *CallbackProxy) method(name string) (uint32, *CallbackMethod, error) {
	for i := range p.iface.Methods {
		if p.iface.Methods[i].Name == name {
			return uint32(i), &p.iface.Methods[i], nil
		}
	}
	names := make([]string, len(p.iface.Methods))
	for i, m := range p.iface.Methods {
		names[i] = m.Name
	}
	return 0, nil, errors.New(errors.PhaseDispatch, errors.KindUnknownFunction).
		Value(name).
		Detail("%s has no method %q%s", p.iface.Name, name, hintSuffix(Closest(name, names))).
		Build()
}
