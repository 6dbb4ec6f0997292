package wasmhost

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/async"
	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/runtime"
)

// ModuleName is the import module guests link against.
const ModuleName = "ffi_bridge"

const (
	resultRecordSize = 16
	taskRecordSize   = resultRecordSize + 4

	codeOK  = 0
	codeBad = -1
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// Host exposes a runtime to wasm guests.
type Host struct {
	rt  *runtime.Runtime
	log *zap.Logger
}

// New creates a host for rt.
func New(rt *runtime.Runtime) *Host {
	return &Host{rt: rt, log: Logger().With(zap.String("runtime", rt.ID().String()))}
}

type hostFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	fn      func(ctx context.Context, mem ffibridge.Memory, stack []uint64)
}

func (h *Host) functions() []hostFunc {
	return []hostFunc{
		{"contract_version", nil, []api.ValueType{i32}, func(_ context.Context, _ ffibridge.Memory, stack []uint64) {
			stack[0] = api.EncodeU32(h.rt.ContractVersion())
		}},
		{"checksum", []api.ValueType{i32}, []api.ValueType{i32}, func(_ context.Context, _ ffibridge.Memory, stack []uint64) {
			stack[0] = api.EncodeI32(h.checksum(api.DecodeU32(stack[0])))
		}},
		{"call", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}, func(ctx context.Context, mem ffibridge.Memory, stack []uint64) {
			fn, ptr, n, out := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2]), api.DecodeU32(stack[3])
			stack[0] = api.EncodeI32(h.call(ctx, mem, fn, ptr, n, out))
		}},
		{"buffer_read", []api.ValueType{i64, i32, i32, i32}, []api.ValueType{i32}, func(_ context.Context, mem ffibridge.Memory, stack []uint64) {
			stack[0] = api.EncodeI32(h.bufferRead(mem, handle.Handle(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2]), api.DecodeU32(stack[3])))
		}},
		{"buffer_free", []api.ValueType{i64}, nil, func(_ context.Context, _ ffibridge.Memory, stack []uint64) {
			h.bufferFree(handle.Handle(stack[0]))
		}},
		{"handle_clone", []api.ValueType{i64}, []api.ValueType{i64}, func(_ context.Context, _ ffibridge.Memory, stack []uint64) {
			stack[0] = uint64(h.handleClone(handle.Handle(stack[0])))
		}},
		{"handle_release", []api.ValueType{i64}, []api.ValueType{i32}, func(_ context.Context, _ ffibridge.Memory, stack []uint64) {
			stack[0] = api.EncodeI32(h.status(h.rt.ReleaseHandle(handle.Handle(stack[0]))))
		}},
		{"task_poll", []api.ValueType{i64, i32}, []api.ValueType{i32}, func(_ context.Context, mem ffibridge.Memory, stack []uint64) {
			stack[0] = api.EncodeI32(h.taskPoll(mem, handle.Handle(stack[0]), api.DecodeU32(stack[1])))
		}},
		{"task_cancel", []api.ValueType{i64}, []api.ValueType{i32}, func(_ context.Context, _ ffibridge.Memory, stack []uint64) {
			stack[0] = api.EncodeI32(h.status(h.rt.Tasks().Cancel(handle.Handle(stack[0]))))
		}},
		{"task_free", []api.ValueType{i64}, []api.ValueType{i32}, func(_ context.Context, _ ffibridge.Memory, stack []uint64) {
			stack[0] = api.EncodeI32(h.status(h.rt.Tasks().Free(handle.Handle(stack[0]))))
		}},
	}
}

// Instantiate registers the ffi_bridge module in r. Guests importing it
// must be instantiated afterwards.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(ModuleName)
	for _, f := range h.functions() {
		fn := f.fn
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				fn(ctx, guestMemory{mem: mod.Memory()}, stack)
			}), f.params, f.results).
			Export(f.name)
	}
	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "instantiate "+ModuleName)
	}
	h.log.Debug("host module instantiated", zap.Int("functions", len(h.functions())))
	return mod, nil
}

// trap aborts the guest call. wazero turns the panic into an error
// returned from the guest's exported function.
func trap(err error) {
	panic(err)
}

func (h *Host) status(err error) int32 {
	if err == nil {
		return codeOK
	}
	h.log.Debug("host call failed", zap.Error(err))
	return int32(dispatch.StatusOf(err))
}

func (h *Host) checksum(id uint32) int32 {
	sum, err := h.rt.FunctionChecksum(id)
	if err != nil {
		return codeBad
	}
	return int32(sum)
}

// call dispatches function fn with the arguments at [ptr, ptr+n) and writes
// the result record at out.
func (h *Host) call(ctx context.Context, mem ffibridge.Memory, fn, ptr, n, out uint32) int32 {
	if !fits(mem, out, resultRecordSize) {
		trap(errors.OutOfBounds(errors.PhaseHost, []string{"call", "out"}, int(out), int(memSize(mem))))
	}
	args, err := mem.Read(ptr, n)
	if err != nil {
		trap(err)
	}
	res := h.rt.Dispatcher().Dispatch(ctx, fn, buffer.Wrap(args))
	if err := h.writeResult(mem, out, res); err != nil {
		trap(err)
	}
	return int32(res.Status)
}

// writeResult stores {payload u64, len u32, error_type u32} at out. The
// payload is a buffer token when the result carries bytes, the returned
// handle for object returns, or zero.
func (h *Host) writeResult(mem ffibridge.Memory, out uint32, res dispatch.Result) error {
	var payload uint64
	var length uint32
	switch {
	case res.Buffer != nil:
		length = uint32(res.Buffer.Len())
		tok, err := h.rt.Buffers().Park(res.Buffer)
		if err != nil {
			res.Discard(h.rt.Objects())
			return err
		}
		payload = uint64(tok)
	case res.Handle != 0:
		payload = uint64(res.Handle)
	}
	if err := mem.WriteU64(out, payload); err != nil {
		return err
	}
	if err := mem.WriteU32(out+8, length); err != nil {
		return err
	}
	return mem.WriteU32(out+12, res.ErrorType)
}

// bufferRead copies up to n bytes of a parked buffer, starting at offset,
// into guest memory and returns how many were copied. Reading at the end
// copies nothing; an offset past the end is rejected like a bad token.
func (h *Host) bufferRead(mem ffibridge.Memory, tok handle.Handle, offset, dst, n uint32) int32 {
	p, err := h.rt.Buffers().Bytes(tok)
	if err != nil {
		h.log.Debug("buffer read failed", zap.Stringer("token", tok), zap.Error(err))
		return codeBad
	}
	if uint64(offset) > uint64(len(p)) {
		h.log.Debug("buffer read past end", zap.Stringer("token", tok), zap.Uint32("offset", offset), zap.Int("len", len(p)))
		return codeBad
	}
	p = p[offset:]
	if uint32(len(p)) < n {
		n = uint32(len(p))
	}
	if err := mem.Write(dst, p[:n]); err != nil {
		trap(err)
	}
	return int32(n)
}

func (h *Host) bufferFree(tok handle.Handle) {
	if err := h.rt.Buffers().Free(tok); err != nil {
		h.log.Warn("buffer free failed", zap.Stringer("token", tok), zap.Error(err))
	}
}

func (h *Host) handleClone(hd handle.Handle) handle.Handle {
	c, err := h.rt.CloneHandle(hd)
	if err != nil {
		h.log.Debug("handle clone failed", zap.Stringer("handle", hd), zap.Error(err))
		return 0
	}
	return c
}

// taskPoll returns the task's state code. Once the task has an outcome the
// result record is written at out followed by its status as a u32.
func (h *Host) taskPoll(mem ffibridge.Memory, task handle.Handle, out uint32) int32 {
	pr, err := h.rt.Tasks().Poll(task)
	if err != nil {
		h.log.Debug("task poll failed", zap.Stringer("task", task), zap.Error(err))
		return codeBad
	}
	if pr.State != async.StateCompleted && pr.State != async.StateCancelled {
		return int32(pr.State)
	}
	if !fits(mem, out, taskRecordSize) {
		pr.Result.Discard(h.rt.Objects())
		trap(errors.OutOfBounds(errors.PhaseHost, []string{"task_poll", "out"}, int(out), int(memSize(mem))))
	}
	if err := h.writeResult(mem, out, pr.Result); err != nil {
		trap(err)
	}
	if err := mem.WriteU32(out+resultRecordSize, uint32(pr.Result.Status)); err != nil {
		trap(err)
	}
	return int32(pr.State)
}

func memSize(mem ffibridge.Memory) uint32 {
	if s, ok := mem.(ffibridge.MemorySizer); ok {
		return s.Size()
	}
	return 0
}
