package dispatch

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

type counter struct {
	destroyed *atomic.Int32
	n         int64
}

func (c *counter) Add(n int64) int64 {
	c.n += n
	return c.n
}

func (c *counter) Destroy() {
	if c.destroyed != nil {
		c.destroyed.Add(1)
	}
}

var (
	counterDesc = types.Object("counter")
	mathError   = types.ErrorEnum("math_error",
		types.V("division_by_zero"),
		types.V("overflow", types.F("value", types.S64())),
	)
)

const (
	idGetString uint32 = iota + 1
	idPassString
	idCounterNew
	idCounterAdd
	idBoom
	idDivide
	idUndeclared
	idPair
)

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *atomic.Int32) {
	t.Helper()
	destroyed := new(atomic.Int32)
	d := New(handle.NewTable(), opts...)

	defs := []FuncDef{
		{ID: idGetString, Name: "get_string", Returns: types.String(),
			Handler: func(*Call) (any, error) { return "hello", nil }},
		{ID: idPassString, Name: "pass_string", Returns: types.U32(),
			Params: []types.Field{types.F("s", types.String())},
			Handler: func(c *Call) (any, error) {
				return uint32(len(c.Arg(0).(string))), nil
			}},
		{ID: idCounterNew, Name: "counter.new", Returns: counterDesc,
			Params: []types.Field{types.F("start", types.S64())},
			Handler: func(c *Call) (any, error) {
				return &counter{n: c.Arg(0).(int64), destroyed: destroyed}, nil
			}},
		{ID: idCounterAdd, Name: "counter.add", Receiver: "counter", Returns: types.S64(),
			Params: []types.Field{types.F("self", counterDesc), types.F("n", types.S64())},
			Handler: func(c *Call) (any, error) {
				recv, err := c.Receiver()
				if err != nil {
					return nil, err
				}
				return recv.(*counter).Add(c.Arg(1).(int64)), nil
			}},
		{ID: idBoom, Name: "boom",
			Handler: func(*Call) (any, error) { panic("boom") }},
		{ID: idDivide, Name: "divide", Returns: types.S32(), Throws: mathError, ThrowsID: 100,
			Params: []types.Field{types.F("a", types.S32()), types.F("b", types.S32())},
			Handler: func(c *Call) (any, error) {
				a, b := c.Arg(0).(int32), c.Arg(1).(int32)
				if b == 0 {
					return nil, Throw("division_by_zero", nil)
				}
				return a / b, nil
			}},
		{ID: idUndeclared, Name: "undeclared",
			Handler: func(*Call) (any, error) { return nil, Throw("oops", nil) }},
		{ID: idPair, Name: "pair",
			Returns: types.Record("pair", types.F("a", counterDesc), types.F("b", counterDesc)),
			Handler: func(*Call) (any, error) {
				return map[string]any{"a": &counter{destroyed: destroyed}}, nil
			}},
	}
	for _, def := range defs {
		require.NoError(t, d.Register(def))
	}
	return d, destroyed
}

func lowerArgs(t *testing.T, d *Dispatcher, id uint32, args ...any) *buffer.Buffer {
	t.Helper()
	def, ok := d.Lookup(id)
	require.True(t, ok)
	buf := buffer.Get()
	require.NoError(t, d.Encoder().LowerAll(buf, args, def.ParamTypes()))
	return buf
}

func TestDispatch_Ok(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	res := d.Dispatch(ctx, idGetString, nil)
	require.Equal(t, StatusOk, res.Status)
	v, err := d.Unpack(idGetString, res)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	args := lowerArgs(t, d, idPassString, "héllo")
	defer args.Release()
	res = d.Dispatch(ctx, idPassString, args)
	require.Equal(t, StatusOk, res.Status)
	v, err = d.Unpack(idPassString, res)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), v)
}

func TestDispatch_NilContext(t *testing.T) {
	d, _ := newTestDispatcher(t)
	//nolint:staticcheck // nil context is tolerated
	res := d.Dispatch(nil, idGetString, nil)
	defer res.Release()
	assert.Equal(t, StatusOk, res.Status)
}

func TestDispatch_DecodeError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	tests := []struct {
		name string
		id   uint32
		raw  []byte
	}{
		{"truncated length", idPassString, []byte{0, 0}},
		{"truncated payload", idPassString, []byte{0, 0, 0, 5, 'a'}},
		{"invalid utf8", idPassString, []byte{0, 0, 0, 1, 0xff}},
		{"trailing bytes", idGetString, []byte{1}},
		{"missing argument", idDivide, []byte{0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := d.Table().Len()
			res := d.Dispatch(context.Background(), tt.id, buffer.FromBytes(tt.raw))
			defer res.Release()

			assert.Equal(t, StatusDecodeError, res.Status)
			assert.False(t, res.Status.Fatal())
			assert.NotEmpty(t, res.Message())
			assert.Equal(t, before, d.Table().Len())
		})
	}
}

func TestDispatch_UnknownFunction(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Dispatch(context.Background(), idPair+2, nil)
	defer res.Release()
	require.Equal(t, StatusUnknownFunction, res.Status)
	assert.True(t, res.Status.Fatal())
	assert.Contains(t, res.Message(), "did you mean 8 (pair)")

	far := d.Dispatch(context.Background(), 5000, nil)
	defer far.Release()
	assert.Equal(t, StatusUnknownFunction, far.Status)
	assert.NotContains(t, far.Message(), "did you mean")

	assert.True(t, errors.IsFatal(res.Err()))
}

func TestDispatch_Panic(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Dispatch(context.Background(), idBoom, nil)
	require.Equal(t, StatusPanic, res.Status)
	assert.True(t, res.Status.Fatal())
	assert.Contains(t, res.Message(), "boom")

	_, err := d.Unpack(idBoom, res)
	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindPanic, e.Kind)

	// The dispatcher stays usable.
	res = d.Dispatch(context.Background(), idGetString, nil)
	defer res.Release()
	assert.Equal(t, StatusOk, res.Status)
}

func TestDispatch_DomainError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	args := lowerArgs(t, d, idDivide, int32(7), int32(0))
	defer args.Release()
	res := d.Dispatch(ctx, idDivide, args)
	require.Equal(t, StatusErr, res.Status)
	assert.Equal(t, uint32(100), res.ErrorType)
	assert.False(t, res.Status.Fatal())

	_, err := d.Unpack(idDivide, res)
	var de *DomainError
	require.True(t, stderrors.As(err, &de))
	v, ok := de.Variant()
	require.True(t, ok)
	assert.Equal(t, "division_by_zero", v.Name)

	args2 := lowerArgs(t, d, idDivide, int32(7), int32(2))
	defer args2.Release()
	res = d.Dispatch(ctx, idDivide, args2)
	got, err := d.Unpack(idDivide, res)
	require.NoError(t, err)
	assert.Equal(t, int32(3), got)
}

func TestDispatch_UndeclaredDomainError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Dispatch(context.Background(), idUndeclared, nil)
	defer res.Release()
	assert.Equal(t, StatusPanic, res.Status)
	assert.Contains(t, res.Message(), "undeclared")
}

func TestDispatch_Objects(t *testing.T) {
	d, destroyed := newTestDispatcher(t)
	ctx := context.Background()
	table := d.Table()

	args := lowerArgs(t, d, idCounterNew, int64(10))
	defer args.Release()
	res := d.Dispatch(ctx, idCounterNew, args)
	require.Equal(t, StatusOk, res.Status)
	require.NotZero(t, res.Handle)
	assert.Len(t, res.Minted, 1)
	h := res.Handle

	v, err := d.Unpack(idCounterNew, res)
	require.NoError(t, err)
	assert.Equal(t, h, v)
	n, ok := table.Count(h)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	// Object arguments are borrowed: written raw, never cloned.
	call := buffer.Get()
	defer call.Release()
	call.WriteU64(uint64(h))
	call.WriteU64(5)
	res = d.Dispatch(ctx, idCounterAdd, call)
	got, err := d.Unpack(idCounterAdd, res)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got)

	n, _ = table.Count(h)
	assert.Equal(t, int64(1), n)

	require.NoError(t, table.Release(h))
	assert.Equal(t, int32(1), destroyed.Load())
	assert.Equal(t, 0, table.Len())
}

func TestDispatch_HandleErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	table := d.Table()

	released, err := table.InsertTyped(&counter{}, "counter")
	require.NoError(t, err)
	require.NoError(t, table.Release(released))

	other, err := table.InsertTyped("not a counter", "file")
	require.NoError(t, err)
	defer table.Release(other)

	tests := []struct {
		name string
		h    handle.Handle
	}{
		{"released", released},
		{"wrong interface", other},
		{"never issued", handle.Handle(0xdead)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := buffer.Get()
			defer call.Release()
			call.WriteU64(uint64(tt.h))
			call.WriteU64(1)

			res := d.Dispatch(ctx, idCounterAdd, call)
			defer res.Release()
			assert.Equal(t, StatusHandleError, res.Status)
			assert.True(t, res.Status.Fatal())
		})
	}
}

func TestDispatch_ReturnLoweringRollsBack(t *testing.T) {
	d, destroyed := newTestDispatcher(t)

	res := d.Dispatch(context.Background(), idPair, nil)
	defer res.Release()
	assert.Equal(t, StatusPanic, res.Status)
	assert.Contains(t, res.Message(), "b")
	assert.Equal(t, 0, d.Table().Len())
	assert.Equal(t, int32(1), destroyed.Load())
}

func TestDispatch_AsyncWithoutSpawner(t *testing.T) {
	d := New(handle.NewTable())
	require.NoError(t, d.Register(FuncDef{
		ID: 1, Name: "sleep", Async: true,
		Handler: func(*Call) (any, error) { return nil, nil },
	}))

	res := d.Dispatch(context.Background(), 1, nil)
	defer res.Release()
	assert.Equal(t, StatusPanic, res.Status)
}

type fakeSpawner struct {
	table *handle.Table
	fn    TaskFunc
	owned []handle.Handle
}

func (s *fakeSpawner) Spawn(_ context.Context, fn TaskFunc, owned ...handle.Handle) (handle.Handle, error) {
	s.fn = fn
	s.owned = owned
	return s.table.Insert("task")
}

func (s *fakeSpawner) Adopt(h handle.Handle) { s.owned = append(s.owned, h) }

func TestDispatch_AsyncClonesObjectArgs(t *testing.T) {
	table := handle.NewTable()
	sp := &fakeSpawner{table: handle.NewTable()}
	d := New(table, WithSpawner(sp))
	require.NoError(t, d.Register(FuncDef{
		ID: 1, Name: "counter.later", Receiver: "counter", Async: true, Returns: types.S64(),
		Params: []types.Field{types.F("self", counterDesc)},
		Handler: func(c *Call) (any, error) {
			recv, err := c.Receiver()
			if err != nil {
				return nil, err
			}
			return recv.(*counter).Add(1), nil
		},
	}))

	h, err := table.InsertTyped(&counter{n: 41}, "counter")
	require.NoError(t, err)

	call := buffer.Get()
	defer call.Release()
	call.WriteU64(uint64(h))
	res := d.Dispatch(context.Background(), 1, call)
	require.Equal(t, StatusOk, res.Status)
	require.NotZero(t, res.Handle)
	require.Len(t, sp.owned, 1)

	n, _ := table.Count(h)
	assert.Equal(t, int64(2), n)

	// The caller may drop its reference before the task runs.
	require.NoError(t, table.Release(h))

	done := sp.fn(context.Background(), sp)
	got, err := d.UnpackCompletion(1, done)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	for _, o := range sp.owned {
		require.NoError(t, table.Release(o))
	}
	assert.Equal(t, 0, table.Len())
}

func TestDispatch_AsyncClonesNestedObjectArgs(t *testing.T) {
	table := handle.NewTable()
	sp := &fakeSpawner{table: handle.NewTable()}
	d := New(table, WithSpawner(sp))

	pair := types.Record("pair", types.F("left", counterDesc), types.F("right", types.Optional(counterDesc)))
	require.NoError(t, d.Register(FuncDef{
		ID: 1, Name: "sum_all", Async: true, Returns: types.S64(),
		Params: []types.Field{
			types.F("counters", types.Sequence(counterDesc)),
			types.F("pair", pair),
		},
		Handler: func(c *Call) (any, error) {
			var hs []handle.Handle
			for _, v := range c.Arg(0).([]any) {
				hs = append(hs, v.(handle.Handle))
			}
			fields := c.Arg(1).(map[string]any)
			hs = append(hs, fields["left"].(handle.Handle), fields["right"].(handle.Handle))

			var total int64
			for _, h := range hs {
				obj, err := c.Table().BorrowTyped(h, "counter")
				if err != nil {
					return nil, err
				}
				total += obj.(*counter).n
			}
			return total, nil
		},
	}))

	var hs []handle.Handle
	for _, n := range []int64{1, 2, 3, 4} {
		h, err := table.InsertTyped(&counter{n: n}, "counter")
		require.NoError(t, err)
		hs = append(hs, h)
	}

	call := buffer.Get()
	defer call.Release()
	call.WriteU32(2)
	call.WriteU64(uint64(hs[0]))
	call.WriteU64(uint64(hs[1]))
	call.WriteU64(uint64(hs[2]))
	call.WriteU8(1)
	call.WriteU64(uint64(hs[3]))

	res := d.Dispatch(context.Background(), 1, call)
	require.Equal(t, StatusOk, res.Status, res.Message())
	require.Len(t, sp.owned, 4)

	// The caller drops every reference before the task runs.
	for _, h := range hs {
		require.NoError(t, table.Release(h))
	}

	done := sp.fn(context.Background(), sp)
	got, err := d.UnpackCompletion(1, done)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	for _, o := range sp.owned {
		require.NoError(t, table.Release(o))
	}
	assert.Equal(t, 0, table.Len())
}

func TestCollectHandles(t *testing.T) {
	mode := types.Enum("mode", types.V("idle"), types.V("watch", types.F("target", counterDesc)))
	tests := []struct {
		name string
		v    any
		desc *types.Descriptor
		want []handle.Handle
	}{
		{"plain", handle.Handle(1), counterDesc, []handle.Handle{1}},
		{"absent optional", nil, types.Optional(counterDesc), nil},
		{"nested optional", transcoder.Some{V: handle.Handle(2)}, types.Optional(types.Optional(counterDesc)), []handle.Handle{2}},
		{"map values", transcoder.Map{{Key: "a", Value: handle.Handle(3)}, {Key: "b", Value: handle.Handle(4)}},
			types.Mapping(types.String(), counterDesc), []handle.Handle{3, 4}},
		{"enum payload", transcoder.Variant{Name: "watch", Fields: map[string]any{"target": handle.Handle(5)}}, mode, []handle.Handle{5}},
		{"enum without payload", transcoder.Variant{Name: "idle"}, mode, nil},
		{"no objects", []any{"x"}, types.Sequence(types.String()), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collectHandles(nil, tt.v, tt.desc))
		})
	}
}

func TestMiddleware_Order(t *testing.T) {
	var order []string
	record := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(c *Call) (any, error) {
				order = append(order, name+">")
				v, err := next(c)
				order = append(order, "<"+name)
				return v, err
			}
		}
	}

	d, _ := newTestDispatcher(t, WithMiddleware(record("outer"), record("inner")))
	res := d.Dispatch(context.Background(), idGetString, nil)
	defer res.Release()

	assert.Equal(t, "outer> inner> <inner <outer", strings.Join(order, " "))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOk},
		{Throw("x", nil), StatusErr},
		{context.Canceled, StatusCancelled},
		{errors.Cancelled("task"), StatusCancelled},
		{errors.Truncated(nil, 4, 1), StatusDecodeError},
		{errors.UnknownFunction(3, ""), StatusUnknownFunction},
		{errors.DoubleFree(1), StatusHandleError},
		{errors.WrongInterface(1, "a", "b"), StatusHandleError},
		{errors.Panic("x"), StatusPanic},
		{stderrors.New("plain"), StatusPanic},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestResult_Discard(t *testing.T) {
	table := handle.NewTable()
	h, err := table.Insert(1)
	require.NoError(t, err)

	res := Result{Status: StatusOk, Buffer: buffer.Get(), Minted: []handle.Handle{h}, Handle: h}
	res.Discard(table)

	assert.Nil(t, res.Buffer)
	assert.Zero(t, res.Handle)
	assert.Equal(t, 0, table.Len())
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	noop := func(*Call) (any, error) { return nil, nil }

	require.NoError(t, r.Register(FuncDef{ID: 1, Name: "a", Handler: noop}))
	assert.Error(t, r.Register(FuncDef{ID: 1, Name: "b", Handler: noop}), "duplicate id")
	assert.Error(t, r.Register(FuncDef{ID: 2, Name: "a", Handler: noop}), "duplicate name")
	assert.Error(t, r.Register(FuncDef{ID: 3, Name: "c"}), "nil handler")
	assert.Error(t, r.Register(FuncDef{ID: 4, Name: "d", Handler: noop, Throws: types.String()}), "non-enum error type")
	assert.Error(t, r.Register(FuncDef{ID: 5, Name: "e.m", Handler: noop, Receiver: "e"}), "method without receiver")

	_, err := r.Resolve("b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "a"`)

	id, err := r.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, 1, r.Len())
}

func TestClosest(t *testing.T) {
	names := []string{"get_string", "pass_string", "counter.new"}
	assert.Equal(t, "get_string", Closest("get_strng", names))
	assert.Equal(t, "counter.new", Closest("counter.nw", names))
	assert.Equal(t, "", Closest("something_else", names))
	assert.Equal(t, "", Closest("x", nil))
}
