package async

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

const (
	taskInterface = "task"

	// DefaultMaxConcurrency bounds concurrently running tasks.
	DefaultMaxConcurrency = 64
)

var errCancelled = errors.Cancelled("task")

// Bridge runs suspendable native operations and reports their outcome through
// poll or callback. Task handles live in the bridge's own table; objects are
// the table native results and task scopes reference.
type Bridge struct {
	tasks   *handle.Table
	objects *handle.Table
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	max     int64
	closed  bool
	mu      sync.Mutex
}

var _ dispatch.Spawner = (*Bridge)(nil)

type Option func(*Bridge)

// WithMaxConcurrency bounds the number of tasks running at once.
func WithMaxConcurrency(n int64) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.max = n
		}
	}
}

// WithTaskTable sets the table task handles are issued from.
func WithTaskTable(t *handle.Table) Option {
	return func(b *Bridge) { b.tasks = t }
}

// New creates a bridge whose tasks reference objects in objects.
func New(objects *handle.Table, opts ...Option) *Bridge {
	b := &Bridge{objects: objects, max: DefaultMaxConcurrency}
	for _, opt := range opts {
		opt(b)
	}
	if b.tasks == nil {
		b.tasks = handle.NewTable()
	}
	b.sem = semaphore.NewWeighted(b.max)
	return b
}

// Tasks returns the task handle table.
func (b *Bridge) Tasks() *handle.Table { return b.tasks }

// Spawn starts fn and returns its task handle. The handle holds two
// references: one for the caller, released by Free, and one for the
// executor, released after the task's scope. owned references are adopted by
// the task before Spawn returns; on error the caller keeps them.
//
// Spawn never blocks on the concurrency bound; a task waiting for a slot
// waits on its own goroutine.
func (b *Bridge) Spawn(ctx context.Context, fn dispatch.TaskFunc, owned ...handle.Handle) (handle.Handle, error) {
	if fn == nil {
		return 0, errors.InvalidInput(errors.PhaseAsync, "task function cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, errors.New(errors.PhaseAsync, errors.KindUnsupported).
			Detail("bridge is closed").
			Build()
	}
	b.wg.Add(1)
	b.mu.Unlock()

	t := newTask(ctx, b.objects)
	t.adopted = append(t.adopted, owned...)

	h, err := b.tasks.InsertTyped(t, taskInterface)
	if err != nil {
		b.wg.Done()
		t.cancel()
		t.adopted = nil
		return 0, err
	}
	if _, err := b.tasks.Clone(h); err != nil {
		b.wg.Done()
		t.cancel()
		t.adopted = nil
		_ = b.tasks.Release(h)
		return 0, err
	}

	Logger().Debug("task spawned", zap.Stringer("task", h))
	go b.run(h, t, fn)
	return h, nil
}

func (b *Bridge) run(h handle.Handle, t *task, fn dispatch.TaskFunc) {
	defer b.wg.Done()

	if err := b.sem.Acquire(t.ctx, 1); err != nil {
		// Cancelled before a slot freed up.
		b.finish(h, t, cancelledResult())
		return
	}
	res := execute(t, fn)
	b.sem.Release(1)
	b.finish(h, t, res)
}

func execute(t *task, fn dispatch.TaskFunc) (res dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = dispatch.Failure(errors.Panic(r))
		}
	}()
	return fn(t.ctx, t)
}

// finish records res, delivers it to a registered callback, then releases
// the scope and the executor reference, in that order.
func (b *Bridge) finish(h handle.Handle, t *task, res dispatch.Result) {
	t.mu.Lock()
	var cb Callback
	switch {
	case t.state == StateCancelled:
		t.mu.Unlock()
		if res.Status != dispatch.StatusCancelled {
			Logger().Debug("discarding result of cancelled task", zap.Stringer("task", h))
		}
		res.Discard(b.objects)
	default:
		t.state = StateCompleted
		cb = t.callback
		if cb != nil {
			t.state = StateDelivered
			t.callback = nil
		} else {
			t.result = res
		}
		t.mu.Unlock()
	}
	close(t.done)

	if cb != nil {
		b.deliver(cb, h, StateCompleted, res)
	}

	t.releaseScope()
	t.cancel()
	if err := b.tasks.Release(h); err != nil {
		Logger().Warn("executor release failed", zap.Stringer("task", h), zap.Error(err))
	}
	Logger().Debug("task finished", zap.Stringer("task", h), zap.Stringer("status", res.Status))
}

func (b *Bridge) deliver(cb Callback, h handle.Handle, state State, res dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("task callback panicked", zap.Stringer("task", h), zap.Any("panic", r))
		}
	}()
	cb(h, state, res)
}

func (b *Bridge) lookup(h handle.Handle, op string) (*task, error) {
	v, err := b.tasks.BorrowTyped(h, taskInterface)
	if err != nil {
		return nil, err
	}
	t := v.(*task)
	t.mu.Lock()
	freed := t.freed
	t.mu.Unlock()
	if freed {
		return nil, errors.UseAfterFree(uint64(h), op)
	}
	return t, nil
}

// Poll reports the task's state. The first poll that observes completion
// takes ownership of the result; later polls report StateDelivered.
// Cancelled tasks report a fresh Cancelled result on every poll.
func (b *Bridge) Poll(h handle.Handle) (PollResult, error) {
	t, err := b.lookup(h, "poll")
	if err != nil {
		return PollResult{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateCompleted:
		res := t.result
		t.result = dispatch.Result{}
		t.state = StateDelivered
		return PollResult{State: StateCompleted, Result: res}, nil
	case StateCancelled:
		return PollResult{State: StateCancelled, Result: cancelledResult()}, nil
	}
	return PollResult{State: t.state}, nil
}

// RegisterCallback arranges for fn to receive the task's outcome. Before
// completion fn runs once on the completing goroutine; after completion it
// runs immediately on the caller's. A delivered task or a second callback is
// an error.
func (b *Bridge) RegisterCallback(h handle.Handle, fn Callback) error {
	if fn == nil {
		return errors.InvalidInput(errors.PhaseAsync, "callback cannot be nil")
	}
	t, err := b.lookup(h, "register callback")
	if err != nil {
		return err
	}

	t.mu.Lock()
	switch t.state {
	case StatePending:
		if t.callback != nil {
			t.mu.Unlock()
			return errors.New(errors.PhaseAsync, errors.KindAlreadyConsumed).
				Value(uint64(h)).
				Detail("task %s already has a callback", h).
				Build()
		}
		t.callback = fn
		t.mu.Unlock()
		return nil
	case StateCompleted:
		res := t.result
		t.result = dispatch.Result{}
		t.state = StateDelivered
		t.mu.Unlock()
		b.deliver(fn, h, StateCompleted, res)
		return nil
	case StateCancelled:
		t.mu.Unlock()
		b.deliver(fn, h, StateCancelled, cancelledResult())
		return nil
	}
	t.mu.Unlock()
	return errors.New(errors.PhaseAsync, errors.KindAlreadyConsumed).
		Value(uint64(h)).
		Detail("task %s result already delivered", h).
		Build()
}

// Cancel requests cancellation of a pending task. The task's context is
// cancelled; the task observes it at its next suspension point. A callback
// registered earlier receives the Cancelled outcome. Cancelling a task that
// already completed does nothing.
func (b *Bridge) Cancel(h handle.Handle) error {
	t, err := b.lookup(h, "cancel")
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.state != StatePending {
		t.mu.Unlock()
		return nil
	}
	t.state = StateCancelled
	cb := t.callback
	t.callback = nil
	t.mu.Unlock()

	t.cancel()
	Logger().Debug("task cancelled", zap.Stringer("task", h))
	if cb != nil {
		b.deliver(cb, h, StateCancelled, cancelledResult())
	}
	return nil
}

// Free acknowledges the task and releases the caller's reference. A pending
// task is cancelled; an undelivered result is discarded. The handle is
// reclaimed once the executor has finished too.
func (b *Bridge) Free(h handle.Handle) error {
	t, err := b.lookup(h, "free")
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.freed {
		t.mu.Unlock()
		return errors.DoubleFree(uint64(h))
	}
	t.freed = true
	pending := t.state == StatePending
	if pending {
		t.state = StateCancelled
		t.callback = nil
	}
	var undelivered dispatch.Result
	if t.state == StateCompleted {
		undelivered = t.result
		t.result = dispatch.Result{}
		t.state = StateDelivered
	}
	t.mu.Unlock()

	if pending {
		t.cancel()
	}
	undelivered.Discard(b.objects)
	return b.tasks.Release(h)
}

// State returns the task's current state.
func (b *Bridge) State(h handle.Handle) (State, error) {
	t, err := b.lookup(h, "state")
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, nil
}

// Await blocks until the task finishes or ctx ends, then polls it. It is for
// Go callers; foreign schedulers poll or register a callback instead.
func (b *Bridge) Await(ctx context.Context, h handle.Handle) (PollResult, error) {
	t, err := b.lookup(h, "await")
	if err != nil {
		return PollResult{}, err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return PollResult{State: StatePending}, ctx.Err()
	}
	return b.Poll(h)
}

// Close cancels every pending task and waits for running tasks to finish or
// ctx to end. Registered callbacks receive the Cancelled outcome. Spawn fails
// after Close.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	type notice struct {
		cb Callback
		h  handle.Handle
	}
	var notices []notice
	b.tasks.Each(func(h handle.Handle, v any) bool {
		if t, ok := v.(*task); ok {
			t.mu.Lock()
			if t.state == StatePending {
				t.state = StateCancelled
				if t.callback != nil {
					notices = append(notices, notice{cb: t.callback, h: h})
				}
				t.callback = nil
			}
			t.mu.Unlock()
			t.cancel()
		}
		return true
	})
	for _, n := range notices {
		b.deliver(n.cb, n.h, StateCancelled, cancelledResult())
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
