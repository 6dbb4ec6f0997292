package async

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/handle"
)

// State is the lifecycle state of a task.
type State uint8

const (
	StatePending State = iota
	StateCompleted
	StateCancelled
	StateDelivered // result consumed by Poll or the callback
)

var stateNames = [...]string{
	StatePending:   "pending",
	StateCompleted: "completed",
	StateCancelled: "cancelled",
	StateDelivered: "delivered",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// PollResult is the outcome of one Poll. Result is set only for the poll
// that delivers a completion, and for cancelled tasks.
type PollResult struct {
	Result dispatch.Result
	State  State
}

// Callback receives a task's outcome. It owns res and must release it.
type Callback func(task handle.Handle, state State, res dispatch.Result)

// task is the native side of a task handle. It implements dispatch.Scope.
type task struct {
	ctx      context.Context
	cancel   context.CancelFunc
	objects  *handle.Table
	callback Callback
	done     chan struct{}
	result   dispatch.Result
	adopted  []handle.Handle
	mu       sync.Mutex
	state    State
	freed    bool
	finished bool // scope released, executor reference dropped
}

func newTask(parent context.Context, objects *handle.Table) *task {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &task{
		ctx:     ctx,
		cancel:  cancel,
		objects: objects,
		done:    make(chan struct{}),
	}
}

// Adopt takes ownership of h. Adopted references are released when the task
// ends, before its executor reference is dropped.
func (t *task) Adopt(h handle.Handle) {
	t.mu.Lock()
	if !t.finished {
		t.adopted = append(t.adopted, h)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.releaseOne(h)
}

func (t *task) releaseScope() {
	t.mu.Lock()
	adopted := t.adopted
	t.adopted = nil
	t.finished = true
	t.mu.Unlock()

	for i := len(adopted) - 1; i >= 0; i-- {
		t.releaseOne(adopted[i])
	}
}

func (t *task) releaseOne(h handle.Handle) {
	if t.objects == nil {
		return
	}
	if err := t.objects.Release(h); err != nil {
		Logger().Warn("scope release failed", zap.Stringer("handle", h), zap.Error(err))
	}
}

func cancelledResult() dispatch.Result {
	return dispatch.Failure(errCancelled)
}
