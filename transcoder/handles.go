package transcoder

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/handle"
)

// HandleList records the references an encode produced so a failed encode
// can give them back.
type HandleList struct {
	handles []handle.Handle
}

var handleListPool = sync.Pool{
	New: func() any {
		return &HandleList{handles: make([]handle.Handle, 0, 8)}
	},
}

// NewHandleList returns a pooled, empty list.
func NewHandleList() *HandleList {
	return handleListPool.Get().(*HandleList)
}

const maxPooledHandleCapacity = 128

// Release returns to pool. The list is invalid after Release.
func (hl *HandleList) Release() {
	if cap(hl.handles) > maxPooledHandleCapacity {
		return
	}
	hl.Reset()
	handleListPool.Put(hl)
}

// ReleaseAll gives every recorded reference back to table, then returns the
// list to the pool.
func (hl *HandleList) ReleaseAll(table *handle.Table) {
	hl.Drop(table)
	hl.Release()
}

func (hl *HandleList) Add(h handle.Handle) {
	hl.handles = append(hl.handles, h)
}

// Drop releases every recorded reference in reverse order and clears the list.
func (hl *HandleList) Drop(table *handle.Table) {
	if table == nil {
		hl.Reset()
		return
	}
	for i := len(hl.handles) - 1; i >= 0; i-- {
		if err := table.Release(hl.handles[i]); err != nil {
			Logger().Warn("rollback release failed",
				zap.Stringer("handle", hl.handles[i]), zap.Error(err))
		}
	}
	hl.Reset()
}

func (hl *HandleList) Handles() []handle.Handle {
	return hl.handles
}

func (hl *HandleList) Count() int {
	return len(hl.handles)
}

func (hl *HandleList) Reset() {
	hl.handles = hl.handles[:0]
}
