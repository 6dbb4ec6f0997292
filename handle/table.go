package handle

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/errors"
)

const defaultShards = 32

var tableTags atomic.Uint32

// Table maps handles to native objects with an atomic reference count per handle.
//
// The count decides liveness: the goroutine whose Release moves it from 1 to 0
// owns the destruction, and a Clone can never revive a count that reached 0.
// Shard locks only guard map membership.
type Table struct {
	shards    []shard
	observers []subscription
	obsMu     sync.RWMutex
	obsSeq    uint64
	seq       atomic.Uint64
	live      atomic.Int64
	closed    atomic.Bool
	tag       uint16
}

type shard struct {
	entries map[Handle]*entry
	mu      sync.RWMutex
}

type subscription struct {
	o  Observer
	id uint64
}

type entry struct {
	value any
	iface string
	count atomic.Int64
}

// Option configures a Table.
type Option func(*Table)

// WithShards sets the number of lock shards. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.shards = make([]shard, n)
		}
	}
}

// WithObserver subscribes an observer at construction.
func WithObserver(o Observer) Option {
	return func(t *Table) {
		t.obsSeq++
		t.observers = append(t.observers, subscription{id: t.obsSeq, o: o})
	}
}

// NewTable creates an empty table with a fresh tag.
func NewTable(opts ...Option) *Table {
	tag := uint16(tableTags.Add(1))
	if tag == 0 {
		tag = uint16(tableTags.Add(1))
	}
	t := &Table{tag: tag}
	for _, opt := range opts {
		opt(t)
	}
	if t.shards == nil {
		t.shards = make([]shard, defaultShards)
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[Handle]*entry)
	}
	return t
}

// Tag returns the tag carried by every handle this table issues.
func (t *Table) Tag() uint16 { return t.tag }

func (t *Table) shardFor(h Handle) *shard {
	return &t.shards[h.Seq()%uint64(len(t.shards))]
}

func (t *Table) lookup(h Handle) (*entry, bool) {
	s := t.shardFor(h)
	s.mu.RLock()
	e, ok := s.entries[h]
	s.mu.RUnlock()
	return e, ok
}

// missing classifies a handle with no live entry.
func (t *Table) missing(h Handle, op string) error {
	if h != 0 && h.Tag() == t.tag && h.Seq() <= t.seq.Load() {
		return errors.UseAfterFree(uint64(h), op)
	}
	return errors.InvalidHandle(uint64(h))
}

// Insert stores an object with reference count 1.
func (t *Table) Insert(value any) (Handle, error) {
	return t.InsertTyped(value, "")
}

// InsertTyped stores an object implementing the named interface.
func (t *Table) InsertTyped(value any, iface string) (Handle, error) {
	if t.closed.Load() {
		return 0, errors.New(errors.PhaseHandle, errors.KindInvalidInput).Detail("table closed").Build()
	}

	seq := t.seq.Add(1)
	if seq > seqMask {
		return 0, errors.New(errors.PhaseHandle, errors.KindExhausted).
			Detail("handle sequence exhausted").
			Build()
	}
	h := makeHandle(t.tag, seq)

	e := &entry{value: value, iface: iface}
	e.count.Store(1)

	s := t.shardFor(h)
	s.mu.Lock()
	s.entries[h] = e
	s.mu.Unlock()
	t.live.Add(1)

	t.notify(Event{Type: EventCreated, Handle: h, Interface: iface, Value: value, Count: 1})
	return h, nil
}

// Clone adds a counted reference and returns the same handle.
// Cloning a released handle is a fatal use-after-free.
func (t *Table) Clone(h Handle) (Handle, error) {
	e, ok := t.lookup(h)
	if !ok {
		err := t.missing(h, "clone")
		Logger().Warn("clone of dead handle", zap.Stringer("handle", h), zap.Error(err))
		return 0, err
	}

	for {
		c := e.count.Load()
		if c <= 0 {
			err := errors.UseAfterFree(uint64(h), "clone")
			Logger().Warn("clone raced final release", zap.Stringer("handle", h))
			return 0, err
		}
		if e.count.CompareAndSwap(c, c+1) {
			t.notify(Event{Type: EventCloned, Handle: h, Interface: e.iface, Value: e.value, Count: c + 1})
			return h, nil
		}
	}
}

// Release drops a counted reference. The release that reaches zero removes
// the entry and destroys the object synchronously, exactly once.
func (t *Table) Release(h Handle) error {
	e, ok := t.lookup(h)
	if !ok {
		if h != 0 && h.Tag() == t.tag && h.Seq() <= t.seq.Load() {
			return errors.DoubleFree(uint64(h))
		}
		return errors.InvalidHandle(uint64(h))
	}

	for {
		c := e.count.Load()
		if c <= 0 {
			return errors.DoubleFree(uint64(h))
		}
		if !e.count.CompareAndSwap(c, c-1) {
			continue
		}
		if c-1 > 0 {
			t.notify(Event{Type: EventReleased, Handle: h, Interface: e.iface, Value: e.value, Count: c - 1})
			return nil
		}
		break
	}

	t.destroy(h, e)
	return nil
}

func (t *Table) destroy(h Handle, e *entry) {
	s := t.shardFor(h)
	s.mu.Lock()
	if cur, ok := s.entries[h]; ok && cur == e {
		delete(s.entries, h)
	}
	s.mu.Unlock()
	t.live.Add(-1)

	value := e.value
	t.notify(Event{Type: EventReleased, Handle: h, Interface: e.iface, Value: value, Count: 0})
	if d, ok := value.(Destroyer); ok {
		d.Destroy()
	}
	Logger().Debug("handle destroyed", zap.Stringer("handle", h), zap.String("interface", e.iface))
	t.notify(Event{Type: EventDestroyed, Handle: h, Interface: e.iface, Value: value})
}

// Borrow returns the object without changing its count. The caller must
// hold a counted reference for as long as it uses the object.
func (t *Table) Borrow(h Handle) (any, error) {
	e, ok := t.lookup(h)
	if !ok {
		return nil, t.missing(h, "borrow")
	}
	if e.count.Load() <= 0 {
		return nil, errors.UseAfterFree(uint64(h), "borrow")
	}
	return e.value, nil
}

// BorrowTyped borrows an object only if it implements the named interface.
func (t *Table) BorrowTyped(h Handle, iface string) (any, error) {
	e, ok := t.lookup(h)
	if !ok {
		return nil, t.missing(h, "borrow")
	}
	if e.count.Load() <= 0 {
		return nil, errors.UseAfterFree(uint64(h), "borrow")
	}
	if e.iface != iface {
		return nil, errors.WrongInterface(uint64(h), iface, e.iface)
	}
	return e.value, nil
}

// Check validates that h is live and, when iface is non-empty, of that interface.
func (t *Table) Check(h Handle, iface string) error {
	var err error
	if iface == "" {
		_, err = t.Borrow(h)
	} else {
		_, err = t.BorrowTyped(h, iface)
	}
	return err
}

// Count returns the current reference count.
func (t *Table) Count(h Handle) (int64, bool) {
	e, ok := t.lookup(h)
	if !ok {
		return 0, false
	}
	c := e.count.Load()
	return c, c > 0
}

// InterfaceOf returns the interface a live handle was inserted with.
func (t *Table) InterfaceOf(h Handle) (string, bool) {
	e, ok := t.lookup(h)
	if !ok || e.count.Load() <= 0 {
		return "", false
	}
	return e.iface, true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	return int(t.live.Load())
}

// Each iterates over live handles. Iteration order is unspecified.
func (t *Table) Each(fn func(Handle, any) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		snapshot := make([]Handle, 0, len(s.entries))
		values := make([]any, 0, len(s.entries))
		for h, e := range s.entries {
			if e.count.Load() > 0 {
				snapshot = append(snapshot, h)
				values = append(values, e.value)
			}
		}
		s.mu.RUnlock()
		for j, h := range snapshot {
			if !fn(h, values[j]) {
				return
			}
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.obsSeq++
	id := t.obsSeq
	t.observers = append(t.observers, subscription{id: id, o: o})
	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		for i, sub := range t.observers {
			if sub.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting inserts and destroys every remaining object
// regardless of outstanding references.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	type victim struct {
		h Handle
		e *entry
	}
	var victims []victim
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for h, e := range s.entries {
			victims = append(victims, victim{h, e})
		}
		s.mu.RUnlock()
	}

	for _, v := range victims {
		if v.e.count.Swap(0) > 0 {
			t.destroy(v.h, v.e)
		}
	}
	return nil
}

// notify calls observers outside obsMu so they may Subscribe or unsubscribe.
func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	if len(t.observers) == 0 {
		t.obsMu.RUnlock()
		return
	}
	subs := make([]subscription, len(t.observers))
	copy(subs, t.observers)
	t.obsMu.RUnlock()

	for _, sub := range subs {
		sub.o.OnHandleEvent(e)
	}
}
