package handle

import (
	"fmt"

	"github.com/wippyai/ffi-bridge/errors"
)

// Typed provides type-safe access to handles of one interface.
type Typed[T any] struct {
	table *Table
	iface string
}

// NewTyped binds a typed view over table for the named interface.
func NewTyped[T any](table *Table, iface string) *Typed[T] {
	return &Typed[T]{table: table, iface: iface}
}

// Interface returns the interface name handles are tagged with.
func (t *Typed[T]) Interface() string { return t.iface }

// Insert stores value with reference count 1.
func (t *Typed[T]) Insert(value T) (Handle, error) {
	return t.table.InsertTyped(value, t.iface)
}

// Borrow returns the object behind h.
func (t *Typed[T]) Borrow(h Handle) (T, error) {
	var zero T
	v, err := t.table.BorrowTyped(h, t.iface)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseHandle, nil, fmt.Sprintf("%T", v), t.iface)
	}
	return typed, nil
}

// Clone adds a counted reference.
func (t *Typed[T]) Clone(h Handle) (Handle, error) {
	if err := t.table.Check(h, t.iface); err != nil {
		return 0, err
	}
	return t.table.Clone(h)
}

// Release drops a counted reference.
func (t *Typed[T]) Release(h Handle) error {
	return t.table.Release(h)
}

// Each iterates over live handles of this interface.
func (t *Typed[T]) Each(fn func(Handle, T) bool) {
	t.table.Each(func(h Handle, v any) bool {
		typed, ok := v.(T)
		if !ok {
			return true
		}
		if iface, _ := t.table.InterfaceOf(h); iface != t.iface {
			return true
		}
		return fn(h, typed)
	})
}
