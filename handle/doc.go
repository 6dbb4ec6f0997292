// Package handle provides the reference-counted handle table through which
// foreign code holds native objects.
//
// A Handle is an opaque 64-bit token. Each live handle carries an atomic
// reference count; the object stays reachable while the count is above zero.
//
//	table := handle.NewTable()
//
//	h, _ := table.InsertTyped(counter, "Counter") // count 1
//	h, _ = table.Clone(h)                          // count 2
//	obj, _ := table.Borrow(h)                      // count unchanged
//	_ = table.Release(h)                           // count 1
//	_ = table.Release(h)                           // count 0, Destroy runs
//
// # Lifetime rules
//
// The release that moves a count to zero removes the entry and calls Destroy
// on objects implementing Destroyer, synchronously and exactly once. Clone
// uses a compare-and-swap loop that refuses to move a count up from zero, so
// a clone racing the final release either wins before it or fails.
//
// Handle ids are never reused. The low 48 bits are a per-table sequence and
// the top 16 bits a per-table tag, so a stale handle is always recognized as
// released and a handle from another table as unknown.
//
// # Failures
//
// Cloning or borrowing a released handle, releasing it twice, or presenting a
// handle this table never issued all return errors classified as fatal by
// errors.IsFatal. They indicate a broken invariant in the caller.
//
// # Observers
//
// Subscribe to lifecycle events:
//
//	stop := table.Subscribe(handle.ObserverFunc(func(e handle.Event) {
//	    log.Printf("%s %s count=%d", e.Handle, e.Type, e.Count)
//	}))
//	defer stop()
package handle
