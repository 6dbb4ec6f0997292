// Package runtime wires a resolved interface description to the object
// table, the dispatcher and the task bridge.
//
// # Quick Start
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt, err := runtime.New(runtime.WithConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Implement the interface with a Go type
//	if err := rt.Bind(&Counter{}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Call it the way generated glue would
//	h, err := rt.Call(ctx, "counter.new", int64(0))
//	n, err := rt.Call(ctx, "counter.add", h, int64(5))
//	_ = rt.ReleaseHandle(h.(handle.Handle))
//
// # Builtins
//
// Besides the interface's functions every binding exposes:
//
//	ContractVersion()        calling convention version
//	FunctionChecksum(id)     per-function checksum checked by glue
//	Buffers().Alloc(n)       buffer_alloc
//	Buffers().FromBytes(p)   buffer_from_bytes
//	Buffers().Reserve(t, n)  buffer_reserve
//	Buffers().Free(t)        buffer_free
//	CloneHandle(h)           handle_clone
//	ReleaseHandle(h)         handle_release
//
// # Asynchronous Functions
//
// Call awaits asynchronous functions. CallAsync returns a Pending whose
// task handle can be polled or awaited; it must be freed:
//
//	p, err := rt.CallAsync(ctx, "counter.wait_for", h, int64(10), time.Second)
//	defer p.Free()
//	done, err := p.Await(ctx)
package runtime
