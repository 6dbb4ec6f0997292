// Package wasmhost exposes a runtime.Runtime to WebAssembly guests through
// a wazero host module named "ffi_bridge".
//
// Guest glue lowers arguments into its own linear memory using the bridge
// wire format and calls:
//
//	contract_version() i32
//	checksum(fn i32) i32                            -1 if fn is unknown
//	call(fn, args_ptr, args_len, out_ptr i32) i32   returns a call status
//	buffer_read(token i64, off, dst, len i32) i32   bytes copied from off, -1 on a bad token
//	buffer_free(token i64)
//	handle_clone(h i64) i64                         0 on failure
//	handle_release(h i64) i32
//	task_poll(task i64, out_ptr i32) i32            task state, -1 on a bad handle
//	task_cancel(task i64) i32
//	task_free(task i64) i32
//
// call writes a 16 byte result record at out_ptr, little-endian like all
// wasm memory:
//
//	offset 0   u64  payload: buffer token, object or task handle, or 0
//	offset 8   u32  payload length in bytes when payload is a buffer
//	offset 12  u32  error type id for status Err
//
// Buffer payloads stay parked in the runtime until the guest copies them
// out with buffer_read, in one call or in chunks by advancing off, and frees
// the token. task_poll writes the same
// record followed by the completion status as a u32 once the task is
// Completed or Cancelled.
//
// Out-of-bounds pointers trap the guest.
//
// Usage:
//
//	r := wazero.NewRuntime(ctx)
//	if _, err := wasmhost.New(rt).Instantiate(ctx, r); err != nil {
//	    return err
//	}
//	mod, err := r.Instantiate(ctx, guestWasm)
package wasmhost
