// Package ffibridge lets a native Go core be consumed from foreign runtimes
// through a flat byte encoding and reference-counted object handles.
//
// # Architecture Overview
//
//	ffibridge/           Root package with ContractVersion and the Memory interface
//	├── types/           Type descriptors, type expressions, WIT conversion
//	├── buffer/          Bounds-checked byte buffers with read and write cursors
//	├── transcoder/      Lowering Go values to bytes and lifting them back
//	├── handle/          Handle table for native objects held by foreign code
//	├── dispatch/        Calls by numeric id, host binding, callback interfaces
//	├── async/           Task handles with poll, callback and cancellation
//	├── schema/          Interface descriptions, checksums, compatibility
//	├── config/          Viper configuration and logger construction
//	├── runtime/         Facade wiring the pieces together
//	├── wasmhost/        wazero host module exposing the calling convention
//	├── cmd/bridgectl/   CLI for inspecting interfaces and encoding calls
//	└── errors/          Structured error types
//
// # Quick Start
//
//	iface, err := runtime.LoadInterface("counter.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt, err := runtime.New(runtime.WithInterface(iface))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if err := rt.Bind(&CounterHost{}); err != nil {
//	    log.Fatal(err)
//	}
//	s, err := rt.Call(ctx, "get_string")
//
// # Wire Format
//
// All integers are big-endian. Strings and byte strings are a u32 length
// followed by the bytes. Optionals carry a one byte tag, sequences and maps a
// u32 count, enums a u32 variant index. Records are their fields in
// declaration order. Objects travel as u64 handles.
//
// # Thread Safety
//
// Handle tables, dispatchers, task bridges and runtimes are safe for
// concurrent use. Buffers are not.
package ffibridge
