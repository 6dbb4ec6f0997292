// Package errors provides structured error types for the ffi-bridge library.
//
// An Error records the Phase that failed (encode, decode, dispatch, handle,
// async...) and the Kind of failure, plus the value path, the Go and wire
// types involved and the cause.
//
// Build errors with the Builder:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidVariant).
//		Path("args", "mode").
//		WireType("mode").
//		Value(disc).
//		Detail("discriminant past the last variant").
//		Build()
//
// or with the constructors for recurring cases:
//
//	err := errors.TypeMismatch(errors.PhaseEncode, path, "string", "u32")
//	err := errors.Truncated(path, 4, 1)
//
// Every error maps onto the boundary taxonomy through Class:
//
//	decode_error            malformed buffer, recoverable
//	unknown_function        id not registered, fatal (schema skew)
//	handle_error            released or foreign handle, fatal
//	native_operation_error  declared domain error, recoverable
//	panic_across_boundary   recovered native fault, fatal
//
// IsFatal reports whether a failure must abort rather than be retried.
// All errors implement the standard error interface and support errors.Is/As.
package errors
