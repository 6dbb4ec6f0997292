// Package dispatch routes foreign calls to native implementations by numeric
// function id.
//
// Foreign code lowers arguments into a buffer and calls Dispatch. The
// dispatcher lifts the arguments against the function's declared parameters,
// runs the handler through its middleware chain and lowers the outcome into a
// Result:
//
//	d := dispatch.New(handle.NewTable())
//	d.Register(dispatch.FuncDef{
//	    ID:      1,
//	    Name:    "greet",
//	    Params:  []types.Field{types.F("name", types.String())},
//	    Returns: types.String(),
//	    Handler: func(c *dispatch.Call) (any, error) {
//	        return "hello " + c.Arg(0).(string), nil
//	    },
//	})
//	res := d.Dispatch(ctx, 1, args)
//	defer res.Release()
//
// # Status codes
//
//	0 Ok               return value, object handle, or nothing for unit
//	1 Err              declared domain error, ErrorType names its type
//	2 DecodeError      malformed arguments, recoverable
//	3 Panic            native fault or undeclared error, fatal
//	4 UnknownFunction  no function with that id, fatal
//	5 HandleError      invalid, released or mistyped handle, fatal
//	6 Cancelled        task cancelled before completion
//
// Dispatch never panics and never releases caller references. Object
// arguments are borrowed for the duration of the call; returned objects are
// new references owned by the caller.
//
// # Host binding
//
// BindHost takes handlers from a Go value's exported methods, matched to
// function names in snake_case:
//
//	type Host struct{}
//	func (Host) Greet(name string) string      // "greet"
//	func (Host) CounterNew(start int64) *Counter // "counter.new"
//
// Methods of objects (definitions with a Receiver) fall back to the receiver
// object's own Go method.
//
// # Callbacks
//
// RegisterCallbackInterface installs foreign glue for an interface that
// foreign code implements. Native code calls such objects through the
// returned CallbackProxy.
package dispatch
