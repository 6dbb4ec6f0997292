// Package async exposes suspendable native operations to foreign schedulers
// as a poll/callback protocol.
//
// A task moves from Pending to Completed when its function returns, or to
// Cancelled when foreign code cancels it first. Its outcome is delivered
// exactly once, either to the first Poll that observes completion or to a
// registered callback:
//
//	h, _ := bridge.Spawn(ctx, func(ctx context.Context, s dispatch.Scope) dispatch.Result {
//	    select {
//	    case <-ctx.Done():
//	        return dispatch.Failure(ctx.Err())
//	    case v := <-work:
//	        return lowerResult(v)
//	    }
//	})
//	for {
//	    p, _ := bridge.Poll(h)
//	    if p.State != async.StatePending {
//	        break
//	    }
//	}
//	bridge.Free(h)
//
// Task handles are reference counted in the bridge's own table. The executor
// and the foreign caller each hold one reference; the handle is reclaimed
// after both Free and the executor's cleanup. References a task adopts
// through its Scope are released before the executor lets go of the task.
package async
