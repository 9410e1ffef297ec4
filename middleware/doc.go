// Package middleware provides composable middleware for step execution.
//
// A [Middleware] wraps a single step invocation. The engine builds a
// chain with [Chain] and runs every step of every job through it. They
// are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs step name, position and outcome
//   - [Recover] converts panics in step units into step errors
//   - [Timeout] applies the step's deadline, or the engine default
//   - [Tracing] wraps each step in an OpenTelemetry span
//   - [Metrics] records step duration, outcome counters and running steps
//   - [Scope] restores the job owner into the step context
//   - [Throttle] rate-limits steps of selected runtimes
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, c *middleware.Call, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
package middleware
