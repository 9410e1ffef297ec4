package middleware

import (
	"context"

	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/step"
)

// Handler is the terminal function that invokes the step unit.
type Handler func(ctx context.Context) error

// Call describes the step invocation being wrapped.
type Call struct {
	Job   *job.Job
	Step  *step.Definition
	Index int
}

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the call being executed, and the next handler.
// Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, c *Call, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, c, prev)
			}
		}
		return h(ctx)
	}
}
