package middleware

import (
	"context"

	"github.com/hyunkyoun/moira/scope"
)

// Scope returns middleware that restores the job owner into the step
// context.
func Scope() Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		return next(scope.WithOwner(ctx, c.Job.OwnerID))
	}
}
