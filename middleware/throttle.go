package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttle returns middleware that waits on limiter before invoking steps
// of the given runtimes (all steps when none are listed). It keeps a burst
// of submissions from launching many heavyweight containers at once.
func Throttle(limiter *rate.Limiter, runtimes ...string) Middleware {
	match := make(map[string]bool, len(runtimes))
	for _, r := range runtimes {
		match[r] = true
	}
	return func(ctx context.Context, c *Call, next Handler) error {
		if len(match) == 0 || match[c.Step.Runtime] {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("throttle step %s: %w", c.Step.Name, err)
			}
		}
		return next(ctx)
	}
}
