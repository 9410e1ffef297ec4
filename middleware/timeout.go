package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Timeout returns middleware that enforces a per-step deadline. The
// step's own Timeout wins; otherwise fallback applies. Zero for both
// leaves the step unbounded.
func Timeout(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		d := c.Step.Timeout
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			logger.Debug("step timeout set",
				slog.String("job_id", c.Job.ID.String()),
				slog.String("step", c.Step.Name),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
