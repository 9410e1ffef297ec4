package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs step start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		logger.Info("step started",
			slog.String("job_id", c.Job.ID.String()),
			slog.String("step", c.Step.Name),
			slog.Int("index", c.Index),
			slog.Int("total", len(c.Job.Plan)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step failed",
				slog.String("job_id", c.Job.ID.String()),
				slog.String("step", c.Step.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("step completed",
				slog.String("job_id", c.Job.ID.String()),
				slog.String("step", c.Step.Name),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
