package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for step metrics.
const meterName = "github.com/hyunkyoun/moira"

// Step outcomes recorded in the "status" attribute.
const (
	statusOK        = "ok"
	statusError     = "error"
	statusTimeout   = "timeout"
	statusCancelled = "cancelled"
)

// Metrics records step metrics on the global MeterProvider. See
// MetricsWithMeter for the instruments.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter records step metrics on meter:
//
//	moira.step.duration    histogram, seconds, by step/runtime/status
//	moira.step.executions  counter, by step/runtime/status
//	moira.step.active      up-down counter of running steps, by step/runtime
//
// status is "ok", "error", "timeout" when the step's deadline expired,
// or "cancelled" when the job was cancelled mid-step.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument constructors fall back to no-ops on error.
	duration, _ := meter.Float64Histogram("moira.step.duration", //nolint:errcheck // no-op on error
		metric.WithDescription("Step run time"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("moira.step.executions", //nolint:errcheck // no-op on error
		metric.WithDescription("Step invocations"),
		metric.WithUnit("{execution}"),
	)
	active, _ := meter.Int64UpDownCounter("moira.step.active", //nolint:errcheck // no-op on error
		metric.WithDescription("Steps currently running"),
		metric.WithUnit("{step}"),
	)

	return func(ctx context.Context, c *Call, next Handler) error {
		base := []attribute.KeyValue{
			attribute.String("step", c.Step.Name),
			attribute.String("runtime", c.Step.Runtime),
		}
		active.Add(ctx, 1, metric.WithAttributes(base...))
		start := time.Now()

		err := next(ctx)

		active.Add(ctx, -1, metric.WithAttributes(base...))
		outcome := metric.WithAttributes(append(base, attribute.String("status", stepStatus(err)))...)
		duration.Record(ctx, time.Since(start).Seconds(), outcome)
		executions.Add(ctx, 1, outcome)
		return err
	}
}

func stepStatus(err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, context.DeadlineExceeded):
		return statusTimeout
	case errors.Is(err, context.Canceled):
		return statusCancelled
	default:
		return statusError
	}
}
