package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hyunkyoun/moira"

// Tracing wraps each step in a span from the global TracerProvider.
// With no provider installed it costs next to nothing.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each step in a span named "moira.step <name>"
// carrying the job, owner and plan position. Failed and timed-out steps
// get an error status; a step interrupted by cancellation is left unset
// and tagged with moira.step.status=cancelled.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		ctx, span := tracer.Start(ctx, "moira.step "+c.Step.Name,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("moira.job.id", c.Job.ID.String()),
				attribute.String("moira.owner.id", c.Job.OwnerID),
				attribute.String("moira.step.name", c.Step.Name),
				attribute.String("moira.step.runtime", c.Step.Runtime),
				attribute.Int("moira.step.index", c.Index),
				attribute.Int("moira.plan.length", len(c.Job.Plan)),
			),
		)
		defer span.End()

		err := next(ctx)
		status := stepStatus(err)
		span.SetAttributes(attribute.String("moira.step.status", status))
		switch status {
		case statusOK:
			span.SetStatus(codes.Ok, "")
		case statusCancelled:
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
