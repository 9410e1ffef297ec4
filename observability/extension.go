package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/ext"
	"github.com/hyunkyoun/moira/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobSubmitted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.StepFailed     = (*MetricsExtension)(nil)
	_ ext.ArtifactStored = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope for lifecycle metrics.
const meterName = "github.com/hyunkyoun/moira/observability"

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a moira extension to track submission rates, terminal
// outcomes, per-step failures and artifact volume.
type MetricsExtension struct {
	JobSubmitted   metric.Int64Counter
	JobCompleted   metric.Int64Counter
	JobFailed      metric.Int64Counter
	JobCancelled   metric.Int64Counter
	StepFailed     metric.Int64Counter
	ArtifactStored metric.Int64Counter
	ArtifactBytes  metric.Int64Counter
	JobDuration    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}

	duration, dErr := meter.Float64Histogram(
		"moira.job.duration",
		metric.WithDescription("Wall time of completed jobs in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	return &MetricsExtension{
		JobSubmitted:   counter("moira.job.submitted", "Jobs accepted for execution"),
		JobCompleted:   counter("moira.job.completed", "Jobs that finished every step"),
		JobFailed:      counter("moira.job.failed", "Jobs that ended in the failed state"),
		JobCancelled:   counter("moira.job.cancelled", "Jobs cancelled at a step boundary"),
		StepFailed:     counter("moira.step.failed", "Step failures by step name"),
		ArtifactStored: counter("moira.artifact.stored", "Artifacts written to the sink"),
		ArtifactBytes:  counter("moira.artifact.bytes", "Bytes written to the sink"),
		JobDuration:    duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, _ *job.Job) error {
	m.JobSubmitted.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1)
	m.JobDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ *job.Job) error {
	m.JobCancelled.Add(ctx, 1)
	return nil
}

// ── Step and artifact hooks ─────────────────────────

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, _ *job.Job, stepName string, _ error) error {
	m.StepFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", stepName)))
	return nil
}

// OnArtifactStored implements ext.ArtifactStored.
func (m *MetricsExtension) OnArtifactStored(ctx context.Context, _ *job.Job, h artifact.Handle) error {
	m.ArtifactStored.Add(ctx, 1)
	m.ArtifactBytes.Add(ctx, h.Size)
	return nil
}
