// Package observability provides OpenTelemetry-based metrics for moira.
// The MetricsExtension implements lifecycle hooks to record system-wide
// counters for job submission, completion, failure, cancellation, step
// failures, and stored artifacts, plus a job duration histogram.
//
// For per-step tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
