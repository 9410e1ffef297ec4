package ext

import (
	"context"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job record is created in queued state.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when the job transitions to running.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after the last step succeeds and the result is
// persisted.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when the job reaches the failed state.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called when cancellation is honored.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called after the step is marked active and persisted.
type StepStarted interface {
	OnStepStarted(ctx context.Context, j *job.Job, stepName string, index int) error
}

// StepCompleted is called after the step's outputs are merged and
// persisted.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, j *job.Job, stepName string, elapsed time.Duration) error
}

// StepFailed is called when a step's unit returns an error.
type StepFailed interface {
	OnStepFailed(ctx context.Context, j *job.Job, stepName string, err error) error
}

// ArtifactStored is called after a step's artifact is written to the sink
// and its handle is recorded on the job.
type ArtifactStored interface {
	OnArtifactStored(ctx context.Context, j *job.Job, h artifact.Handle) error
}

// ──────────────────────────────────────────────────
// Engine lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
