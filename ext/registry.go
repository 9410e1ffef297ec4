package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/job"
)

// hooks is the ordered list of extensions implementing one hook
// interface H, each with the name it registered under.
type hooks[H any] []struct {
	name string
	hook H
}

func (hs *hooks[H]) add(e Extension) {
	if h, ok := e.(H); ok {
		*hs = append(*hs, struct {
			name string
			hook H
		}{e.Name(), h})
	}
}

// fire calls fn for every hook in registration order. A hook that
// returns an error or panics is logged and skipped; the job carries on.
func (hs hooks[H]) fire(r *Registry, event string, fn func(H) error) {
	for _, h := range hs {
		if err := r.guard(h.name, func() error { return fn(h.hook) }); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", event),
				slog.String("extension", h.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Registry fans lifecycle events out to registered extensions. Hook
// interfaces are resolved once in Register. Register everything before
// the engine starts; emits are not synchronized with Register.
type Registry struct {
	logger     *slog.Logger
	extensions []Extension

	jobSubmitted   hooks[JobSubmitted]
	jobStarted     hooks[JobStarted]
	jobCompleted   hooks[JobCompleted]
	jobFailed      hooks[JobFailed]
	jobCancelled   hooks[JobCancelled]
	stepStarted    hooks[StepStarted]
	stepCompleted  hooks[StepCompleted]
	stepFailed     hooks[StepFailed]
	artifactStored hooks[ArtifactStored]
	shutdown       hooks[Shutdown]
}

// NewRegistry returns an empty registry that logs hook failures to logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds e. It is notified after previously registered extensions.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.jobSubmitted.add(e)
	r.jobStarted.add(e)
	r.jobCompleted.add(e)
	r.jobFailed.add(e)
	r.jobCancelled.add(e)
	r.stepStarted.add(e)
	r.stepCompleted.add(e)
	r.stepFailed.add(e)
	r.artifactStored.add(e)
	r.shutdown.add(e)
}

// Extensions returns the registered extensions in order.
func (r *Registry) Extensions() []Extension { return r.extensions }

func (r *Registry) guard(name string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("extension %s panicked: %v", name, v)
		}
	}()
	return fn()
}

// ── Job events ──────────────────────────────────────

func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	r.jobSubmitted.fire(r, "OnJobSubmitted", func(h JobSubmitted) error {
		return h.OnJobSubmitted(ctx, j)
	})
}

func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	r.jobStarted.fire(r, "OnJobStarted", func(h JobStarted) error {
		return h.OnJobStarted(ctx, j)
	})
}

func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	r.jobCompleted.fire(r, "OnJobCompleted", func(h JobCompleted) error {
		return h.OnJobCompleted(ctx, j, elapsed)
	})
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	r.jobFailed.fire(r, "OnJobFailed", func(h JobFailed) error {
		return h.OnJobFailed(ctx, j, jobErr)
	})
}

func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	r.jobCancelled.fire(r, "OnJobCancelled", func(h JobCancelled) error {
		return h.OnJobCancelled(ctx, j)
	})
}

// ── Step events ─────────────────────────────────────

func (r *Registry) EmitStepStarted(ctx context.Context, j *job.Job, stepName string, index int) {
	r.stepStarted.fire(r, "OnStepStarted", func(h StepStarted) error {
		return h.OnStepStarted(ctx, j, stepName, index)
	})
}

func (r *Registry) EmitStepCompleted(ctx context.Context, j *job.Job, stepName string, elapsed time.Duration) {
	r.stepCompleted.fire(r, "OnStepCompleted", func(h StepCompleted) error {
		return h.OnStepCompleted(ctx, j, stepName, elapsed)
	})
}

func (r *Registry) EmitStepFailed(ctx context.Context, j *job.Job, stepName string, stepErr error) {
	r.stepFailed.fire(r, "OnStepFailed", func(h StepFailed) error {
		return h.OnStepFailed(ctx, j, stepName, stepErr)
	})
}

func (r *Registry) EmitArtifactStored(ctx context.Context, j *job.Job, h artifact.Handle) {
	r.artifactStored.fire(r, "OnArtifactStored", func(x ArtifactStored) error {
		return x.OnArtifactStored(ctx, j, h)
	})
}

// EmitShutdown runs shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.shutdown.fire(r, "OnShutdown", func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}
