package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/middleware"
	"github.com/hyunkyoun/moira/step"
)

// Emitter receives job and step lifecycle events. *ext.Registry
// satisfies it.
type Emitter interface {
	EmitJobStarted(ctx context.Context, j *job.Job)
	EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration)
	EmitJobFailed(ctx context.Context, j *job.Job, err error)
	EmitJobCancelled(ctx context.Context, j *job.Job)
	EmitStepStarted(ctx context.Context, j *job.Job, stepName string, index int)
	EmitStepCompleted(ctx context.Context, j *job.Job, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, j *job.Job, stepName string, err error)
	EmitArtifactStored(ctx context.Context, j *job.Job, h artifact.Handle)
}

// ErrInterrupted marks jobs stopped by engine shutdown rather than by a
// failing step.
var ErrInterrupted = errors.New("interrupted by engine shutdown")

// StepError is the failure of one step. It matches moira.ErrStepExecution
// and the underlying cause.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (position %d): %v", e.Step, e.Index, e.Err)
}

// Unwrap returns moira.ErrStepExecution and the cause.
func (e *StepError) Unwrap() []error { return []error{moira.ErrStepExecution, e.Err} }

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMiddleware sets the middleware chain every step runs through.
func WithMiddleware(mw middleware.Middleware) RunnerOption {
	return func(r *Runner) { r.chain = mw }
}

// WithSummaryArtifact stores a JSON summary of the plan and result under
// name when a job completes. Empty disables it.
func WithSummaryArtifact(name string) RunnerOption {
	return func(r *Runner) { r.summary = name }
}

// Runner executes jobs. It is safe for concurrent use by many jobs; each
// call to Run owns its job exclusively.
type Runner struct {
	registry *step.Registry
	store    job.Store
	sink     artifact.Sink
	emitter  Emitter
	chain    middleware.Middleware
	summary  string
	logger   *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(
	registry *step.Registry,
	store job.Store,
	sink artifact.Sink,
	emitter Emitter,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		registry: registry,
		store:    store,
		sink:     sink,
		emitter:  emitter,
		chain:    middleware.Chain(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a queued job until it reaches a terminal state and returns
// the terminal error (nil when the job completed). cancelled is polled
// before each step. If ctx is already done the job is left queued.
func (r *Runner) Run(ctx context.Context, j *job.Job, cancelled func() bool) error {
	if j.State != job.StateQueued {
		return fmt.Errorf("%w: job %s is %s, not queued", moira.ErrInvalidState, j.ID, j.State)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	e := &execution{runner: r, job: j, ledger: NewContext(j.Context), start: time.Now()}
	if j.StepResults == nil {
		j.StepResults = make(map[string]job.StepResult)
	}

	if cancelled() {
		return e.cancel(ctx)
	}

	now := time.Now().UTC()
	e.mu.Lock()
	j.State = job.StateRunning
	j.StartedAt = &now
	err := e.persist(ctx)
	e.mu.Unlock()
	if errors.Is(err, moira.ErrInvalidState) {
		// The stored record went terminal after j was loaded, e.g. a
		// cancel that raced recovery. Its outcome was already reported.
		r.logger.Debug("job already terminal, not running",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	if err != nil {
		return e.fail(ctx, "", j.StepIndex, fmt.Errorf("persist running state: %w", err))
	}
	r.emitter.EmitJobStarted(ctx, j)

	for i := j.StepIndex; i < len(j.Plan); i++ {
		if cancelled() {
			return e.cancel(ctx)
		}
		if ctx.Err() != nil {
			return e.fail(ctx, "", i, ErrInterrupted)
		}

		name := j.Plan[i]
		def, err := r.registry.Resolve(name)
		if err != nil {
			return e.fail(ctx, name, i, err)
		}
		if err := e.runStep(ctx, i, def); err != nil {
			return e.fail(ctx, name, i, err)
		}
	}

	return e.complete(ctx)
}

// execution is the state of one Run call.
type execution struct {
	runner *Runner
	job    *job.Job
	ledger *Context
	start  time.Time

	// mu guards job while a step may be emitting artifacts concurrently.
	mu sync.Mutex
}

func (e *execution) runStep(ctx context.Context, i int, def *step.Definition) error {
	r := e.runner
	j := e.job

	e.mu.Lock()
	err := j.Advance(i)
	if err == nil {
		err = e.persist(ctx)
	}
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	r.emitter.EmitStepStarted(ctx, j, def.Name, i)

	inputs, err := e.gather(def)
	if err != nil {
		r.emitter.EmitStepFailed(ctx, j, def.Name, err)
		return &StepError{Step: def.Name, Index: i, Err: err}
	}

	v := &view{
		exec:   e,
		def:    def,
		inputs: inputs,
		logger: r.logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("step", def.Name),
		),
	}

	startedAt := time.Now().UTC()
	var outputs step.Outputs
	call := &middleware.Call{Job: j, Step: def, Index: i}
	stepErr := r.chain(ctx, call, func(ctx context.Context) error {
		out, err := def.Unit.Run(ctx, v)
		outputs = out
		return err
	})
	if stepErr == nil {
		stepErr = checkOutputs(def, outputs)
	}
	elapsed := time.Since(startedAt)

	if stepErr != nil {
		r.emitter.EmitStepFailed(ctx, j, def.Name, stepErr)
		return &StepError{Step: def.Name, Index: i, Err: stepErr}
	}
	for name := range outputs {
		if !def.Declares(name) {
			v.logger.Warn("dropping undeclared step output", slog.String("output", name))
		}
	}

	declared := make(map[string]any, len(def.Outputs))
	for _, name := range def.Outputs {
		declared[name] = outputs[name]
	}

	e.mu.Lock()
	e.ledger.Append(def.Name, declared, def.Outputs)
	j.Context = e.ledger.Entries()
	j.StepResults[def.Name] = job.StepResult{
		Index:       i,
		Outputs:     declared,
		Artifacts:   v.emitted(),
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(elapsed),
	}
	err = j.Advance(i + 1)
	if err == nil {
		err = e.persist(ctx)
	}
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist step result: %w", err)
	}

	r.emitter.EmitStepCompleted(ctx, j, def.Name, elapsed)
	return nil
}

// gather collects the step's declared inputs from the ledger.
func (e *execution) gather(def *step.Definition) (map[string]any, error) {
	inputs := make(map[string]any, len(def.Inputs)+len(def.OptionalInputs))
	for _, name := range def.Inputs {
		v, ok := e.ledger.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: input %q is not in the job context", moira.ErrUnsatisfiedDependency, name)
		}
		inputs[name] = v
	}
	for _, name := range def.OptionalInputs {
		if v, ok := e.ledger.Get(name); ok {
			inputs[name] = v
		}
	}
	return inputs, nil
}

func checkOutputs(def *step.Definition, outputs step.Outputs) error {
	for _, name := range def.Outputs {
		if _, ok := outputs[name]; !ok {
			return fmt.Errorf("step did not produce declared output %q", name)
		}
	}
	return nil
}

// storeArtifact writes data to the sink and records the handle on the
// job before returning.
func (e *execution) storeArtifact(ctx context.Context, name string, data []byte) (artifact.Handle, error) {
	r := e.runner
	h, err := r.sink.Store(ctx, e.job.ID, name, data)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("store artifact %q: %w", name, err)
	}

	e.mu.Lock()
	e.job.PutArtifact(h)
	err = e.persist(ctx)
	e.mu.Unlock()
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("record artifact %q: %w", name, err)
	}

	r.emitter.EmitArtifactStored(ctx, e.job, h)
	return h, nil
}

func (e *execution) complete(ctx context.Context) error {
	r := e.runner
	j := e.job

	result := make(map[string]map[string]any)
	for _, name := range j.Plan {
		def, ok := r.registry.Lookup(name)
		if !ok {
			continue
		}
		res := j.StepResults[name]
		for _, out := range def.Reportable {
			if v, ok := res.Outputs[out]; ok {
				if result[name] == nil {
					result[name] = make(map[string]any)
				}
				result[name][out] = v
			}
		}
	}

	if r.summary != "" {
		data, err := json.MarshalIndent(map[string]any{"steps": j.Plan, "results": result}, "", "  ")
		if err == nil {
			_, err = e.storeArtifact(ctx, r.summary, data)
		}
		if err != nil {
			r.logger.Warn("failed to store workflow summary",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	now := time.Now().UTC()
	e.mu.Lock()
	j.Result = result
	j.State = job.StateCompleted
	j.CompletedAt = &now
	err := e.persist(context.WithoutCancel(ctx))
	e.mu.Unlock()
	if err != nil {
		r.logger.Error("failed to update job as completed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.emitter.EmitJobCompleted(ctx, j, time.Since(e.start))
	return nil
}

func (e *execution) fail(ctx context.Context, stepName string, index int, cause error) error {
	r := e.runner
	j := e.job

	now := time.Now().UTC()
	e.mu.Lock()
	j.State = job.StateFailed
	j.Error = &job.ErrorDetail{Step: stepName, Index: index, Message: failureMessage(cause), At: now}
	j.CompletedAt = &now
	err := e.persist(context.WithoutCancel(ctx))
	e.mu.Unlock()
	if errors.Is(err, moira.ErrInvalidState) {
		// Someone else finished the record; reporting a failure would
		// contradict it.
		r.logger.Warn("job finished elsewhere, failure not recorded",
			slog.String("job_id", j.ID.String()),
			slog.String("cause", cause.Error()),
		)
		return err
	}
	if err != nil {
		r.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	r.emitter.EmitJobFailed(ctx, j, cause)
	return cause
}

func (e *execution) cancel(ctx context.Context) error {
	r := e.runner
	j := e.job

	now := time.Now().UTC()
	e.mu.Lock()
	j.State = job.StateCancelled
	j.CompletedAt = &now
	err := e.persist(context.WithoutCancel(ctx))
	e.mu.Unlock()
	if err != nil {
		r.logger.Error("failed to update job as cancelled",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.emitter.EmitJobCancelled(ctx, j)
	return moira.ErrJobCancelled
}

// persist writes the job record. Callers hold e.mu.
func (e *execution) persist(ctx context.Context) error {
	e.job.Touch()
	return e.runner.store.UpdateJob(ctx, e.job)
}

// failureMessage strips the StepError wrapper, which only repeats the
// step name already recorded in ErrorDetail.
func failureMessage(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
