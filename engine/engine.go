package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/ext"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
	mw "github.com/hyunkyoun/moira/middleware"
	"github.com/hyunkyoun/moira/observability"
	"github.com/hyunkyoun/moira/plan"
	"github.com/hyunkyoun/moira/scope"
	"github.com/hyunkyoun/moira/step"
	"github.com/hyunkyoun/moira/worker"
	"github.com/hyunkyoun/moira/workflow"
)

// recoveryBatch is the page size used when scanning for unfinished jobs
// at start.
const recoveryBatch = 100

// Engine is the job orchestration engine. Use Build() to create one from
// an Orchestrator.
type Engine struct {
	o          *moira.Orchestrator
	config     moira.Config
	extensions *ext.Registry
	registry   *step.Registry
	adapter    *plan.Adapter
	store      job.Store
	sink       artifact.Sink
	runner     *workflow.Runner
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry uses a pre-populated step registry instead of an empty one.
func WithRegistry(r *step.Registry) Option {
	return func(eng *Engine) {
		eng.registry = r
	}
}

// WithArtifactSink sets where step artifacts are stored.
func WithArtifactSink(s artifact.Sink) Option {
	return func(eng *Engine) {
		eng.sink = s
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default stack, closest to the step unit.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Orchestrator.
// The Orchestrator's store must implement job.Store.
func Build(o *moira.Orchestrator, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	store := o.Store()

	if store == nil {
		return nil, moira.ErrNoStore
	}

	// Type-assert the store to get the job.Store interface.
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("moira: store does not implement job.Store")
	}

	config := o.Config()
	eng := &Engine{
		o:          o,
		config:     config,
		extensions: ext.NewRegistry(logger),
		registry:   step.NewRegistry(),
		store:      js,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.sink == nil {
		return nil, moira.ErrNoArtifactSink
	}

	eng.adapter = plan.NewAdapter(eng.registry, config.IngestionStep)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/hyunkyoun/moira")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/hyunkyoun/moira")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/hyunkyoun/moira/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build default middleware stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(logger, config.StepTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.runner = workflow.NewRunner(eng.registry, js, eng.sink, eng.extensions, logger,
		workflow.WithMiddleware(mw.Chain(allMws...)),
		workflow.WithSummaryArtifact(config.SummaryArtifact),
	)
	eng.pool = worker.NewPool(logger, worker.WithPoolConcurrency(config.Concurrency))

	// Wire back into the Orchestrator.
	o.SetEngine(eng)

	return eng, nil
}

// Register adds a step definition to the engine's registry.
func (eng *Engine) Register(def *step.Definition) error {
	return eng.registry.Register(def)
}

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

// SubmitRequest is everything needed to create a job.
type SubmitRequest struct {
	// OwnerID owns the job. Empty falls back to the owner in ctx.
	OwnerID string `json:"owner_id,omitempty"`
	// DatasetRef points at the raw input files.
	DatasetRef string `json:"dataset_ref"`
	// SamplesheetRef points at the sample annotation sheet.
	SamplesheetRef string `json:"samplesheet_ref"`
	// Plan is the planner's output.
	Plan plan.Input `json:"plan"`
}

// ValidatePlan checks a planner output without creating a job.
func (eng *Engine) ValidatePlan(in plan.Input, refs plan.Refs) (*plan.Plan, error) {
	return eng.adapter.Validate(in, refs)
}

// Submit validates the plan, persists a queued job and schedules it. It
// returns as soon as the record exists. Validation errors create no
// record.
func (eng *Engine) Submit(ctx context.Context, req SubmitRequest) (*job.Job, error) {
	owner := req.OwnerID
	if owner == "" {
		owner, _ = scope.Owner(ctx)
	}
	if req.DatasetRef == "" {
		return nil, &plan.InvalidPlanError{Reason: "dataset reference is required"}
	}

	refs := plan.Refs{Dataset: req.DatasetRef, Samplesheet: req.SamplesheetRef}
	p, err := eng.adapter.Validate(req.Plan, refs)
	if err != nil {
		return nil, err
	}

	j := job.New(owner, req.DatasetRef, req.SamplesheetRef, p.Steps, p.ColumnMappings, p.Seed)
	return j, eng.enqueue(ctx, j)
}

// Resubmit creates a new job from the plan and inputs of a failed or
// cancelled job. Nothing from the earlier run is reused.
func (eng *Engine) Resubmit(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	prev, err := eng.getScoped(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if prev.State != job.StateFailed && prev.State != job.StateCancelled {
		return nil, fmt.Errorf("%w: job %s is %s; only failed or cancelled jobs can be resubmitted",
			moira.ErrInvalidState, jobID, prev.State)
	}

	refs := plan.Refs{Dataset: prev.DatasetRef, Samplesheet: prev.SamplesheetRef}
	p, err := eng.adapter.Validate(plan.Input{ColumnMappings: prev.ColumnMappings, StepNames: prev.Plan}, refs)
	if err != nil {
		return nil, err
	}

	j := job.New(prev.OwnerID, prev.DatasetRef, prev.SamplesheetRef, p.Steps, p.ColumnMappings, p.Seed)
	j.ResubmittedFrom = prev.ID
	return j, eng.enqueue(ctx, j)
}

func (eng *Engine) enqueue(ctx context.Context, j *job.Job) error {
	if err := eng.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	eng.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("owner_id", j.OwnerID),
		slog.Any("plan", j.Plan),
	)
	eng.extensions.EmitJobSubmitted(ctx, j)

	if err := eng.launch(j); err != nil && !errors.Is(err, moira.ErrEngineStopped) {
		return err
	}
	return nil
}

// launch hands a private copy of j to the pool. The runner is the only
// writer of the record from here on.
func (eng *Engine) launch(j *job.Job) error {
	owned := j.Clone()
	return eng.pool.Launch(owned.ID.String(), func(ctx context.Context, cancelled func() bool) error {
		return eng.runner.Run(scope.WithOwner(ctx, owned.OwnerID), owned, cancelled)
	})
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Job returns the full record of a job.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.getScoped(ctx, jobID)
}

// Status returns the polling view of a job.
func (eng *Engine) Status(ctx context.Context, jobID id.JobID) (job.Status, error) {
	j, err := eng.getScoped(ctx, jobID)
	if err != nil {
		return job.Status{}, err
	}
	return j.Status(), nil
}

// Result returns the result of a completed job. It returns
// moira.ErrNotReady while the job is queued or running, a *FailedError
// for failed jobs and moira.ErrJobCancelled for cancelled ones.
func (eng *Engine) Result(ctx context.Context, jobID id.JobID) (map[string]map[string]any, error) {
	j, err := eng.getScoped(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch j.State {
	case job.StateCompleted:
		if j.Result == nil {
			return map[string]map[string]any{}, nil
		}
		return j.Result, nil
	case job.StateFailed:
		return nil, &FailedError{JobID: j.ID, Detail: j.Error}
	case job.StateCancelled:
		return nil, moira.ErrJobCancelled
	default:
		return nil, fmt.Errorf("%w: job %s is %s", moira.ErrNotReady, j.ID, j.State)
	}
}

// Artifact returns the bytes and handle of a job's artifact. Artifacts of
// failed and cancelled jobs stay retrievable.
func (eng *Engine) Artifact(ctx context.Context, jobID id.JobID, name string) ([]byte, artifact.Handle, error) {
	j, err := eng.getScoped(ctx, jobID)
	if err != nil {
		return nil, artifact.Handle{}, err
	}
	h, ok := j.Artifact(name)
	if !ok {
		all := eng.reconcile(ctx, j)
		i := slices.IndexFunc(all, func(h artifact.Handle) bool { return h.Name == name })
		if i < 0 {
			return nil, artifact.Handle{}, fmt.Errorf("%w: %s/%s", moira.ErrArtifactNotFound, jobID, name)
		}
		h = all[i]
	}
	data, err := eng.sink.Load(ctx, h)
	if err != nil {
		return nil, artifact.Handle{}, err
	}
	return data, h, nil
}

// Artifacts returns the handles recorded on a job, followed by any the
// sink holds that the record is missing.
func (eng *Engine) Artifacts(ctx context.Context, jobID id.JobID) ([]artifact.Handle, error) {
	j, err := eng.getScoped(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return eng.reconcile(ctx, j), nil
}

// reconcile merges the sink's listing into j's recorded handles. A crash
// between storing an artifact and persisting the job leaves the artifact
// in the sink only. Record order is kept; sink-only handles follow by
// name. A failed listing falls back to the record.
func (eng *Engine) reconcile(ctx context.Context, j *job.Job) []artifact.Handle {
	stored, err := eng.sink.List(ctx, j.ID)
	if err != nil {
		eng.logger.Warn("artifact listing failed, using job record",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return j.Artifacts
	}
	out := slices.Clone(j.Artifacts)
	for _, h := range stored {
		if _, ok := j.Artifact(h.Name); !ok {
			out = append(out, h)
		}
	}
	return out
}

// ListJobs returns jobs matching opts and the total count ignoring
// pagination. A caller with an owner in ctx only sees their own jobs.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, int64, error) {
	if owner, ok := scope.Owner(ctx); ok {
		opts.OwnerID = owner
	}
	jobs, err := eng.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	total, err := eng.count(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// count totals the jobs matching opts, one query per requested state.
func (eng *Engine) count(ctx context.Context, opts job.ListOpts) (int64, error) {
	if len(opts.States) == 0 {
		return eng.store.CountJobs(ctx, job.CountOpts{OwnerID: opts.OwnerID})
	}
	var total int64
	for _, st := range opts.States {
		n, err := eng.store.CountJobs(ctx, job.CountOpts{OwnerID: opts.OwnerID, State: st})
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Steps returns the registered step definitions sorted by name.
func (eng *Engine) Steps() []*step.Definition { return eng.registry.Definitions() }

func (eng *Engine) getScoped(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(ctx, j.OwnerID) {
		return nil, moira.ErrForbidden
	}
	return j, nil
}

// ──────────────────────────────────────────────────
// Control
// ──────────────────────────────────────────────────

// Cancel requests cancellation of a queued or running job. The request is
// honored at the next step boundary; the returned record may still show
// the pre-cancellation state.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.getScoped(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is already %s", moira.ErrInvalidState, jobID, j.State)
	}

	if eng.pool.RequestCancel(jobID.String()) {
		eng.logger.Info("job cancellation requested", slog.String("job_id", jobID.String()))
		return j, nil
	}

	// No task owns the job: it is queued while the engine is stopped.
	j, err = eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateQueued {
		return nil, fmt.Errorf("%w: job %s is %s", moira.ErrInvalidState, jobID, j.State)
	}
	now := time.Now().UTC()
	j.State = job.StateCancelled
	j.CompletedAt = &now
	j.Touch()
	if err := eng.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobCancelled(ctx, j)
	return j, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start opens the worker pool and recovers jobs left unfinished by a
// previous process: queued jobs are relaunched and running jobs are
// marked failed, since a partially executed step cannot be resumed.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := eng.recover(ctx); err != nil {
		eng.logger.Warn("failed to recover unfinished jobs", slog.String("error", err.Error()))
	}
	return nil
}

func (eng *Engine) recover(ctx context.Context) error {
	var queued, interrupted []*job.Job
	for offset := 0; ; offset += recoveryBatch {
		batch, err := eng.store.ListJobs(ctx, job.ListOpts{
			States: []job.State{job.StateQueued, job.StateRunning},
			Limit:  recoveryBatch,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		for _, j := range batch {
			if eng.pool.Active(j.ID.String()) {
				continue
			}
			if j.State == job.StateQueued {
				queued = append(queued, j)
			} else {
				interrupted = append(interrupted, j)
			}
		}
		if len(batch) < recoveryBatch {
			break
		}
	}

	for _, j := range interrupted {
		now := time.Now().UTC()
		j.State = job.StateFailed
		j.Error = &job.ErrorDetail{
			Step:    j.CurrentStep(),
			Index:   j.StepIndex,
			Message: "interrupted by engine restart",
			At:      now,
		}
		j.CompletedAt = &now
		j.Touch()
		if err := eng.store.UpdateJob(ctx, j); err != nil {
			eng.logger.Error("failed to mark interrupted job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		eng.logger.Warn("job interrupted by restart", slog.String("job_id", j.ID.String()))
		eng.extensions.EmitJobFailed(ctx, j, workflow.ErrInterrupted)
	}

	for _, j := range queued {
		if err := eng.launch(j); err != nil && !errors.Is(err, moira.ErrJobActive) {
			return err
		}
	}
	if len(queued)+len(interrupted) > 0 {
		eng.logger.Info("recovered unfinished jobs",
			slog.Int("relaunched", len(queued)),
			slog.Int("interrupted", len(interrupted)),
		)
	}
	return nil
}

// Stop closes the worker pool, waiting up to the configured shutdown
// timeout for running jobs before cancelling them.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	return err
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the step registry.
func (eng *Engine) Registry() *step.Registry { return eng.registry }

// Adapter returns the plan adapter.
func (eng *Engine) Adapter() *plan.Adapter { return eng.adapter }

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *moira.Orchestrator { return eng.o }
