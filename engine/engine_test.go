package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hyunkyoun/moira"
	artmem "github.com/hyunkyoun/moira/artifact/memory"
	"github.com/hyunkyoun/moira/engine"
	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/plan"
	"github.com/hyunkyoun/moira/scope"
	"github.com/hyunkyoun/moira/step"
	"github.com/hyunkyoun/moira/store/memory"
)

// ──────────────────────────────────────────────────
// Test fixtures
// ──────────────────────────────────────────────────

type fixture struct {
	o     *moira.Orchestrator
	eng   *engine.Engine
	store *memory.Store
	sink  *artmem.Sink

	// gate blocks the "wait" step until closed.
	gate     chan struct{}
	gateOnce sync.Once
}

func (f *fixture) open() { f.gateOnce.Do(func() { close(f.gate) }) }

func newFixture(t *testing.T, concurrency int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New()

	o, err := moira.New(
		moira.WithStore(s),
		moira.WithLogger(logger),
		moira.WithConcurrency(concurrency),
		moira.WithIngestionStep("ingest"),
	)
	if err != nil {
		t.Fatalf("moira.New: %v", err)
	}

	f := &fixture{o: o, store: s, sink: artmem.New(), gate: make(chan struct{})}

	reg := step.NewRegistry()
	reg.MustRegister(step.NewDefinition("ingest", step.UnitFunc(func(ctx context.Context, in step.Accessor) (step.Outputs, error) {
		ds, _ := in.Input("dataset")
		if _, err := in.Emit(ctx, "ingest_manifest.txt", []byte(fmt.Sprint(ds))); err != nil {
			return nil, err
		}
		return step.Outputs{"raw": ds, "n_samples": 8}, nil
	}),
		step.WithInputs("dataset"),
		step.WithOutputs("raw", "n_samples"),
		step.WithReportable("n_samples"),
	))
	reg.MustRegister(step.NewDefinition("qc", step.UnitFunc(func(ctx context.Context, in step.Accessor) (step.Outputs, error) {
		if _, err := in.Emit(ctx, "qc_plot.png", []byte("png")); err != nil {
			return nil, err
		}
		raw, _ := in.Input("raw")
		return step.Outputs{"qc_raw": raw}, nil
	}),
		step.WithInputs("raw"),
		step.WithOutputs("qc_raw"),
		step.WithReportable("qc_raw"),
	))
	reg.MustRegister(step.NewDefinition("normalize", step.UnitFunc(func(context.Context, step.Accessor) (step.Outputs, error) {
		return nil, errors.New("normalization diverged")
	}),
		step.WithInputs("raw"),
		step.WithOutputs("betas"),
	))
	reg.MustRegister(step.NewDefinition("wait", step.UnitFunc(func(ctx context.Context, _ step.Accessor) (step.Outputs, error) {
		select {
		case <-f.gate:
			return step.Outputs{"waited": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}),
		step.WithOutputs("waited"),
	))
	reg.MustRegister(step.NewDefinition("needs_betas", step.UnitFunc(func(context.Context, step.Accessor) (step.Outputs, error) {
		return step.Outputs{}, nil
	}),
		step.WithInputs("betas"),
	))

	eng, err := engine.Build(o,
		engine.WithRegistry(reg),
		engine.WithArtifactSink(f.sink),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	f.eng = eng

	t.Cleanup(func() {
		f.open()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (f *fixture) submit(t *testing.T, owner string, steps ...string) *job.Job {
	t.Helper()
	j, err := f.eng.Submit(context.Background(), engine.SubmitRequest{
		OwnerID:        owner,
		DatasetRef:     "s3://lab/" + owner,
		SamplesheetRef: "s3://lab/sheet.csv",
		Plan:           plan.Input{StepNames: steps},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return j
}

func (f *fixture) waitState(t *testing.T, j *job.Job, want job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.store.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.State == want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	t.Fatalf("job %s state = %q, want %q", j.ID, got.State, want)
	return nil
}

func (f *fixture) waitStep(t *testing.T, j *job.Job, stepName string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := f.eng.Status(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.State == job.StateRunning && st.CurrentStep == stepName {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached step %q", j.ID, stepName)
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_RequiresStoreAndSink(t *testing.T) {
	o, _ := moira.New()
	if _, err := engine.Build(o); !errors.Is(err, moira.ErrNoStore) {
		t.Errorf("Build without store = %v, want ErrNoStore", err)
	}

	o, _ = moira.New(moira.WithStore(memory.New()))
	if _, err := engine.Build(o); !errors.Is(err, moira.ErrNoArtifactSink) {
		t.Errorf("Build without sink = %v, want ErrNoArtifactSink", err)
	}
}

// ──────────────────────────────────────────────────
// Submission and execution
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd(t *testing.T) {
	f := newFixture(t, 2)
	f.start(t)

	j := f.submit(t, "alice", "qc")
	if j.State != job.StateQueued {
		t.Errorf("submitted state = %q, want queued", j.State)
	}
	if len(j.Plan) != 2 || j.Plan[0] != "ingest" {
		t.Errorf("plan = %v, want ingestion injected first", j.Plan)
	}

	done := f.waitState(t, j, job.StateCompleted)
	if done.StepIndex != 2 {
		t.Errorf("StepIndex = %d, want 2", done.StepIndex)
	}

	res, err := f.eng.Result(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res["ingest"]["n_samples"] != 8 || res["qc"]["qc_raw"] != "s3://lab/alice" {
		t.Errorf("result = %v", res)
	}

	data, h, err := f.eng.Artifact(context.Background(), j.ID, "workflow_summary.json")
	if err != nil {
		t.Fatalf("Artifact(summary): %v", err)
	}
	if len(data) == 0 || h.ContentType == "" {
		t.Errorf("summary artifact = %q (%s)", data, h.ContentType)
	}

	st, _ := f.eng.Status(context.Background(), j.ID)
	if st.Progress != 1 || st.CurrentStep != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestArtifacts_IncludeSinkOnlyHandles(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)
	ctx := context.Background()

	j := f.submit(t, "alice", "qc")
	done := f.waitState(t, j, job.StateCompleted)

	// Stored, but the record was never updated to include it.
	if _, err := f.sink.Store(ctx, j.ID, "orphan.txt", []byte("left behind")); err != nil {
		t.Fatalf("sink.Store: %v", err)
	}

	handles, err := f.eng.Artifacts(ctx, j.ID)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(handles) != len(done.Artifacts)+1 {
		t.Fatalf("Artifacts = %d handles, want %d", len(handles), len(done.Artifacts)+1)
	}
	for i, h := range done.Artifacts {
		if handles[i].Name != h.Name {
			t.Errorf("handles[%d] = %q, want record order %q", i, handles[i].Name, h.Name)
		}
	}
	if last := handles[len(handles)-1]; last.Name != "orphan.txt" {
		t.Errorf("last handle = %q, want orphan.txt", last.Name)
	}

	data, h, err := f.eng.Artifact(ctx, j.ID, "orphan.txt")
	if err != nil {
		t.Fatalf("Artifact(orphan): %v", err)
	}
	if string(data) != "left behind" || h.Name != "orphan.txt" {
		t.Errorf("Artifact = %q (%s)", data, h.Name)
	}

	if _, _, err := f.eng.Artifact(ctx, j.ID, "never_stored.txt"); !errors.Is(err, moira.ErrArtifactNotFound) {
		t.Errorf("Artifact(missing) = %v, want ErrArtifactNotFound", err)
	}
}

func TestSubmit_DoesNotBlock(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	start := time.Now()
	j := f.submit(t, "alice", "wait")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Submit blocked for %v", elapsed)
	}

	f.waitStep(t, j, "wait")
	st, _ := f.eng.Status(context.Background(), j.ID)
	if st.Progress != 0.5 {
		t.Errorf("progress = %v, want 0.5", st.Progress)
	}

	if _, err := f.eng.Result(context.Background(), j.ID); !errors.Is(err, moira.ErrNotReady) {
		t.Errorf("Result while running = %v, want ErrNotReady", err)
	}

	f.open()
	f.waitState(t, j, job.StateCompleted)
}

func TestSubmit_InvalidPlanCreatesNoRecord(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     engine.SubmitRequest
		wantErr error
	}{
		{
			name:    "unknown step",
			req:     engine.SubmitRequest{DatasetRef: "d", Plan: plan.Input{StepNames: []string{"qc", "bogus"}}},
			wantErr: moira.ErrUnknownStep,
		},
		{
			name:    "empty plan",
			req:     engine.SubmitRequest{DatasetRef: "d"},
			wantErr: moira.ErrInvalidPlan,
		},
		{
			name:    "missing dataset",
			req:     engine.SubmitRequest{Plan: plan.Input{StepNames: []string{"qc"}}},
			wantErr: moira.ErrInvalidPlan,
		},
		{
			name:    "unsatisfied dependency",
			req:     engine.SubmitRequest{DatasetRef: "d", Plan: plan.Input{StepNames: []string{"needs_betas"}}},
			wantErr: moira.ErrUnsatisfiedDependency,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.eng.Submit(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit = %v, want %v", err, tt.wantErr)
			}
		})
	}

	n, _ := f.store.CountJobs(ctx, job.CountOpts{})
	if n != 0 {
		t.Errorf("%d records created by rejected submissions", n)
	}

	_, err := f.eng.Submit(ctx, engine.SubmitRequest{DatasetRef: "d", Plan: plan.Input{StepNames: []string{"needs_betas"}}})
	var ude *plan.UnsatisfiedDependencyError
	if !errors.As(err, &ude) || ude.Step != "needs_betas" || ude.Input != "betas" {
		t.Errorf("UnsatisfiedDependencyError = %+v", ude)
	}
}

func TestEngine_FailureKeepsPartialResults(t *testing.T) {
	f := newFixture(t, 2)
	f.start(t)
	ctx := context.Background()

	j := f.submit(t, "alice", "ingest", "qc", "normalize")
	got := f.waitState(t, j, job.StateFailed)

	if got.StepIndex != 2 {
		t.Errorf("StepIndex = %d, want 2", got.StepIndex)
	}
	if len(got.StepResults) != 2 {
		t.Errorf("StepResults = %v, want ingest and qc", got.StepResults)
	}
	if got.Error == nil || got.Error.Step != "normalize" {
		t.Errorf("Error = %+v", got.Error)
	}

	_, err := f.eng.Result(ctx, j.ID)
	var fe *engine.FailedError
	if !errors.As(err, &fe) || !errors.Is(err, moira.ErrJobFailed) {
		t.Fatalf("Result = %v, want FailedError", err)
	}
	if fe.Detail.Message != "normalization diverged" {
		t.Errorf("detail = %+v", fe.Detail)
	}

	data, _, err := f.eng.Artifact(ctx, j.ID, "qc_plot.png")
	if err != nil || string(data) != "png" {
		t.Errorf("Artifact(qc_plot.png) = %q, %v", data, err)
	}
	if _, _, err := f.eng.Artifact(ctx, j.ID, "never.png"); !errors.Is(err, moira.ErrArtifactNotFound) {
		t.Errorf("Artifact(never) = %v, want ErrArtifactNotFound", err)
	}
}

func TestEngine_ConcurrentSubmissionsAreIsolated(t *testing.T) {
	f := newFixture(t, 4)
	f.start(t)

	const n = 10
	jobs := make([]*job.Job, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := f.eng.Submit(context.Background(), engine.SubmitRequest{
				DatasetRef: fmt.Sprintf("s3://lab/run-%d", i),
				Plan:       plan.Input{StepNames: []string{"qc"}},
			})
			if err != nil {
				t.Errorf("Submit %d: %v", i, err)
				return
			}
			jobs[i] = j
		}()
	}
	wg.Wait()

	for i, j := range jobs {
		if j == nil {
			continue
		}
		f.waitState(t, j, job.StateCompleted)
		res, err := f.eng.Result(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("Result %d: %v", i, err)
		}
		if want := fmt.Sprintf("s3://lab/run-%d", i); res["qc"]["qc_raw"] != want {
			t.Errorf("job %d saw %v, want %q", i, res["qc"]["qc_raw"], want)
		}
	}
}

func TestEngine_ConcurrencyLimitKeepsJobsQueued(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	first := f.submit(t, "alice", "wait")
	f.waitStep(t, first, "wait")

	second := f.submit(t, "alice", "qc")
	time.Sleep(50 * time.Millisecond)
	st, _ := f.eng.Status(context.Background(), second.ID)
	if st.State != job.StateQueued {
		t.Fatalf("second job state = %q, want queued while the slot is busy", st.State)
	}

	f.open()
	f.waitState(t, first, job.StateCompleted)
	f.waitState(t, second, job.StateCompleted)
}

// ──────────────────────────────────────────────────
// Control
// ──────────────────────────────────────────────────

func TestCancel_RunningJobStopsAtBoundary(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)
	ctx := context.Background()

	j := f.submit(t, "alice", "wait", "qc")
	f.waitStep(t, j, "wait")

	if _, err := f.eng.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.open()

	got := f.waitState(t, j, job.StateCancelled)
	if got.StepIndex != 2 {
		t.Errorf("StepIndex = %d, want 2 (wait finished, qc skipped)", got.StepIndex)
	}
	if _, ok := got.StepResults["qc"]; ok {
		t.Error("qc ran after cancellation")
	}
	if _, err := f.eng.Result(ctx, j.ID); !errors.Is(err, moira.ErrJobCancelled) {
		t.Errorf("Result = %v, want ErrJobCancelled", err)
	}
	if _, err := f.eng.Cancel(ctx, j.ID); !errors.Is(err, moira.ErrInvalidState) {
		t.Errorf("second Cancel = %v, want ErrInvalidState", err)
	}
}

func TestCancel_QueuedWhileStopped(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	j := f.submit(t, "alice", "qc")
	got, err := f.eng.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state = %q, want cancelled", got.State)
	}
}

func TestResubmit(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)
	ctx := context.Background()

	failed := f.submit(t, "alice", "qc", "normalize")
	f.waitState(t, failed, job.StateFailed)

	again, err := f.eng.Resubmit(ctx, failed.ID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if again.ID.String() == failed.ID.String() {
		t.Fatal("resubmission must get a new id")
	}
	if again.ResubmittedFrom.String() != failed.ID.String() {
		t.Errorf("ResubmittedFrom = %s", again.ResubmittedFrom)
	}
	if len(again.StepResults) != 0 {
		t.Errorf("resubmission reused results: %v", again.StepResults)
	}
	f.waitState(t, again, job.StateFailed)

	ok := f.submit(t, "alice", "qc")
	f.waitState(t, ok, job.StateCompleted)
	if _, err := f.eng.Resubmit(ctx, ok.ID); !errors.Is(err, moira.ErrInvalidState) {
		t.Errorf("Resubmit(completed) = %v, want ErrInvalidState", err)
	}
}

// ──────────────────────────────────────────────────
// Scoping and listing
// ──────────────────────────────────────────────────

func TestOwnerScoping(t *testing.T) {
	f := newFixture(t, 1)
	j := f.submit(t, "alice", "qc")
	_ = f.submit(t, "bob", "qc")

	bob := scope.WithOwner(context.Background(), "bob")
	if _, err := f.eng.Status(bob, j.ID); !errors.Is(err, moira.ErrForbidden) {
		t.Errorf("Status as bob = %v, want ErrForbidden", err)
	}
	if _, err := f.eng.Cancel(bob, j.ID); !errors.Is(err, moira.ErrForbidden) {
		t.Errorf("Cancel as bob = %v, want ErrForbidden", err)
	}

	alice := scope.WithOwner(context.Background(), "alice")
	if _, err := f.eng.Status(alice, j.ID); err != nil {
		t.Errorf("Status as alice: %v", err)
	}

	jobs, total, err := f.eng.ListJobs(bob, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || total != 1 || jobs[0].OwnerID != "bob" {
		t.Errorf("bob sees %d jobs (total %d)", len(jobs), total)
	}

	all, total, _ := f.eng.ListJobs(context.Background(), job.ListOpts{States: []job.State{job.StateQueued, job.StateRunning}})
	if len(all) != 2 || total != 2 {
		t.Errorf("trusted caller sees %d jobs (total %d)", len(all), total)
	}
}

// ──────────────────────────────────────────────────
// Restart recovery
// ──────────────────────────────────────────────────

func TestStart_RecoversUnfinishedJobs(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	queued := f.submit(t, "alice", "qc")

	running := job.New("alice", "d", "s", []string{"ingest", "qc"}, nil, nil)
	running.State = job.StateRunning
	running.StepIndex = 1
	if err := f.store.CreateJob(ctx, running); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	f.start(t)

	f.waitState(t, queued, job.StateCompleted)
	got := f.waitState(t, running, job.StateFailed)
	if got.Error == nil || got.Error.Step != "qc" {
		t.Errorf("interrupted error = %+v", got.Error)
	}
}
