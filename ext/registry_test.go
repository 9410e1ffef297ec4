package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/ext"
	"github.com/hyunkyoun/moira/job"
)

// recordingExt implements every hook.
type recordingExt struct {
	calls []string
}

func (e *recordingExt) Name() string { return "recording" }

func (e *recordingExt) record(s string) error {
	e.calls = append(e.calls, s)
	return nil
}

func (e *recordingExt) OnJobSubmitted(context.Context, *job.Job) error {
	return e.record("OnJobSubmitted")
}

func (e *recordingExt) OnJobStarted(context.Context, *job.Job) error {
	return e.record("OnJobStarted")
}

func (e *recordingExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.record("OnJobCompleted")
}

func (e *recordingExt) OnJobFailed(context.Context, *job.Job, error) error {
	return e.record("OnJobFailed")
}

func (e *recordingExt) OnJobCancelled(context.Context, *job.Job) error {
	return e.record("OnJobCancelled")
}

func (e *recordingExt) OnStepStarted(context.Context, *job.Job, string, int) error {
	return e.record("OnStepStarted")
}

func (e *recordingExt) OnStepCompleted(context.Context, *job.Job, string, time.Duration) error {
	return e.record("OnStepCompleted")
}

func (e *recordingExt) OnStepFailed(context.Context, *job.Job, string, error) error {
	return e.record("OnStepFailed")
}

func (e *recordingExt) OnArtifactStored(context.Context, *job.Job, artifact.Handle) error {
	return e.record("OnArtifactStored")
}

func (e *recordingExt) OnShutdown(context.Context) error {
	return e.record("OnShutdown")
}

// stepOnlyExt only implements step hooks.
type stepOnlyExt struct {
	calls int
}

func (e *stepOnlyExt) Name() string { return "step-only" }

func (e *stepOnlyExt) OnStepCompleted(context.Context, *job.Job, string, time.Duration) error {
	e.calls++
	return nil
}

type failingExt struct{}

func (failingExt) Name() string { return "failing" }

func (failingExt) OnJobSubmitted(context.Context, *job.Job) error { return errors.New("boom") }

func TestRegistry_AllHooksFireInOrder(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	rec := &recordingExt{}
	r.Register(rec)

	ctx := context.Background()
	j := &job.Job{}
	r.EmitJobSubmitted(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitStepStarted(ctx, j, "quality_control", 1)
	r.EmitArtifactStored(ctx, j, artifact.Handle{Name: "qc.png"})
	r.EmitStepCompleted(ctx, j, "quality_control", time.Second)
	r.EmitStepFailed(ctx, j, "combat_normalization", errors.New("fail"))
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobCancelled(ctx, j)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobSubmitted", "OnJobStarted", "OnStepStarted", "OnArtifactStored",
		"OnStepCompleted", "OnStepFailed", "OnJobFailed", "OnJobCompleted",
		"OnJobCancelled", "OnShutdown",
	}
	if len(rec.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(rec.calls), rec.calls)
	}
	for i, want := range expected {
		if rec.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, rec.calls[i], want)
		}
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	so := &stepOnlyExt{}
	r.Register(so)

	ctx := context.Background()
	r.EmitJobSubmitted(ctx, &job.Job{})
	r.EmitStepCompleted(ctx, &job.Job{}, "perform_pca", time.Millisecond)

	if so.calls != 1 {
		t.Errorf("calls = %d, want 1", so.calls)
	}
	if got := len(r.Extensions()); got != 1 {
		t.Errorf("Extensions() = %d, want 1", got)
	}
}

func TestRegistry_HookErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := ext.NewRegistry(logger)
	rec := &recordingExt{}
	r.Register(failingExt{})
	r.Register(rec)

	r.EmitJobSubmitted(context.Background(), &job.Job{})

	if len(rec.calls) != 1 {
		t.Fatalf("later extension not notified after a failing hook: %v", rec.calls)
	}
	if !strings.Contains(buf.String(), "extension hook error") || !strings.Contains(buf.String(), "failing") {
		t.Errorf("expected hook error log, got %q", buf.String())
	}
}

type panickingExt struct{}

func (panickingExt) Name() string { return "panicking" }

func (panickingExt) OnJobCancelled(context.Context, *job.Job) error { panic("nil map write") }

func TestRegistry_HookPanicIsContained(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	rec := &recordingExt{}
	r.Register(panickingExt{})
	r.Register(rec)

	r.EmitJobCancelled(context.Background(), &job.Job{})

	if len(rec.calls) != 1 || rec.calls[0] != "OnJobCancelled" {
		t.Fatalf("later extension not notified after a panicking hook: %v", rec.calls)
	}
	if !strings.Contains(buf.String(), "nil map write") {
		t.Errorf("panic not logged: %q", buf.String())
	}
}
