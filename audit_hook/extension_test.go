package audithook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	ah "github.com/hyunkyoun/moira/audit_hook"
	"github.com/hyunkyoun/moira/ext"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	j := job.New("alice", "/data/idats", "/data/samplesheet.csv",
		[]string{"read_idat_files", "quality_control"}, map[string]string{"batch": "Slide"}, nil)
	j.StepIndex = 1
	return j
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_JobSubmitted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.ResubmittedFrom = id.NewJobID()

	if err := e.OnJobSubmitted(context.Background(), j); err != nil {
		t.Fatalf("OnJobSubmitted: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobSubmitted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobSubmitted, evt.Action)
	}
	if evt.Resource != ah.ResourceJob || evt.Category != ah.CategoryJob {
		t.Errorf("Resource/Category: got %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.OwnerID != "alice" {
		t.Errorf("OwnerID: want %q, got %q", "alice", evt.OwnerID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["dataset_ref"] != "/data/idats" {
		t.Errorf("Metadata[dataset_ref]: got %v", evt.Metadata["dataset_ref"])
	}
	if evt.Metadata["resubmitted_from"] != j.ResubmittedFrom.String() {
		t.Errorf("Metadata[resubmitted_from]: got %v", evt.Metadata["resubmitted_from"])
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	elapsed := 90 * time.Second

	if err := e.OnJobCompleted(context.Background(), newTestJob(), elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCompleted, evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	jobErr := errors.New("samplesheet missing column Sample_Name")

	if err := e.OnJobFailed(context.Background(), newTestJob(), jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != jobErr.Error() {
		t.Errorf("Reason: want %q, got %q", jobErr.Error(), evt.Reason)
	}
	if evt.Metadata["step"] != "quality_control" {
		t.Errorf("Metadata[step]: want %q, got %v", "quality_control", evt.Metadata["step"])
	}
}

func TestExtension_JobCancelled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnJobCancelled(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}
	if evt := rec.last(); evt.Action != ah.ActionJobCancelled || evt.Severity != ah.SeverityWarning {
		t.Errorf("event = %+v", evt)
	}
}

func TestExtension_StepHooks(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnStepStarted(ctx, j, "quality_control", 1); err != nil {
		t.Fatalf("OnStepStarted: %v", err)
	}
	if evt := rec.last(); evt.Action != ah.ActionStepStarted || evt.Metadata["step_index"] != 1 {
		t.Errorf("step started = %+v", evt)
	}

	if err := e.OnStepCompleted(ctx, j, "quality_control", time.Second); err != nil {
		t.Fatalf("OnStepCompleted: %v", err)
	}
	if evt := rec.last(); evt.Action != ah.ActionStepCompleted || evt.Category != ah.CategoryStep {
		t.Errorf("step completed = %+v", evt)
	}

	if err := e.OnStepFailed(ctx, j, "quality_control", errors.New("exit 2")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionStepFailed || evt.Severity != ah.SeverityWarning || evt.Reason != "exit 2" {
		t.Errorf("step failed = %+v", evt)
	}
}

func TestExtension_ArtifactStored(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	h := artifact.Handle{JobID: j.ID, Name: "perform_pca_tissue.png", Size: 2048, Digest: "sha256:ab"}

	if err := e.OnArtifactStored(context.Background(), j, h); err != nil {
		t.Fatalf("OnArtifactStored: %v", err)
	}

	evt := rec.last()
	if evt.Resource != ah.ResourceArtifact || evt.ResourceID != "perform_pca_tissue.png" {
		t.Errorf("Resource/ResourceID: got %q/%q", evt.Resource, evt.ResourceID)
	}
	if evt.Metadata["job_id"] != j.ID.String() || evt.Metadata["size"] != int64(2048) {
		t.Errorf("Metadata: got %v", evt.Metadata)
	}
}

func TestExtension_WithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobSubmitted(ctx, j)
	_ = e.OnStepStarted(ctx, j, "read_idat_files", 0)
	_ = e.OnJobFailed(ctx, j, errors.New("boom"))

	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
	if rec.last().Action != ah.ActionJobFailed {
		t.Errorf("Action: want %q, got %q", ah.ActionJobFailed, rec.last().Action)
	}
}

func TestExtension_RecorderErrorDoesNotFail(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})
	var buf bytes.Buffer
	e := ah.New(failing, ah.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if err := e.OnJobCompleted(context.Background(), newTestJob(), time.Second); err != nil {
		t.Fatalf("recorder error leaked: %v", err)
	}
	if !strings.Contains(buf.String(), "audit backend down") {
		t.Errorf("recorder failure not logged: %q", buf.String())
	}
}

func TestExtension_Registry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	reg.Register(ah.New(rec))

	j := newTestJob()
	reg.EmitJobSubmitted(context.Background(), j)
	reg.EmitJobCancelled(context.Background(), j)

	if rec.count() != 2 {
		t.Fatalf("expected 2 events via registry, got %d", rec.count())
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := ah.New(ah.LogRecorder(logger))

	if err := e.OnJobFailed(context.Background(), newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	var rec struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
		Audit struct {
			Action  string `json:"action"`
			OwnerID string `json:"owner_id"`
			Reason  string `json:"reason"`
		} `json:"audit"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec.Level != "ERROR" || rec.Msg != "audit" {
		t.Errorf("level/msg = %q/%q", rec.Level, rec.Msg)
	}
	if rec.Audit.Action != ah.ActionJobFailed || rec.Audit.OwnerID != "alice" || rec.Audit.Reason != "boom" {
		t.Errorf("audit group = %+v", rec.Audit)
	}
}

func TestAllActions(t *testing.T) {
	if n := len(ah.AllActions()); n != 9 {
		t.Errorf("expected 9 actions, got %d", n)
	}
}

func TestExtension_WithMinSeverity(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithMinSeverity(ah.SeverityWarning))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobSubmitted(ctx, j)
	_ = e.OnStepCompleted(ctx, j, "read_idat_files", time.Second)
	_ = e.OnStepFailed(ctx, j, "quality_control", errors.New("exit 1"))
	_ = e.OnJobFailed(ctx, j, errors.New("exit 1"))

	if rec.count() != 2 {
		t.Fatalf("expected 2 events at warning and above, got %d", rec.count())
	}
	if rec.last().Severity != ah.SeverityCritical {
		t.Errorf("last severity = %q", rec.last().Severity)
	}
}

func TestExtension_WithActionsDropsUnknown(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions("job.exploded"))

	_ = e.OnJobFailed(context.Background(), newTestJob(), errors.New("boom"))

	if rec.count() != 0 {
		t.Errorf("expected no events, got %d", rec.count())
	}
}
