package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/ext"
	"github.com/hyunkyoun/moira/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobSubmitted   = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobCompleted   = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobCancelled   = (*Extension)(nil)
	_ ext.StepStarted    = (*Extension)(nil)
	_ ext.StepCompleted  = (*Extension)(nil)
	_ ext.StepFailed     = (*Extension)(nil)
	_ ext.ArtifactStored = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Who and to what
	OwnerID    string `json:"owner_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`

	// Details
	Metadata map[string]any `json:"metadata,omitempty"`
	Outcome  string         `json:"outcome"`
	Severity string         `json:"severity"`
	Reason   string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// LogRecorder returns a Recorder that writes each event as a log record
// under the "audit" group, at a level matching its severity.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}

		attrs := []any{
			slog.String("action", evt.Action),
			slog.String("category", evt.Category),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("owner_id", evt.OwnerID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", evt.Metadata))
		}
		logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))
		return nil
	})
}

// Extension bridges moira lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	minRank  int
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	kv := []any{
		"dataset_ref", j.DatasetRef,
		"samplesheet_ref", j.SamplesheetRef,
		"plan", j.Plan,
	}
	if !j.ResubmittedFrom.IsNil() {
		kv = append(kv, "resubmitted_from", j.ResubmittedFrom.String())
	}
	return e.record(ctx, ActionJobSubmitted, SeverityInfo, OutcomeSuccess,
		CategoryJob, ResourceJob, j, j.ID.String(), nil, kv...)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		CategoryJob, ResourceJob, j, j.ID.String(), nil,
		"steps", len(j.Plan),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		CategoryJob, ResourceJob, j, j.ID.String(), nil,
		"elapsed_ms", elapsed.Milliseconds(),
		"artifacts", len(j.Artifacts),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		CategoryJob, ResourceJob, j, j.ID.String(), jobErr,
		"step", j.CurrentStep(),
		"step_index", j.StepIndex,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeFailure,
		CategoryJob, ResourceJob, j, j.ID.String(), nil,
		"step_index", j.StepIndex,
	)
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepStarted implements ext.StepStarted.
func (e *Extension) OnStepStarted(ctx context.Context, j *job.Job, stepName string, index int) error {
	return e.record(ctx, ActionStepStarted, SeverityInfo, OutcomeSuccess,
		CategoryStep, ResourceJob, j, j.ID.String(), nil,
		"step", stepName,
		"step_index", index,
	)
}

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, j *job.Job, stepName string, elapsed time.Duration) error {
	return e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		CategoryStep, ResourceJob, j, j.ID.String(), nil,
		"step", stepName,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, j *job.Job, stepName string, stepErr error) error {
	return e.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure,
		CategoryStep, ResourceJob, j, j.ID.String(), stepErr,
		"step", stepName,
	)
}

// ── Artifact hooks ──────────────────────────────────

// OnArtifactStored implements ext.ArtifactStored.
func (e *Extension) OnArtifactStored(ctx context.Context, j *job.Job, h artifact.Handle) error {
	return e.record(ctx, ActionArtifactStored, SeverityInfo, OutcomeSuccess,
		CategoryArtifact, ResourceArtifact, j, h.Name, nil,
		"job_id", j.ID.String(),
		"size", h.Size,
		"digest", h.Digest,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never fail the job.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	category, resource string,
	j *job.Job, resourceID string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}
	if severityRank(severity) < e.minRank {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		OwnerID:    j.OwnerID,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
