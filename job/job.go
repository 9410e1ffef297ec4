package job

import (
	"fmt"
	"time"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is persisted and waiting for a slot.
	StateQueued State = "queued"
	// StateRunning means the job's steps are executing.
	StateRunning State = "running"
	// StateCompleted means every step succeeded and the result is ready.
	StateCompleted State = "completed"
	// StateFailed means a step failed or the job was interrupted.
	StateFailed State = "failed"
	// StateCancelled means cancellation was honored at a step boundary.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether s is a final state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Job is the durable record of one plan execution.
type Job struct {
	moira.Entity

	ID              id.JobID                  `json:"id"`
	OwnerID         string                    `json:"owner_id"`
	DatasetRef      string                    `json:"dataset_ref"`
	SamplesheetRef  string                    `json:"samplesheet_ref"`
	ColumnMappings  map[string]string         `json:"column_mappings,omitempty"`
	State           State                     `json:"state"`
	Plan            []string                  `json:"plan"`
	StepIndex       int                       `json:"step_index"`
	StepResults     map[string]StepResult     `json:"step_results,omitempty"`
	Result          map[string]map[string]any `json:"result,omitempty"`
	Artifacts       []artifact.Handle         `json:"artifacts,omitempty"`
	Context         []ContextEntry            `json:"context,omitempty"`
	Error           *ErrorDetail              `json:"error,omitempty"`
	ResubmittedFrom id.JobID                  `json:"resubmitted_from,omitempty"`
	StartedAt       *time.Time                `json:"started_at,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
}

// StepResult is what a successful step left behind.
type StepResult struct {
	Index       int            `json:"index" bson:"index"`
	Outputs     map[string]any `json:"outputs,omitempty" bson:"outputs,omitempty"`
	Artifacts   []string       `json:"artifacts,omitempty" bson:"artifacts,omitempty"`
	StartedAt   time.Time      `json:"started_at" bson:"started_at"`
	CompletedAt time.Time      `json:"completed_at" bson:"completed_at"`
}

// Elapsed returns how long the step ran.
func (r StepResult) Elapsed() time.Duration { return r.CompletedAt.Sub(r.StartedAt) }

// ContextEntry is one write to a job's context ledger. Seeded entries
// have an empty Step.
type ContextEntry struct {
	Seq   int    `json:"seq" bson:"seq"`
	Name  string `json:"name" bson:"name"`
	Value any    `json:"value" bson:"value"`
	Step  string `json:"step,omitempty" bson:"step,omitempty"`
}

// ErrorDetail records why a job did not complete.
type ErrorDetail struct {
	Step    string    `json:"step,omitempty" bson:"step,omitempty"`
	Index   int       `json:"index" bson:"index"`
	Message string    `json:"message" bson:"message"`
	At      time.Time `json:"at" bson:"at"`
}

func (e *ErrorDetail) String() string {
	if e.Step == "" {
		return e.Message
	}
	return fmt.Sprintf("step %q: %s", e.Step, e.Message)
}

// New returns a queued job for a validated plan.
func New(ownerID, datasetRef, samplesheetRef string, plan []string, mappings map[string]string, seed []ContextEntry) *Job {
	return &Job{
		Entity:         moira.NewEntity(),
		ID:             id.NewJobID(),
		OwnerID:        ownerID,
		DatasetRef:     datasetRef,
		SamplesheetRef: samplesheetRef,
		ColumnMappings: mappings,
		State:          StateQueued,
		Plan:           append([]string(nil), plan...),
		StepResults:    make(map[string]StepResult),
		Context:        append([]ContextEntry(nil), seed...),
	}
}

// Advance moves the step cursor to i. The cursor never moves backwards
// and never passes len(Plan).
func (j *Job) Advance(i int) error {
	if i < j.StepIndex || i > len(j.Plan) {
		return fmt.Errorf("%w: step index %d -> %d (plan has %d steps)",
			moira.ErrInvalidState, j.StepIndex, i, len(j.Plan))
	}
	j.StepIndex = i
	return nil
}

// CurrentStep returns the name of the step at the cursor, or "" when the
// cursor is past the last step.
func (j *Job) CurrentStep() string {
	if j.StepIndex < 0 || j.StepIndex >= len(j.Plan) {
		return ""
	}
	return j.Plan[j.StepIndex]
}

// Progress returns the fraction of steps finished, in [0, 1].
func (j *Job) Progress() float64 {
	if j.State == StateCompleted {
		return 1
	}
	if len(j.Plan) == 0 {
		return 0
	}
	return float64(j.StepIndex) / float64(len(j.Plan))
}

// PutArtifact records h, replacing an earlier handle with the same name.
func (j *Job) PutArtifact(h artifact.Handle) {
	for i := range j.Artifacts {
		if j.Artifacts[i].Name == h.Name {
			j.Artifacts[i] = h
			return
		}
	}
	j.Artifacts = append(j.Artifacts, h)
}

// Artifact returns the handle stored under name.
func (j *Job) Artifact(name string) (artifact.Handle, bool) {
	for _, h := range j.Artifacts {
		if h.Name == name {
			return h, true
		}
	}
	return artifact.Handle{}, false
}

// Clone returns a deep enough copy for stores that must not share
// mutable state with callers.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Plan = append([]string(nil), j.Plan...)
	cp.Artifacts = append([]artifact.Handle(nil), j.Artifacts...)
	cp.Context = append([]ContextEntry(nil), j.Context...)
	if j.ColumnMappings != nil {
		cp.ColumnMappings = make(map[string]string, len(j.ColumnMappings))
		for k, v := range j.ColumnMappings {
			cp.ColumnMappings[k] = v
		}
	}
	if j.StepResults != nil {
		cp.StepResults = make(map[string]StepResult, len(j.StepResults))
		for k, v := range j.StepResults {
			cp.StepResults[k] = v
		}
	}
	if j.Result != nil {
		cp.Result = make(map[string]map[string]any, len(j.Result))
		for k, v := range j.Result {
			cp.Result[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}
