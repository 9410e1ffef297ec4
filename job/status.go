package job

import (
	"time"

	"github.com/hyunkyoun/moira/id"
)

// Phase is the sub-state of one plan step.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseActive  Phase = "active"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
	PhaseSkipped Phase = "skipped"
)

// StepStatus is the phase of one step in the plan.
type StepStatus struct {
	Name  string `json:"name"`
	Phase Phase  `json:"phase"`
}

// Status is the polling view of a job.
type Status struct {
	JobID       id.JobID     `json:"job_id"`
	State       State        `json:"status"`
	Progress    float64      `json:"progress_fraction"`
	CurrentStep string       `json:"current_step_name,omitempty"`
	StepIndex   int          `json:"step_index"`
	TotalSteps  int          `json:"total_steps"`
	Steps       []StepStatus `json:"steps"`
	Error       *ErrorDetail `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Status derives the polling view from the record.
func (j *Job) Status() Status {
	st := Status{
		JobID:      j.ID,
		State:      j.State,
		Progress:   j.Progress(),
		StepIndex:  j.StepIndex,
		TotalSteps: len(j.Plan),
		Steps:      make([]StepStatus, len(j.Plan)),
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.State == StateRunning || j.State == StateFailed {
		st.CurrentStep = j.CurrentStep()
	}

	for i, name := range j.Plan {
		st.Steps[i] = StepStatus{Name: name, Phase: j.phase(i)}
	}
	return st
}

func (j *Job) phase(i int) Phase {
	switch {
	case i < j.StepIndex:
		return PhaseDone
	case j.State == StateCompleted:
		return PhaseDone
	case i > j.StepIndex:
		if j.State.IsTerminal() {
			return PhaseSkipped
		}
		return PhasePending
	}
	// i == StepIndex
	switch j.State {
	case StateRunning:
		return PhaseActive
	case StateFailed:
		if j.Error != nil && j.Error.Step != "" {
			return PhaseFailed
		}
		return PhaseSkipped
	case StateCancelled:
		return PhaseSkipped
	}
	return PhasePending
}
