package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted   = "job.submitted"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobCancelled   = "job.cancelled"
	ActionStepStarted    = "step.started"
	ActionStepCompleted  = "step.completed"
	ActionStepFailed     = "step.failed"
	ActionArtifactStored = "artifact.stored"
)

// Audit event categories group related actions.
const (
	CategoryJob      = "moira.job"
	CategoryStep     = "moira.step"
	CategoryArtifact = "moira.artifact"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob      = "job"
	ResourceArtifact = "artifact"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
		ActionStepStarted,
		ActionStepCompleted,
		ActionStepFailed,
		ActionArtifactStored,
	}
}
