package moira

import "errors"

var (
	// Store errors.
	ErrNoStore        = errors.New("moira: no store configured")
	ErrNoArtifactSink = errors.New("moira: no artifact sink configured")
	ErrStoreClosed    = errors.New("moira: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("moira: job not found")
	ErrArtifactNotFound = errors.New("moira: artifact not found")
	ErrUnknownStep      = errors.New("moira: unknown step")

	// Plan validation errors.
	ErrInvalidPlan           = errors.New("moira: invalid plan")
	ErrUnsatisfiedDependency = errors.New("moira: unsatisfied dependency")
	ErrDuplicateStep         = errors.New("moira: step already registered")

	// Result errors.
	ErrNotReady     = errors.New("moira: job result not ready")
	ErrJobFailed    = errors.New("moira: job failed")
	ErrJobCancelled = errors.New("moira: job cancelled")

	// Execution errors.
	ErrStepExecution = errors.New("moira: step execution failed")
	ErrJobActive     = errors.New("moira: job already has an active execution")
	ErrEngineStopped = errors.New("moira: engine stopped")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("moira: job already exists")
	ErrInvalidState     = errors.New("moira: invalid state transition")

	// Access errors.
	ErrForbidden = errors.New("moira: job belongs to another owner")
)
