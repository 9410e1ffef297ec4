package moira

import "time"

// Config holds configuration for the orchestrator.
type Config struct {
	// Concurrency is the maximum number of jobs executing at once.
	// Submissions beyond it stay queued until a slot frees.
	Concurrency int

	// IngestionStep names the step every plan must start with. The plan
	// adapter injects it at position 0 when the planner omits it.
	IngestionStep string

	// ShutdownTimeout is the maximum time Stop waits for running jobs
	// before cancelling their contexts.
	ShutdownTimeout time.Duration

	// StepTimeout bounds a single step when its definition sets none.
	// Zero means steps may run indefinitely.
	StepTimeout time.Duration

	// SummaryArtifact is the name of the artifact written when a job
	// completes. Empty disables the summary.
	SummaryArtifact string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		IngestionStep:   "read_idat_files",
		ShutdownTimeout: 30 * time.Second,
		SummaryArtifact: "workflow_summary.json",
	}
}
