package plan

import (
	"fmt"

	"github.com/hyunkyoun/moira"
)

// InvalidPlanError reports a plan that cannot be executed as written.
// It matches moira.ErrInvalidPlan, and moira.ErrUnknownStep when the cause
// is a name missing from the registry.
type InvalidPlanError struct {
	Step   string
	Reason string

	unknown bool
}

func (e *InvalidPlanError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan: %s: %q", e.Reason, e.Step)
}

// Unwrap returns the sentinels the error matches.
func (e *InvalidPlanError) Unwrap() []error {
	if e.unknown {
		return []error{moira.ErrInvalidPlan, moira.ErrUnknownStep}
	}
	return []error{moira.ErrInvalidPlan}
}

// UnsatisfiedDependencyError reports a step input that nothing before the
// step provides.
type UnsatisfiedDependencyError struct {
	Step  string
	Index int
	Input string
}

func (e *UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("unsatisfied dependency: step %q (position %d) requires %q, which no earlier step or column mapping provides",
		e.Step, e.Index, e.Input)
}

// Unwrap returns moira.ErrUnsatisfiedDependency.
func (e *UnsatisfiedDependencyError) Unwrap() error { return moira.ErrUnsatisfiedDependency }
