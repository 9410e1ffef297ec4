package step

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
)

// Outputs is the set of named values a step produced.
type Outputs map[string]any

// Accessor is the view of a job a step runs against. Steps never touch the
// job record or context directly.
type Accessor interface {
	// JobID returns the job being executed.
	JobID() id.JobID

	// Step returns the name of the running step.
	Step() string

	// Input returns the current value of a declared input.
	Input(name string) (any, bool)

	// Inputs returns all declared inputs present in the job context.
	Inputs() map[string]any

	// Emit stores a binary artifact for the job. The handle is recorded
	// on the job record before Emit returns.
	Emit(ctx context.Context, name string, data []byte) (artifact.Handle, error)

	// Logger returns a logger annotated with the job and step.
	Logger() *slog.Logger
}

// Unit is the executable part of a step.
type Unit interface {
	Run(ctx context.Context, in Accessor) (Outputs, error)
}

// UnitFunc adapts an ordinary function to Unit.
type UnitFunc func(ctx context.Context, in Accessor) (Outputs, error)

// Run calls f.
func (f UnitFunc) Run(ctx context.Context, in Accessor) (Outputs, error) { return f(ctx, in) }

// Definition describes a registered step.
type Definition struct {
	// Name is the unique, lowercase step name.
	Name string `json:"name"`

	// Description is shown to planners and API clients.
	Description string `json:"description,omitempty"`

	// Inputs must be present in the job context before the step runs.
	Inputs []string `json:"inputs"`

	// OptionalInputs are passed to the step when present.
	OptionalInputs []string `json:"optional_inputs,omitempty"`

	// Outputs are merged into the job context after success.
	Outputs []string `json:"outputs"`

	// Reportable outputs are copied into the job result.
	Reportable []string `json:"reportable,omitempty"`

	// Timeout bounds one invocation. Zero falls back to the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Runtime names the binding that built Unit ("func" for code).
	Runtime string `json:"runtime"`

	// Unit executes the step.
	Unit Unit `json:"-"`
}

// Option configures a Definition.
type Option func(*Definition)

// NewDefinition creates a definition for unit.
func NewDefinition(name string, unit Unit, opts ...Option) *Definition {
	def := &Definition{Name: name, Unit: unit, Runtime: "func"}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

// WithInputs declares required inputs.
func WithInputs(names ...string) Option {
	return func(d *Definition) { d.Inputs = append(d.Inputs, names...) }
}

// WithOptionalInputs declares inputs passed only when present.
func WithOptionalInputs(names ...string) Option {
	return func(d *Definition) { d.OptionalInputs = append(d.OptionalInputs, names...) }
}

// WithOutputs declares outputs.
func WithOutputs(names ...string) Option {
	return func(d *Definition) { d.Outputs = append(d.Outputs, names...) }
}

// WithReportable marks outputs as part of the job result.
func WithReportable(names ...string) Option {
	return func(d *Definition) { d.Reportable = append(d.Reportable, names...) }
}

// WithTimeout bounds each invocation of the step.
func WithTimeout(t time.Duration) Option {
	return func(d *Definition) { d.Timeout = t }
}

// WithDescription sets the human readable description.
func WithDescription(s string) Option {
	return func(d *Definition) { d.Description = s }
}

// Declares reports whether name is one of the step's outputs.
func (d *Definition) Declares(name string) bool {
	return contains(d.Outputs, name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
