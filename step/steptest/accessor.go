// Package steptest provides an in-memory step.Accessor for testing step
// units outside the engine.
package steptest

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/step"
)

var _ step.Accessor = (*Accessor)(nil)

// Accessor records emitted artifacts in memory.
type Accessor struct {
	jobID  id.JobID
	step   string
	inputs map[string]any
	logger *slog.Logger

	// EmitErr, when set, is returned by every Emit call.
	EmitErr error

	mu      sync.Mutex
	emitted map[string][]byte
}

// NewAccessor returns an accessor for a new job running stepName with
// the given inputs.
func NewAccessor(stepName string, inputs map[string]any) *Accessor {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Accessor{
		jobID:   id.NewJobID(),
		step:    stepName,
		inputs:  inputs,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		emitted: make(map[string][]byte),
	}
}

// JobID returns the job ID.
func (a *Accessor) JobID() id.JobID { return a.jobID }

// Step returns the step name.
func (a *Accessor) Step() string { return a.step }

// Input returns one input.
func (a *Accessor) Input(name string) (any, bool) {
	v, ok := a.inputs[name]
	return v, ok
}

// Inputs returns a copy of all inputs.
func (a *Accessor) Inputs() map[string]any {
	out := make(map[string]any, len(a.inputs))
	for k, v := range a.inputs {
		out[k] = v
	}
	return out
}

// Emit records data under name.
func (a *Accessor) Emit(_ context.Context, name string, data []byte) (artifact.Handle, error) {
	if a.EmitErr != nil {
		return artifact.Handle{}, a.EmitErr
	}
	if err := artifact.ValidateName(name); err != nil {
		return artifact.Handle{}, err
	}
	a.mu.Lock()
	a.emitted[name] = append([]byte(nil), data...)
	a.mu.Unlock()
	return artifact.NewHandle(a.jobID, name, data), nil
}

// Logger returns a discarding logger.
func (a *Accessor) Logger() *slog.Logger { return a.logger }

// Emitted returns the bytes stored under name.
func (a *Accessor) Emitted(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.emitted[name]
	return data, ok
}

// EmittedCount returns the number of stored artifacts.
func (a *Accessor) EmittedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.emitted)
}
