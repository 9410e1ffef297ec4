package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/step"
)

// Compile-time interface check.
var _ step.Accessor = (*view)(nil)

// view is the accessor handed to a step unit.
type view struct {
	exec   *execution
	def    *step.Definition
	inputs map[string]any
	logger *slog.Logger

	mu        sync.Mutex
	artifacts []string
}

func (v *view) JobID() id.JobID { return v.exec.job.ID }

func (v *view) Step() string { return v.def.Name }

func (v *view) Input(name string) (any, bool) {
	val, ok := v.inputs[name]
	return val, ok
}

func (v *view) Inputs() map[string]any {
	out := make(map[string]any, len(v.inputs))
	for k, val := range v.inputs {
		out[k] = val
	}
	return out
}

func (v *view) Emit(ctx context.Context, name string, data []byte) (artifact.Handle, error) {
	h, err := v.exec.storeArtifact(ctx, name, data)
	if err != nil {
		return artifact.Handle{}, err
	}
	v.mu.Lock()
	v.artifacts = append(v.artifacts, h.Name)
	v.mu.Unlock()
	return h, nil
}

func (v *view) Logger() *slog.Logger { return v.logger }

func (v *view) emitted() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.artifacts...)
}
