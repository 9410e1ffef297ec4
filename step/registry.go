package step

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hyunkyoun/moira"
)

// Registry maps step names to definitions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]*Definition
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]*Definition)}
}

// Register adds def. Names must be unique, trimmed and lowercase, and
// reportable outputs must be declared outputs.
func (r *Registry) Register(def *Definition) error {
	if err := validate(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.steps[def.Name]; ok {
		return fmt.Errorf("%w: %q", moira.ErrDuplicateStep, def.Name)
	}
	r.steps[def.Name] = def
	return nil
}

// MustRegister is like Register but panics on error. Use for steps wired
// at program start.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Resolve returns the definition for name or an error wrapping
// moira.ErrUnknownStep.
func (r *Registry) Resolve(name string) (*Definition, error) {
	if def, ok := r.Lookup(name); ok {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %q", moira.ErrUnknownStep, name)
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.steps[name]
	return def, ok
}

// Names returns all registered step names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all definitions, sorted by name.
func (r *Registry) Definitions() []*Definition {
	names := r.Names()
	out := make([]*Definition, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		out = append(out, r.steps[name])
	}
	return out
}

// RegisterTyped registers a step whose inputs and outputs are Go structs.
// The declared inputs are JSON-decoded into In before fn runs, and the
// returned Out is JSON-encoded back into Outputs. Field names follow
// the json tags, so they should match the declared input and output
// names.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterTyped[In, Out any](r *Registry, name string, fn func(ctx context.Context, in Accessor, args In) (Out, error), opts ...Option) error {
	unit := UnitFunc(func(ctx context.Context, in Accessor) (Outputs, error) {
		var args In
		raw, err := json.Marshal(in.Inputs())
		if err != nil {
			return nil, fmt.Errorf("encode inputs for step %q: %w", name, err)
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode inputs for step %q: %w", name, err)
		}

		res, err := fn(ctx, in, args)
		if err != nil {
			return nil, err
		}

		raw, err = json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode outputs for step %q: %w", name, err)
		}
		var out Outputs
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode outputs for step %q: %w", name, err)
		}
		return out, nil
	})
	return r.Register(NewDefinition(name, unit, opts...))
}

func validate(def *Definition) error {
	if def == nil {
		return fmt.Errorf("step: nil definition")
	}
	if def.Name == "" || def.Name != NormalizeName(def.Name) {
		return fmt.Errorf("step: invalid name %q (must be trimmed lowercase)", def.Name)
	}
	if def.Unit == nil {
		return fmt.Errorf("step %q: no unit", def.Name)
	}
	for _, name := range def.Reportable {
		if !def.Declares(name) {
			return fmt.Errorf("step %q: reportable %q is not a declared output", def.Name, name)
		}
	}
	return nil
}

// NormalizeName trims and lowercases a step name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
