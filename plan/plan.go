// Package plan validates externally produced plans against the step
// registry before any job is created.
//
// The planner (an AI model, a UI, a script) supplies an ordered list of
// step names and a mapping from the fields steps understand (beadchip,
// batch, genotype, ...) to the column names of the submitted samplesheet.
// [Adapter.Validate] turns that into a [Plan]: names normalized and
// resolved, the ingestion step first, every declared input satisfiable
// by the seeded context or an earlier step's outputs.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/step"
)

// Seeded context keys for the raw input references.
const (
	KeyDataset     = "dataset"
	KeySamplesheet = "samplesheet"
)

// Input is the planner's output as received by the engine.
type Input struct {
	ColumnMappings map[string]string `json:"column_mappings"`
	StepNames      []string          `json:"step_names"`
}

// Refs are the raw input references a job is submitted with.
type Refs struct {
	Dataset     string
	Samplesheet string
}

// Plan is a validated, executable plan.
type Plan struct {
	Steps          []string
	ColumnMappings map[string]string
	Seed           []job.ContextEntry
}

// Adapter validates plans against a registry.
type Adapter struct {
	registry  *step.Registry
	ingestion string
}

// NewAdapter returns an adapter that requires plans to begin with the
// ingestion step.
func NewAdapter(registry *step.Registry, ingestion string) *Adapter {
	return &Adapter{registry: registry, ingestion: step.NormalizeName(ingestion)}
}

// Ingestion returns the name of the mandatory first step.
func (a *Adapter) Ingestion() string { return a.ingestion }

// Validate checks in against the registry and returns the executable
// plan. It fails with an *InvalidPlanError when a name does not resolve
// or the plan is malformed, and with an *UnsatisfiedDependencyError when
// a step's input is neither seeded nor produced by an earlier step.
// Validating an already validated plan returns the same steps.
func (a *Adapter) Validate(in Input, refs Refs) (*Plan, error) {
	if len(in.StepNames) == 0 {
		return nil, &InvalidPlanError{Reason: "plan has no steps"}
	}
	if _, ok := a.registry.Lookup(a.ingestion); !ok {
		return nil, &InvalidPlanError{Step: a.ingestion, Reason: "ingestion step is not registered", unknown: true}
	}

	steps := make([]string, 0, len(in.StepNames)+1)
	seen := make(map[string]bool, len(in.StepNames)+1)
	steps = append(steps, a.ingestion)
	seen[a.ingestion] = true
	for _, raw := range in.StepNames {
		name := step.NormalizeName(raw)
		if name == a.ingestion {
			continue
		}
		if _, ok := a.registry.Lookup(name); !ok {
			return nil, &InvalidPlanError{Step: raw, Reason: "unknown step", unknown: true}
		}
		if seen[name] {
			return nil, &InvalidPlanError{Step: name, Reason: "step appears more than once"}
		}
		seen[name] = true
		steps = append(steps, name)
	}

	mappings, err := cleanMappings(in.ColumnMappings)
	if err != nil {
		return nil, err
	}

	seed := seedContext(refs, mappings)
	available := make(map[string]bool, len(seed))
	for _, e := range seed {
		available[e.Name] = true
	}
	for i, name := range steps {
		def, _ := a.registry.Lookup(name)
		for _, input := range def.Inputs {
			if !available[input] {
				return nil, &UnsatisfiedDependencyError{Step: name, Index: i, Input: input}
			}
		}
		for _, out := range def.Outputs {
			available[out] = true
		}
	}

	return &Plan{Steps: steps, ColumnMappings: mappings, Seed: seed}, nil
}

// cleanMappings normalizes keys and drops values the planner used to mean
// "no such column".
func cleanMappings(raw map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.TrimSpace(v)
		if key == "" || isBlank(val) {
			continue
		}
		if key == KeyDataset || key == KeySamplesheet {
			return nil, &InvalidPlanError{Reason: fmt.Sprintf("column mapping %q shadows a reserved input", key)}
		}
		out[key] = val
	}
	return out, nil
}

func isBlank(v string) bool {
	switch strings.ToLower(v) {
	case "", "null", "none":
		return true
	}
	return false
}

func seedContext(refs Refs, mappings map[string]string) []job.ContextEntry {
	seed := make([]job.ContextEntry, 0, len(mappings)+2)
	add := func(name string, value any) {
		seed = append(seed, job.ContextEntry{Seq: len(seed), Name: name, Value: value})
	}
	if refs.Dataset != "" {
		add(KeyDataset, refs.Dataset)
	}
	if refs.Samplesheet != "" {
		add(KeySamplesheet, refs.Samplesheet)
	}
	for _, k := range sortedKeys(mappings) {
		add(k, mappings[k])
	}
	return seed
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
