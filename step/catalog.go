package step

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog is a declarative list of steps, usually loaded from YAML:
//
//	steps:
//	  - name: quality_control
//	    inputs: [betas, detection_p]
//	    outputs: [betas, qc_summary]
//	    reportable: [qc_summary]
//	    timeout: 20m
//	    runtime: container
//	    params:
//	      image: ghcr.io/example/moira-r:latest
//	      command: [Rscript, /opt/moira/quality_control.R]
type Catalog struct {
	Steps []Spec `yaml:"steps"`
}

// Spec is one catalog entry.
type Spec struct {
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	Inputs         []string      `yaml:"inputs"`
	OptionalInputs []string      `yaml:"optional_inputs"`
	Outputs        []string      `yaml:"outputs"`
	Reportable     []string      `yaml:"reportable"`
	Timeout        time.Duration `yaml:"timeout"`
	Runtime        string        `yaml:"runtime"`
	Params         yaml.Node     `yaml:"params"`
}

// DecodeParams decodes the runtime parameters into v.
func (s Spec) DecodeParams(v any) error {
	if s.Params.Kind == 0 {
		return nil
	}
	if err := s.Params.Decode(v); err != nil {
		return fmt.Errorf("step %q: decode %s params: %w", s.Name, s.Runtime, err)
	}
	return nil
}

// Factory builds the executable unit for a catalog entry.
type Factory func(spec Spec) (Unit, error)

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(data))
}

// LoadCatalog decodes a catalog from r. Unknown fields are rejected.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("step: decode catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("step: open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Register builds a unit for every entry using the factory named by its
// runtime and registers the resulting definitions. It stops at the first
// error; definitions registered before it stay registered.
func (c *Catalog) Register(r *Registry, runtimes map[string]Factory) error {
	for _, spec := range c.Steps {
		factory, ok := runtimes[spec.Runtime]
		if !ok {
			return fmt.Errorf("step %q: unknown runtime %q", spec.Name, spec.Runtime)
		}
		unit, err := factory(spec)
		if err != nil {
			return fmt.Errorf("step %q: build %s unit: %w", spec.Name, spec.Runtime, err)
		}
		def := &Definition{
			Name:           NormalizeName(spec.Name),
			Description:    spec.Description,
			Inputs:         spec.Inputs,
			OptionalInputs: spec.OptionalInputs,
			Outputs:        spec.Outputs,
			Reportable:     spec.Reportable,
			Timeout:        spec.Timeout,
			Runtime:        spec.Runtime,
			Unit:           unit,
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
