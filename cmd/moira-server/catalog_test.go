package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/plan"
	"github.com/hyunkyoun/moira/step"
	"github.com/hyunkyoun/moira/steps/container"
	"github.com/hyunkyoun/moira/steps/script"
)

// stubFactories stands in for runtimes that need external services.
func stubFactories() map[string]step.Factory {
	stub := func(step.Spec) (step.Unit, error) {
		return step.UnitFunc(func(context.Context, step.Accessor) (step.Outputs, error) {
			return step.Outputs{}, nil
		}), nil
	}
	return map[string]step.Factory{
		container.RuntimeName: stub,
		script.RuntimeName:    script.Factory(),
	}
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := loadCatalog(CatalogConfig{})
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	reg, err := buildRegistry(cat, stubFactories())
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}

	want := []string{
		"read_idat_files", "quality_control", "combat_normalization", "basic_statistics",
		"perform_pca", "create_heatmap", "differential_analysis", "create_volcano_plot",
	}
	for _, name := range want {
		def, ok := reg.Lookup(name)
		if !ok {
			t.Errorf("step %q not registered", name)
			continue
		}
		if def.Runtime != container.RuntimeName {
			t.Errorf("step %q runtime = %q", name, def.Runtime)
		}
		if def.Timeout <= 0 {
			t.Errorf("step %q has no timeout", name)
		}
	}
	if n := len(reg.Names()); n != len(want) {
		t.Errorf("registered %d steps, want %d", n, len(want))
	}
}

func TestDefaultCatalogPlans(t *testing.T) {
	cat, err := loadCatalog(CatalogConfig{})
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	reg, err := buildRegistry(cat, stubFactories())
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	adapter := plan.NewAdapter(reg, "read_idat_files")
	refs := plan.Refs{Dataset: "/data/idats", Samplesheet: "/data/samplesheet.csv"}

	p, err := adapter.Validate(plan.Input{
		StepNames: []string{
			"quality_control", "combat_normalization", "basic_statistics", "perform_pca",
			"create_heatmap", "differential_analysis", "create_volcano_plot",
		},
		ColumnMappings: map[string]string{"batch": "Slide", "genotype": "Genotype", "tissue": "none"},
	}, refs)
	if err != nil {
		t.Fatalf("Validate(full pipeline): %v", err)
	}
	if len(p.Steps) != 8 || p.Steps[0] != "read_idat_files" {
		t.Errorf("steps = %v", p.Steps)
	}
	if _, ok := p.ColumnMappings["tissue"]; ok {
		t.Errorf("blank tissue mapping kept: %v", p.ColumnMappings)
	}

	_, err = adapter.Validate(plan.Input{StepNames: []string{"quality_control"}}, plan.Refs{})
	if !errors.Is(err, moira.ErrUnsatisfiedDependency) {
		t.Errorf("Validate(no dataset) = %v, want ErrUnsatisfiedDependency", err)
	}
}

func TestCatalogFromFileWithoutContainers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	err := os.WriteFile(path, []byte(`
steps:
  - name: read_idat_files
    inputs: [dataset]
    outputs: [n_samples]
    reportable: [n_samples]
    runtime: script
    params:
      source: |
        return { n_samples: 4 };
`), 0o600)
	if err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cat, err := loadCatalog(CatalogConfig{Path: path})
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if usesRuntime(cat, container.RuntimeName) {
		t.Fatal("script catalog reported container steps")
	}

	// No Docker client is created for a script-only catalog.
	factories, err := runtimes(cat, DefaultConfig().Container, discardLogger())
	if err != nil {
		t.Fatalf("runtimes: %v", err)
	}
	if _, ok := factories[container.RuntimeName]; ok {
		t.Error("container runtime built for a script-only catalog")
	}
	if _, err := buildRegistry(cat, factories); err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
}

func TestCatalogUnknownRuntime(t *testing.T) {
	cat, err := step.ParseCatalog([]byte("steps:\n  - name: x\n    runtime: wasm\n"))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if _, err := buildRegistry(cat, stubFactories()); err == nil {
		t.Fatal("expected error for unknown runtime")
	}
}
