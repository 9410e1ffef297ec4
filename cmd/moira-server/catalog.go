package main

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/hyunkyoun/moira/step"
	"github.com/hyunkyoun/moira/steps/container"
	"github.com/hyunkyoun/moira/steps/script"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// loadCatalog returns the catalog at path, or the built-in one.
func loadCatalog(cfg CatalogConfig) (*step.Catalog, error) {
	if cfg.Path == "" {
		return step.ParseCatalog(defaultCatalog)
	}
	return step.LoadCatalogFile(cfg.Path)
}

// usesRuntime reports whether any catalog entry runs on the named runtime.
func usesRuntime(cat *step.Catalog, name string) bool {
	for _, s := range cat.Steps {
		if s.Runtime == name {
			return true
		}
	}
	return false
}

// runtimes returns the step factories the catalog needs. The Docker
// client is only created when a container step is declared.
func runtimes(cat *step.Catalog, cfg ContainerConfig, logger *slog.Logger) (map[string]step.Factory, error) {
	factories := map[string]step.Factory{
		script.RuntimeName: script.Factory(),
	}
	if !usesRuntime(cat, container.RuntimeName) {
		return factories, nil
	}

	opts := []container.Option{
		container.WithLogger(logger.With(slog.String("runtime", container.RuntimeName))),
		container.WithLogTail(cfg.LogTail),
	}
	if cfg.Network != "" {
		opts = append(opts, container.WithNetwork(cfg.Network))
	}
	rt, err := container.NewFromEnv(cfg.WorkDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("container runtime: %w", err)
	}
	factories[container.RuntimeName] = rt.Factory()
	return factories, nil
}

// buildRegistry loads the catalog into a fresh registry.
func buildRegistry(cat *step.Catalog, factories map[string]step.Factory) (*step.Registry, error) {
	reg := step.NewRegistry()
	if err := cat.Register(reg, factories); err != nil {
		return nil, fmt.Errorf("register catalog: %w", err)
	}
	return reg, nil
}
