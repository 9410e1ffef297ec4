// Package script runs catalog steps written in JavaScript on goja.
//
// The step body is the inside of a function. Declared inputs are bound to
// the global inputs object, emit(name, text) stores a text artifact, and
// log(msg) writes to the step logger. The returned object becomes the
// step's outputs:
//
//	steps:
//	  - name: basic_statistics
//	    inputs: [betas]
//	    outputs: [summary]
//	    runtime: script
//	    params:
//	      source: |
//	        emit("summary.txt", "n=" + inputs.betas.length);
//	        return { summary: { n: inputs.betas.length } };
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dop251/goja"

	"github.com/hyunkyoun/moira/step"
)

// RuntimeName is the catalog runtime key for script steps.
const RuntimeName = "script"

// Params are the catalog parameters of a script step. Exactly one of
// Source and File must be set.
type Params struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
}

// Unit is a compiled script step. Each Run gets a fresh VM, so a Unit is
// safe for concurrent jobs.
type Unit struct {
	name    string
	program *goja.Program
}

// Factory returns the step.Factory for the script runtime.
func Factory() step.Factory {
	return func(spec step.Spec) (step.Unit, error) {
		var p Params
		if err := spec.DecodeParams(&p); err != nil {
			return nil, err
		}
		src, err := p.source()
		if err != nil {
			return nil, err
		}
		return Compile(spec.Name, src)
	}
}

func (p Params) source() (string, error) {
	switch {
	case p.Source != "" && p.File != "":
		return "", errors.New("set either source or file, not both")
	case p.Source != "":
		return p.Source, nil
	case p.File != "":
		data, err := os.ReadFile(p.File)
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("no script source")
	}
}

// Compile parses src as a function body so scripts can use return.
func Compile(name, src string) (*Unit, error) {
	wrapped := "(function() {\n" + src + "\n})()"
	prog, err := goja.Compile(name+".js", wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	return &Unit{name: name, program: prog}, nil
}

// Run executes the script. Cancelling ctx interrupts the VM.
func (u *Unit) Run(ctx context.Context, in step.Accessor) (step.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	logger := in.Logger()
	if err := bind(ctx, vm, in, logger); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	val, err := vm.RunProgram(u.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, fmt.Errorf("script interrupted: %w", cause)
			}
			return nil, fmt.Errorf("script interrupted: %v", interrupted.Value())
		}
		return nil, fmt.Errorf("script: %w", err)
	}

	return export(val)
}

func bind(ctx context.Context, vm *goja.Runtime, in step.Accessor, logger *slog.Logger) error {
	if err := vm.Set("inputs", in.Inputs()); err != nil {
		return fmt.Errorf("bind inputs: %w", err)
	}
	err := vm.Set("emit", func(name, text string) {
		if _, err := in.Emit(ctx, name, []byte(text)); err != nil {
			panic(vm.NewGoError(err))
		}
	})
	if err != nil {
		return fmt.Errorf("bind emit: %w", err)
	}
	err = vm.Set("log", func(msg string) {
		logger.Info(msg)
	})
	if err != nil {
		return fmt.Errorf("bind log: %w", err)
	}
	return nil
}

// export converts the script's return value into outputs. Returning
// nothing yields no outputs.
func export(val goja.Value) (step.Outputs, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return step.Outputs{}, nil
	}
	m, ok := val.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("script must return an object, got %s", val.ExportType())
	}
	return step.Outputs(m), nil
}
