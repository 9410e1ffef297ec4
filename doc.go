// Package moira is a workflow orchestration engine for multi-step
// methylation analyses. It turns an externally produced plan (an ordered
// list of step names plus column mappings) into a validated, durable,
// observable background job.
//
// Moira is a library first. Import it, configure a job store and an
// artifact sink, register the steps your deployment can run, and submit
// jobs through the engine package.
//
// # Quick Start
//
//	m, err := moira.New(
//	    moira.WithStore(pgStore),
//	    moira.WithConcurrency(2),
//	)
//	eng, err := engine.Build(m,
//	    engine.WithRegistry(reg),
//	    engine.WithArtifactSink(fsSink),
//	)
//	j, err := eng.Submit(ctx, engine.SubmitRequest{...})
//
// # Architecture
//
// Each subsystem (job, step, plan, workflow, artifact) defines its own
// interfaces. The engine package sits above them and wires a single
// store backend, an artifact sink, the step registry and the extension
// registry together. Steps within a job run strictly in plan order; jobs
// run concurrently on bounded background tasks.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package moira
