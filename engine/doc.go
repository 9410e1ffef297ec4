// Package engine wires all moira subsystems together and provides the
// primary application-level API for submitting, observing and
// controlling jobs.
//
// The engine package exists to break a fundamental import cycle: the root
// moira package defines Entity and the sentinel errors (imported by job,
// step, plan, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	o, err := moira.New(
//	    moira.WithStore(pgStore),
//	    moira.WithConcurrency(4),
//	)
//
//	eng, err := engine.Build(o,
//	    engine.WithRegistry(steps),
//	    engine.WithArtifactSink(fs.New("/var/lib/moira/artifacts")),
//	    engine.WithExtension(broker),
//	)
//
// # Submitting Work
//
//	j, err := eng.Submit(ctx, engine.SubmitRequest{
//	    DatasetRef:     "s3://lab/run-42/idats",
//	    SamplesheetRef: "s3://lab/run-42/samplesheet.csv",
//	    Plan:           plannerOutput,
//	})
//
// Submit validates the plan, persists a queued record and returns. The
// job runs on the worker pool once the engine is started; at most
// Config.Concurrency jobs execute at once.
//
// # Observing Work
//
// Status, Result, Artifact and ListJobs are read-only. When the context
// carries an owner (see the scope package) they refuse jobs owned by
// someone else with moira.ErrForbidden.
//
// # Lifecycle
//
//	if err := o.Start(ctx); err != nil { ... } // recovers unfinished jobs
//	defer o.Stop(ctx)                          // drains the pool, closes the store
package engine
