// Package step defines step definitions, the process-wide step registry
// and the YAML step catalog.
//
// A [Definition] pairs a unique name with a declared contract (required
// inputs, optional inputs, outputs, and the subset of outputs that is
// reportable in the job result) and an executable [Unit]. Units are
// invoked with an [Accessor] that exposes exactly the declared inputs and
// lets the step emit binary artifacts.
//
// Registries are populated at startup, either in code with [Registry.Register]
// and [RegisterTyped], or from a catalog document via [Catalog.Register],
// which resolves each entry's runtime (container, script, ...) to a
// [Factory].
package step
