// Package job defines the job record, its state machine and the store
// contract for persisting it.
//
// # Job Record
//
// A [Job] is one execution of a validated plan for one owner. It embeds
// [moira.Entity] for timestamps and progresses through:
//
//	queued → running → completed
//	queued → running → failed
//	queued → running → cancelled
//	queued → cancelled
//	queued → failed          (engine stopped before the job started)
//
// While running, StepIndex is the cursor into Plan: steps before it are
// done, the step at it is active, steps after it are pending. StepIndex
// only moves forward and never exceeds len(Plan). Once a job reaches a
// terminal state the record never changes again.
//
// Fields of note:
//   - Context: the append-only ledger of values produced for the job,
//     seeded with column mappings and input references
//   - StepResults: per-step outputs, keyed by step name
//   - Artifacts: handles appended as soon as a step emits them, kept even
//     when a later step fails
//   - Error: the failing step and its cause
//
// # Store
//
// [Store] is implemented by every backend in store/*. UpdateJob must refuse
// to modify a record that is already terminal.
package job
