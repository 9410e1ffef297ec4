// Package workflow executes a job's validated plan.
//
// A [Runner] drives one job from queued to a terminal state. Steps run
// strictly in plan order on the caller's goroutine. Before each step the
// cursor is advanced and persisted, so pollers see the active step and
// its progress fraction; after each success the step's declared outputs
// are appended to the job [Context] and its result is persisted. The
// first failure is terminal: the error is recorded with the failing
// step, results of completed steps and all emitted artifacts are kept,
// and nothing is retried.
//
// Cancellation is cooperative and observed only between steps, so a
// cancelled job never leaves a half-merged context behind.
//
// # Job Context
//
// The context is an append-only ledger. Writing a name that already
// exists appends a newer entry rather than overwriting the old one, and
// reads return the newest value. This lets normalization steps publish a
// refined "betas" matrix while the record keeps every intermediate
// value for inspection.
package workflow
