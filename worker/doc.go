// Package worker bounds how many jobs execute at once.
//
// A [Pool] runs one goroutine per launched job and admits at most
// Concurrency of them into execution through a weighted semaphore. Jobs
// beyond the limit wait in FIFO order for a slot. Each launched job is
// tracked by ID so callers can request cooperative cancellation; the
// pool only records the request and wakes a job that is still waiting,
// leaving the job's own state transition to the function it runs.
//
// Stop closes admission immediately. Jobs still waiting for a slot are
// abandoned without running, so their records stay queued and are
// relaunched by the next Start. Running jobs are given until the stop
// context expires and are then cancelled.
package worker
