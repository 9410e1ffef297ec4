package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/hyunkyoun/moira"
)

// Func executes one job. cancelled reports whether cancellation was
// requested for the job; the function decides where to honor it.
type Func func(ctx context.Context, cancelled func() bool) error

// task is the pool's bookkeeping for one launched job.
type task struct {
	cancel    context.CancelFunc
	wake      context.CancelFunc
	requested atomic.Bool
}

// Pool runs launched jobs with bounded concurrency.
type Pool struct {
	concurrency int
	sem         *semaphore.Weighted
	logger      *slog.Logger

	mu         sync.Mutex
	running    bool
	admit      context.Context
	stopAdmit  context.CancelFunc
	wg         sync.WaitGroup
	activeJobs map[string]*task
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of jobs allowed to execute at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPool creates a worker pool. It admits nothing until Start.
func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		concurrency: 2,
		logger:      logger,
		activeJobs:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(int64(p.concurrency))
	return p
}

// Concurrency returns the execution limit.
func (p *Pool) Concurrency() int { return p.concurrency }

// Start opens admission. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.admit, p.stopAdmit = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))
	return nil
}

// Launch schedules fn for jobID. It returns moira.ErrJobActive if the job
// is already tracked and moira.ErrEngineStopped if the pool is not
// running.
func (p *Pool) Launch(jobID string, fn Func) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return moira.ErrEngineStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	actx, wake := context.WithCancel(p.admit)
	t := &task{cancel: cancel, wake: wake}

	p.activeMu.Lock()
	if _, exists := p.activeJobs[jobID]; exists {
		p.activeMu.Unlock()
		cancel()
		wake()
		return moira.ErrJobActive
	}
	p.activeJobs[jobID] = t
	p.activeMu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, actx, jobID, t, fn)
	return nil
}

func (p *Pool) run(ctx, actx context.Context, jobID string, t *task, fn Func) {
	defer p.wg.Done()
	defer p.untrackJob(jobID)
	defer t.cancel()
	defer t.wake()

	cancelled := t.requested.Load

	if err := p.sem.Acquire(actx, 1); err != nil {
		if !cancelled() {
			// Admission closed by Stop; the record stays queued.
			p.logger.Debug("job abandoned before start", slog.String("job_id", jobID))
			return
		}
		// Woken by a cancel request. fn observes the request before
		// doing any work, so it runs without holding a slot.
		p.execute(ctx, jobID, fn, cancelled)
		return
	}
	defer p.sem.Release(1)

	p.execute(ctx, jobID, fn, cancelled)
}

func (p *Pool) execute(ctx context.Context, jobID string, fn Func, cancelled func() bool) {
	if err := fn(ctx, cancelled); err != nil {
		p.logger.Debug("job execution ended with error",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// RequestCancel records a cancel request for jobID and wakes it if it is
// waiting for a slot. It reports whether the job is tracked.
func (p *Pool) RequestCancel(jobID string) bool {
	p.activeMu.Lock()
	t, ok := p.activeJobs[jobID]
	p.activeMu.Unlock()
	if !ok {
		return false
	}
	t.requested.Store(true)
	t.wake()
	return true
}

// Active reports whether jobID is launched and not yet finished.
func (p *Pool) Active(jobID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeJobs[jobID]
	return ok
}

// ActiveCount returns the number of launched, unfinished jobs.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Stop closes admission and waits for running jobs to finish.
// If the context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopAdmit()
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	return nil
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, t := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		t.cancel()
	}
}
