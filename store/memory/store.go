// Package memory keeps jobs in process memory. Records are cloned on the
// way in and out, so callers never share state with the store.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

var _ job.Store = (*Store)(nil)

// Store is a concurrency-safe in-memory job store. Nothing survives a
// restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns an empty store.
func New() *Store {
	return &Store{jobs: map[string]*job.Job{}}
}

func (m *Store) Migrate(context.Context) error { return nil }
func (m *Store) Ping(context.Context) error    { return nil }
func (m *Store) Close() error                  { return nil }

// CreateJob stores a copy of j.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.jobs[j.ID.String()]; dup {
		return moira.ErrJobAlreadyExists
	}
	m.jobs[j.ID.String()] = j.Clone()
	return nil
}

// GetJob returns a copy of the stored job.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if j, ok := m.jobs[jobID.String()]; ok {
		return j.Clone(), nil
	}
	return nil, moira.ErrJobNotFound
}

// UpdateJob replaces the stored job unless it has already finished.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[j.ID.String()]
	switch {
	case !ok:
		return moira.ErrJobNotFound
	case cur.State.IsTerminal():
		return fmt.Errorf("%w: job %s is %s", moira.ErrInvalidState, j.ID, cur.State)
	}
	m.jobs[j.ID.String()] = j.Clone()
	return nil
}

// ListJobs returns matching jobs ordered by creation time, then ID.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	var out []*job.Job
	for _, j := range m.jobs {
		if opts.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *job.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return opts.Page(out), nil
}

// CountJobs counts matching jobs.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Matches(j) {
			n++
		}
	}
	return n, nil
}
