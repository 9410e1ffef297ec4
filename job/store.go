package job

import (
	"context"

	"github.com/hyunkyoun/moira/id"
)

// ListOpts controls pagination and filtering for job list queries.
// Results are ordered by creation time, oldest first.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// OwnerID filters by owner. Empty means all owners.
	OwnerID string
	// States filters by state. Empty means all states.
	States []State
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// OwnerID filters by owner. Empty means all owners.
	OwnerID string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for job records.
type Store interface {
	// CreateJob persists a new job. It returns moira.ErrJobAlreadyExists
	// if a record with the same ID exists.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. It returns moira.ErrJobNotFound for
	// unknown IDs.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob replaces an existing job record. It returns
	// moira.ErrJobNotFound for unknown IDs and moira.ErrInvalidState when
	// the stored record is already terminal.
	UpdateJob(ctx context.Context, j *Job) error

	// ListJobs returns jobs matching opts.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}

// Matches reports whether j passes the filters in opts. Backends that
// filter in process use it to stay consistent with SQL backends.
func (opts ListOpts) Matches(j *Job) bool {
	if opts.OwnerID != "" && j.OwnerID != opts.OwnerID {
		return false
	}
	if len(opts.States) == 0 {
		return true
	}
	for _, s := range opts.States {
		if j.State == s {
			return true
		}
	}
	return false
}

// Page applies Offset and Limit to an already ordered slice.
func (opts ListOpts) Page(jobs []*Job) []*Job {
	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs
}

// Matches reports whether j passes the filters in opts.
func (opts CountOpts) Matches(j *Job) bool {
	if opts.OwnerID != "" && j.OwnerID != opts.OwnerID {
		return false
	}
	return opts.State == "" || j.State == opts.State
}
