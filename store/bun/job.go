package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

var terminalStates = []string{
	string(job.StateCompleted),
	string(job.StateFailed),
	string(job.StateCancelled),
}

// wrapErr maps driver errors onto the store's sentinel errors. pgdriver
// reports the SQLSTATE in the 'C' field; 23505 is unique_violation.
func wrapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return moira.ErrJobNotFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
		return moira.ErrJobAlreadyExists
	}
	return fmt.Errorf("moira/bun: %s: %w", op, err)
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		return wrapErr("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return fromJobModel(m)
}

// UpdateJob replaces a non-terminal job record.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.NewUpdate().Model(toJobModel(j)).
		WherePK().
		Where("state NOT IN (?)", bun.In(terminalStates)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("moira/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}

	var state string
	err = s.db.NewSelect().Model((*jobModel)(nil)).
		Column("state").
		Where("id = ?", j.ID.String()).
		Scan(ctx, &state)
	if err != nil {
		return wrapErr("update job", err)
	}
	return fmt.Errorf("%w: job %s is %s", moira.ErrInvalidState, j.ID, state)
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.OwnerID != "" {
		q = q.Where("owner_id = ?", opts.OwnerID)
	}
	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		q = q.Where("state IN (?)", bun.In(states))
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("moira/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))
	if opts.OwnerID != "" {
		q = q.Where("owner_id = ?", opts.OwnerID)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("moira/bun: count jobs: %w", err)
	}
	return int64(n), nil
}
