package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

const jobColumns = `
	id, owner_id, dataset_ref, samplesheet_ref, state, plan, step_index,
	column_mappings, step_results, result, artifacts, context, error,
	resubmitted_from, started_at, completed_at, created_at, updated_at`

// terminalStates is the SQL list matching job.State.IsTerminal.
const terminalStates = `('completed', 'failed', 'cancelled')`

// wrapErr maps pgx errors onto the store sentinels. SQLSTATE 23505 is
// unique_violation.
func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return moira.ErrJobNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return moira.ErrJobAlreadyExists
	}
	return fmt.Errorf("moira/postgres: %s: %w", op, err)
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	row, err := toRow(j)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO moira_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18
		)`,
		row.args()...,
	)
	if err != nil {
		return wrapErr("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM moira_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return j, nil
}

// UpdateJob replaces a non-terminal job record. The terminal guard is part
// of the UPDATE so a concurrent finisher cannot be overwritten.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	row, err := toRow(j)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE moira_jobs SET
			owner_id = $2, dataset_ref = $3, samplesheet_ref = $4, state = $5,
			plan = $6, step_index = $7, column_mappings = $8, step_results = $9,
			result = $10, artifacts = $11, context = $12, error = $13,
			resubmitted_from = $14, started_at = $15, completed_at = $16,
			created_at = $17, updated_at = $18
		WHERE id = $1 AND state NOT IN `+terminalStates,
		row.args()...,
	)
	if err != nil {
		return fmt.Errorf("moira/postgres: update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var state string
	err = s.pool.QueryRow(ctx, `SELECT state FROM moira_jobs WHERE id = $1`, j.ID.String()).Scan(&state)
	if err != nil {
		return wrapErr("update job", err)
	}
	return fmt.Errorf("%w: job %s is %s", moira.ErrInvalidState, j.ID, state)
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var w where
	if opts.OwnerID != "" {
		w.add("owner_id = ", opts.OwnerID)
	}
	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		w.addRaw("state = ANY(" + w.next(states) + ")")
	}

	query := `SELECT ` + jobColumns + ` FROM moira_jobs` + w.sql() + ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		query += " LIMIT " + w.next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + w.next(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("moira/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*job.Job, error) {
		return scanJob(r)
	})
	if err != nil {
		return nil, fmt.Errorf("moira/postgres: list jobs: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var w where
	if opts.OwnerID != "" {
		w.add("owner_id = ", opts.OwnerID)
	}
	if opts.State != "" {
		w.add("state = ", string(opts.State))
	}

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM moira_jobs`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("moira/postgres: count jobs: %w", err)
	}
	return n, nil
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

// next appends v to the argument list and returns its placeholder.
func (w *where) next(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(prefix string, v any) { w.conds = append(w.conds, prefix+w.next(v)) }

func (w *where) addRaw(cond string) { w.conds = append(w.conds, cond) }

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
