package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

// score orders index members by creation time. Equal scores fall back to
// lexicographic member order, which matches the id tie-break of the SQL
// backends.
func score(j *job.Job) float64 { return float64(j.CreatedAt.UnixMicro()) }

// CreateJob stores the job hash and adds it to every index.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("moira/redis: encode job: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return moira.ErrJobAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldRecord, data,
				fieldState, string(j.State),
				fieldOwner, j.OwnerID,
			)
			z := goredis.Z{Score: score(j), Member: jID}
			pipe.ZAdd(ctx, s.keys.all(), z)
			pipe.ZAdd(ctx, s.keys.owner(j.OwnerID), z)
			pipe.ZAdd(ctx, s.keys.state(j.State), z)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, moira.ErrJobAlreadyExists), errors.Is(err, goredis.TxFailedErr):
		// A failed WATCH means another writer created the key first.
		return moira.ErrJobAlreadyExists
	default:
		return fmt.Errorf("moira/redis: create job: %w", err)
	}
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.HGet(ctx, s.keys.job(jobID.String()), fieldRecord).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, moira.ErrJobNotFound
		}
		return nil, fmt.Errorf("moira/redis: get job: %w", err)
	}
	return decodeJob(data)
}

// UpdateJob replaces a non-terminal job and moves it between state
// indexes. The read-check-write runs under WATCH and is retried when a
// concurrent writer wins.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("moira/redis: encode job: %w", err)
	}

	update := func(tx *goredis.Tx) error {
		vals, err := tx.HMGet(ctx, key, fieldState, fieldOwner).Result()
		if err != nil {
			return err
		}
		curState, ok := vals[0].(string)
		if !ok {
			return moira.ErrJobNotFound
		}
		cur := job.State(curState)
		if cur.IsTerminal() {
			return fmt.Errorf("%w: job %s is %s", moira.ErrInvalidState, jID, cur)
		}
		curOwner, _ := vals[1].(string)

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldRecord, data,
				fieldState, string(j.State),
				fieldOwner, j.OwnerID,
			)
			z := goredis.Z{Score: score(j), Member: jID}
			if cur != j.State {
				pipe.ZRem(ctx, s.keys.state(cur), jID)
				pipe.ZAdd(ctx, s.keys.state(j.State), z)
			}
			if curOwner != j.OwnerID {
				pipe.ZRem(ctx, s.keys.owner(curOwner), jID)
				pipe.ZAdd(ctx, s.keys.owner(j.OwnerID), z)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.client.Watch(ctx, update, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
		s.logger.Debug("job update raced, retrying",
			slog.String("job_id", jID),
			slog.Int("attempt", attempt+1),
		)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, moira.ErrJobNotFound), errors.Is(err, moira.ErrInvalidState):
		return err
	default:
		return fmt.Errorf("moira/redis: update job: %w", err)
	}
}

// ListJobs returns jobs matching opts, oldest first. Single-index queries
// page inside Redis; combined filters page after filtering in process.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	key, exact := s.keys.listIndex(opts)

	start, stop := int64(0), int64(-1)
	if exact {
		start = int64(opts.Offset)
		if opts.Limit > 0 {
			stop = start + int64(opts.Limit) - 1
		}
	}

	ids, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("moira/redis: list jobs: %w", err)
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if exact {
		return jobs, nil
	}

	matched := jobs[:0]
	for _, j := range jobs {
		if opts.Matches(j) {
			matched = append(matched, j)
		}
	}
	return opts.Page(matched), nil
}

// listIndex picks the narrowest index for opts and reports whether the
// index alone satisfies every filter.
func (k keyspace) listIndex(opts job.ListOpts) (string, bool) {
	switch {
	case opts.OwnerID != "" && len(opts.States) == 0:
		return k.owner(opts.OwnerID), true
	case opts.OwnerID != "":
		return k.owner(opts.OwnerID), false
	case len(opts.States) == 1:
		return k.state(opts.States[0]), true
	case len(opts.States) > 1:
		return k.all(), false
	default:
		return k.all(), true
	}
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var (
		n   int64
		err error
	)
	switch {
	case opts.OwnerID != "" && opts.State != "":
		n, err = s.client.ZInterCard(ctx, 0, s.keys.owner(opts.OwnerID), s.keys.state(opts.State)).Result()
	case opts.OwnerID != "":
		n, err = s.client.ZCard(ctx, s.keys.owner(opts.OwnerID)).Result()
	case opts.State != "":
		n, err = s.client.ZCard(ctx, s.keys.state(opts.State)).Result()
	default:
		n, err = s.client.ZCard(ctx, s.keys.all()).Result()
	}
	if err != nil {
		return 0, fmt.Errorf("moira/redis: count jobs: %w", err)
	}
	return n, nil
}

// loadJobs fetches records for ids in one round trip, skipping ids whose
// hash has disappeared.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGet(ctx, s.keys.job(jID), fieldRecord)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("moira/redis: load jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("moira/redis: load jobs: %w", err)
		}
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func decodeJob(data []byte) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("moira/redis: decode job: %w", err)
	}
	if j.StepResults == nil {
		j.StepResults = make(map[string]job.StepResult)
	}
	return &j, nil
}
