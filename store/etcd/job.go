package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

// CreateJob writes the job only if its key has never existed.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	key := s.jobKey(j.ID.String())
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("moira/etcd: encode job: %w", err)
	}

	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("moira/etcd: create job: %w", err)
	}
	if !resp.Succeeded {
		return moira.ErrJobAlreadyExists
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, _, err := s.get(ctx, s.jobKey(jobID.String()))
	return j, err
}

// UpdateJob replaces a non-terminal job. The write is conditioned on the
// revision that was checked, and retried when another writer got there
// first.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := s.jobKey(j.ID.String())
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("moira/etcd: encode job: %w", err)
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		cur, rev, err := s.get(ctx, key)
		if err != nil {
			return err
		}
		if cur.State.IsTerminal() {
			return fmt.Errorf("%w: job %s is %s", moira.ErrInvalidState, j.ID, cur.State)
		}

		resp, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		if err != nil {
			return fmt.Errorf("moira/etcd: update job: %w", err)
		}
		if resp.Succeeded {
			return nil
		}
		s.logger.Debug("job update raced, retrying",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("moira/etcd: update job %s: too many concurrent writers", j.ID)
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, j := range all {
		if opts.Matches(j) {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.Before(matched[b].CreatedAt)
		}
		return matched[a].ID.String() < matched[b].ID.String()
	})
	return opts.Page(matched), nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts == (job.CountOpts{}) {
		resp, err := s.client.Get(ctx, s.jobsPrefix(), clientv3.WithPrefix(), clientv3.WithCountOnly())
		if err != nil {
			return 0, fmt.Errorf("moira/etcd: count jobs: %w", err)
		}
		return resp.Count, nil
	}

	all, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, j := range all {
		if opts.Matches(j) {
			n++
		}
	}
	return n, nil
}

// get returns the job at key and the revision it was last modified at.
func (s *Store) get(ctx context.Context, key string) (*job.Job, int64, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("moira/etcd: get job: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, moira.ErrJobNotFound
	}
	kv := resp.Kvs[0]
	j, err := decodeJob(kv.Value)
	if err != nil {
		return nil, 0, err
	}
	return j, kv.ModRevision, nil
}

func (s *Store) scan(ctx context.Context) ([]*job.Job, error) {
	resp, err := s.client.Get(ctx, s.jobsPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("moira/etcd: list jobs: %w", err)
	}
	jobs := make([]*job.Job, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		j, err := decodeJob(kv.Value)
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
		return nil, fmt.Errorf("moira/etcd: decode job: %w", err)
	}
	if j.StepResults == nil {
		j.StepResults = make(map[string]job.StepResult)
	}
	return &j, nil
}
