// Package storetest holds the behavioural suite every store.Store backend
// must pass. Backends call Run from their own tests, usually behind the
// integration build tag when a container is needed.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/store"
)

// Factory returns an empty, migrated store. The suite closes nothing;
// factories register their own cleanup with t.Cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores produced by newStore. Each
// subtest gets a fresh store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"RoundTrip", testRoundTrip},
		{"UpdateLifecycle", testUpdateLifecycle},
		{"ListAndCount", testListAndCount},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewJob returns a queued two-step job owned by owner.
func NewJob(owner string) *job.Job {
	return job.New(owner, "s3://bucket/idats", "s3://bucket/sheet.csv",
		[]string{"read_idat_files", "qc"}, map[string]string{"sample": "sample_id"},
		[]job.ContextEntry{{Seq: 1, Name: "dataset_ref", Value: "s3://bucket/idats"}})
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	j := NewJob("alice")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, moira.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() || got.OwnerID != "alice" || got.State != job.StateQueued {
		t.Errorf("GetJob = %+v", got)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, moira.ErrJobNotFound) {
		t.Errorf("GetJob(unknown) = %v, want ErrJobNotFound", err)
	}
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	j := NewJob("alice")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	j.State = job.StateRunning
	j.StartedAt = &now
	j.StepResults["read_idat_files"] = job.StepResult{
		Index:       0,
		Outputs:     map[string]any{"samples": "8"},
		Artifacts:   []string{"manifest.txt"},
		StartedAt:   now,
		CompletedAt: now.Add(time.Second),
	}
	j.PutArtifact(artifact.Handle{
		JobID: j.ID, Name: "manifest.txt", Size: 9,
		Digest: "sha256:abc", ContentType: "text/plain", StoredAt: now,
	})
	j.Context = append(j.Context, job.ContextEntry{Seq: 2, Name: "samples", Value: "8", Step: "read_idat_files"})
	if err := j.Advance(1); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	j.Touch()
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateRunning || got.StepIndex != 1 {
		t.Errorf("state=%q index=%d, want running/1", got.State, got.StepIndex)
	}
	if len(got.Plan) != 2 || got.Plan[1] != "qc" {
		t.Errorf("plan = %v", got.Plan)
	}
	if got.ColumnMappings["sample"] != "sample_id" {
		t.Errorf("column mappings = %v", got.ColumnMappings)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, now)
	}
	res, ok := got.StepResults["read_idat_files"]
	if !ok || res.Outputs["samples"] != "8" || len(res.Artifacts) != 1 {
		t.Errorf("step result = %+v", res)
	}
	h, ok := got.Artifact("manifest.txt")
	if !ok || h.Size != 9 || h.ContentType != "text/plain" {
		t.Errorf("artifact = %+v (found %v)", h, ok)
	}
	if len(got.Context) != 2 || got.Context[1].Step != "read_idat_files" {
		t.Errorf("context = %+v", got.Context)
	}
}

func testUpdateLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	if err := s.UpdateJob(ctx, NewJob("alice")); !errors.Is(err, moira.ErrJobNotFound) {
		t.Fatalf("UpdateJob(unknown) = %v, want ErrJobNotFound", err)
	}

	j := NewJob("alice")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	j.State = job.StateFailed
	j.Error = &job.ErrorDetail{Step: "qc", Index: 1, Message: "boom", At: time.Now().UTC()}
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob(failed): %v", err)
	}

	j.State = job.StateRunning
	if err := s.UpdateJob(ctx, j); !errors.Is(err, moira.ErrInvalidState) {
		t.Errorf("UpdateJob(after terminal) = %v, want ErrInvalidState", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateFailed || got.Error == nil || got.Error.Message != "boom" {
		t.Errorf("stored = state %q error %+v", got.State, got.Error)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	owners := []string{"alice", "bob", "alice", "alice"}
	ids := make([]id.JobID, len(owners))
	for i, owner := range owners {
		j := NewJob(owner)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		j.UpdatedAt = j.CreatedAt
		if i >= 2 {
			j.State = job.StateRunning
		}
		ids[i] = j.ID
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != len(owners) {
		t.Fatalf("len = %d, want %d", len(all), len(owners))
	}
	for i := range all {
		if all[i].ID.String() != ids[i].String() {
			t.Errorf("position %d = %s, want %s", i, all[i].ID, ids[i])
		}
	}

	lists := []struct {
		name string
		opts job.ListOpts
		want []id.JobID
	}{
		{"owner", job.ListOpts{OwnerID: "bob"}, []id.JobID{ids[1]}},
		{"state", job.ListOpts{States: []job.State{job.StateRunning}}, []id.JobID{ids[2], ids[3]}},
		{"owner and states", job.ListOpts{OwnerID: "alice", States: []job.State{job.StateQueued, job.StateFailed}}, []id.JobID{ids[0]}},
		{"page", job.ListOpts{Offset: 1, Limit: 2}, []id.JobID{ids[1], ids[2]}},
		{"past end", job.ListOpts{Offset: 10}, nil},
	}
	for _, tt := range lists {
		t.Run("list "+tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID.String() != tt.want[i].String() {
					t.Errorf("position %d = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}

	counts := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 4},
		{"owner", job.CountOpts{OwnerID: "alice"}, 3},
		{"state", job.CountOpts{State: job.StateQueued}, 2},
		{"owner and state", job.CountOpts{OwnerID: "alice", State: job.StateRunning}, 2},
		{"none", job.CountOpts{OwnerID: "carol"}, 0},
	}
	for _, tt := range counts {
		t.Run("count "+tt.name, func(t *testing.T) {
			n, err := s.CountJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("CountJobs: %v", err)
			}
			if n != tt.want {
				t.Errorf("CountJobs = %d, want %d", n, tt.want)
			}
		})
	}
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	// Migrate must be safe to repeat.
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}
