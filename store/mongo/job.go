package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

var terminalStates = bson.A{
	string(job.StateCompleted),
	string(job.StateFailed),
	string(job.StateCancelled),
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return moira.ErrJobAlreadyExists
		}
		return fmt.Errorf("moira/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, moira.ErrJobNotFound
		}
		return nil, fmt.Errorf("moira/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob replaces a non-terminal job document. The state guard is part
// of the replace filter.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	col := s.db.Collection(colJobs)
	filter := bson.M{
		"_id":   j.ID.String(),
		"state": bson.M{"$nin": terminalStates},
	}

	res, err := col.ReplaceOne(ctx, filter, toJobModel(j))
	if err != nil {
		return fmt.Errorf("moira/mongo: update job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	var cur struct {
		State string `bson:"state"`
	}
	err = col.FindOne(ctx, bson.M{"_id": j.ID.String()},
		options.FindOne().SetProjection(bson.M{"state": 1}),
	).Decode(&cur)
	if err != nil {
		if isNoDocuments(err) {
			return moira.ErrJobNotFound
		}
		return fmt.Errorf("moira/mongo: update job: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s", moira.ErrInvalidState, j.ID, cur.State)
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.OwnerID != "" {
		filter["owner_id"] = opts.OwnerID
	}
	if len(opts.States) > 0 {
		states := make(bson.A, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		filter["state"] = bson.M{"$in": states}
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("moira/mongo: list jobs: %w", err)
	}

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("moira/mongo: list jobs decode: %w", err)
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
	filter := bson.M{}
	if opts.OwnerID != "" {
		filter["owner_id"] = opts.OwnerID
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("moira/mongo: count jobs: %w", err)
	}
	return n, nil
}
