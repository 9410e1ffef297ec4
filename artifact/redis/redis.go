// Package redis provides a Redis-backed artifact sink. Each artifact is a
// single string key written with one SET, so replacement is atomic. A
// per-job hash indexes handle metadata for listing.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	sink := redisartifact.New(client, redisartifact.WithTTL(72*time.Hour))
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
)

// Compile-time interface check.
var _ artifact.Sink = (*Sink)(nil)

const keyPrefix = "moira:"

// blobKey returns the key holding artifact bytes: moira:artifact:{job}:{name}
func blobKey(jobID, name string) string {
	return keyPrefix + "artifact:" + jobID + ":" + name
}

// indexKey returns the hash indexing a job's artifact handles.
func indexKey(jobID string) string { return keyPrefix + "artifacts:" + jobID }

// Option configures the Sink.
type Option func(*Sink)

// WithTTL expires artifacts after d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *Sink) { s.ttl = d }
}

// Sink stores artifacts in Redis.
type Sink struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// New creates a Redis artifact sink. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Sink {
	s := &Sink{client: client}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store implements artifact.Sink.
func (s *Sink) Store(ctx context.Context, jobID id.JobID, name string, data []byte) (artifact.Handle, error) {
	if err := artifact.ValidateName(name); err != nil {
		return artifact.Handle{}, err
	}
	h := artifact.NewHandle(jobID, name, data)
	meta, err := json.Marshal(h)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("moira/redis: marshal handle: %w", err)
	}

	jID := jobID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, blobKey(jID, name), data, s.ttl)
	pipe.HSet(ctx, indexKey(jID), name, meta)
	if s.ttl > 0 {
		pipe.Expire(ctx, indexKey(jID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return artifact.Handle{}, fmt.Errorf("moira/redis: store artifact: %w", err)
	}
	return h, nil
}

// Load implements artifact.Sink.
func (s *Sink) Load(ctx context.Context, h artifact.Handle) ([]byte, error) {
	data, err := s.client.Get(ctx, blobKey(h.JobID.String(), h.Name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, moira.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("moira/redis: load artifact: %w", err)
	}
	return data, nil
}

// List implements artifact.Sink.
func (s *Sink) List(ctx context.Context, jobID id.JobID) ([]artifact.Handle, error) {
	vals, err := s.client.HGetAll(ctx, indexKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("moira/redis: list artifacts: %w", err)
	}
	out := make([]artifact.Handle, 0, len(vals))
	for _, raw := range vals {
		var h artifact.Handle
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, fmt.Errorf("moira/redis: decode handle: %w", err)
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
