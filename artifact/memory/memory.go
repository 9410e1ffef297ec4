// Package memory provides an in-memory artifact sink for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
)

// Compile-time interface check.
var _ artifact.Sink = (*Sink)(nil)

type entry struct {
	handle artifact.Handle
	data   []byte
}

// Sink keeps artifacts in process memory.
type Sink struct {
	mu    sync.RWMutex
	blobs map[string]map[string]entry
}

// New returns an empty in-memory sink.
func New() *Sink {
	return &Sink{blobs: make(map[string]map[string]entry)}
}

// Store implements artifact.Sink.
func (s *Sink) Store(_ context.Context, jobID id.JobID, name string, data []byte) (artifact.Handle, error) {
	if err := artifact.ValidateName(name); err != nil {
		return artifact.Handle{}, err
	}
	cp := append([]byte(nil), data...)
	h := artifact.NewHandle(jobID, name, cp)

	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.blobs[jobID.String()]
	if !ok {
		byName = make(map[string]entry)
		s.blobs[jobID.String()] = byName
	}
	byName[name] = entry{handle: h, data: cp}
	return h, nil
}

// Load implements artifact.Sink.
func (s *Sink) Load(_ context.Context, h artifact.Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.blobs[h.JobID.String()][h.Name]
	if !ok {
		return nil, moira.ErrArtifactNotFound
	}
	return append([]byte(nil), e.data...), nil
}

// List implements artifact.Sink.
func (s *Sink) List(_ context.Context, jobID id.JobID) ([]artifact.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.blobs[jobID.String()]
	out := make([]artifact.Handle, 0, len(byName))
	for _, e := range byName {
		out = append(out, e.handle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
