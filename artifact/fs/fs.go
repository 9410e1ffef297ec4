// Package fs provides a filesystem-backed artifact sink. Artifacts live at
// <root>/<job id>/<name>; writes go to a temporary file in the same
// directory and are renamed into place so readers never see partial data.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
)

// Compile-time interface check.
var _ artifact.Sink = (*Sink)(nil)

const tmpPrefix = ".tmp-"

// Option configures a Sink.
type Option func(*Sink)

// WithPerm sets the file mode for stored artifacts. Default 0o644.
func WithPerm(perm os.FileMode) Option {
	return func(s *Sink) { s.perm = perm }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// Sink stores artifacts under a root directory.
type Sink struct {
	root   string
	perm   os.FileMode
	logger *slog.Logger
}

// New creates a sink rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Sink, error) {
	s := &Sink{root: dir, perm: 0o644, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("moira/fs: create root: %w", err)
	}
	return s, nil
}

// Root returns the sink's root directory.
func (s *Sink) Root() string { return s.root }

// Store implements artifact.Sink.
func (s *Sink) Store(_ context.Context, jobID id.JobID, name string, data []byte) (artifact.Handle, error) {
	if err := artifact.ValidateName(name); err != nil {
		return artifact.Handle{}, err
	}
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return artifact.Handle{}, fmt.Errorf("moira/fs: create job dir: %w", err)
	}
	if err := writeAtomic(dir, name, data, s.perm); err != nil {
		return artifact.Handle{}, fmt.Errorf("moira/fs: store %s/%s: %w", jobID, name, err)
	}
	return artifact.NewHandle(jobID, name, data), nil
}

// Load implements artifact.Sink.
func (s *Sink) Load(_ context.Context, h artifact.Handle) ([]byte, error) {
	if err := artifact.ValidateName(h.Name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.jobDir(h.JobID), h.Name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, moira.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("moira/fs: load %s/%s: %w", h.JobID, h.Name, err)
	}
	return data, nil
}

// List implements artifact.Sink.
func (s *Sink) List(_ context.Context, jobID id.JobID) ([]artifact.Handle, error) {
	entries, err := os.ReadDir(s.jobDir(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("moira/fs: list %s: %w", jobID, err)
	}

	out := make([]artifact.Handle, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.jobDir(jobID), e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable artifact",
				slog.String("job_id", jobID.String()),
				slog.String("name", e.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		h := artifact.NewHandle(jobID, e.Name(), data)
		if info, err := e.Info(); err == nil {
			h.StoredAt = info.ModTime().UTC()
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Sink) jobDir(jobID id.JobID) string {
	return filepath.Join(s.root, jobID.String())
}

func writeAtomic(dir, name string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(dir, tmpPrefix+name+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
