// Package artifact defines the artifact sink: durable storage for named
// binary outputs (plots, tables, summaries) produced by job steps.
//
// An artifact is addressed by (job id, name). Writing the same address
// twice replaces the bytes atomically; readers observe either the old or
// the new content, never a partial write.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hyunkyoun/moira/id"
)

// ErrInvalidName is returned when an artifact name cannot be used as a
// storage key.
var ErrInvalidName = errors.New("moira/artifact: invalid artifact name")

// Handle references a stored artifact.
type Handle struct {
	JobID       id.JobID  `json:"job_id" bson:"job_id"`
	Name        string    `json:"name" bson:"name"`
	Size        int64     `json:"size" bson:"size"`
	Digest      string    `json:"digest" bson:"digest"`
	ContentType string    `json:"content_type" bson:"content_type"`
	StoredAt    time.Time `json:"stored_at" bson:"stored_at"`
}

// Sink stores and loads artifacts.
type Sink interface {
	// Store writes data under (jobID, name), replacing any previous
	// content atomically, and returns the handle.
	Store(ctx context.Context, jobID id.JobID, name string, data []byte) (Handle, error)

	// Load returns the bytes referenced by h. It returns
	// moira.ErrArtifactNotFound if nothing is stored under the handle's
	// address.
	Load(ctx context.Context, h Handle) ([]byte, error)

	// List returns the handles of all artifacts stored for a job,
	// ordered by name.
	List(ctx context.Context, jobID id.JobID) ([]Handle, error)
}

// ValidateName reports whether name can be used as an artifact name.
// Names are single path elements: no separators, no "." or "..", and no
// leading dot (reserved for in-flight temporary files).
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return nil
}

// NewHandle builds the handle for data stored under (jobID, name).
func NewHandle(jobID id.JobID, name string, data []byte) Handle {
	sum := sha256.Sum256(data)
	return Handle{
		JobID:       jobID,
		Name:        name,
		Size:        int64(len(data)),
		Digest:      "sha256:" + hex.EncodeToString(sum[:]),
		ContentType: ContentType(name, data),
		StoredAt:    time.Now().UTC(),
	}
}

// ContentType guesses the media type from the name's extension and falls
// back to sniffing the content.
func ContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
