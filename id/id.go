// Package id provides the identifiers moira hands out for jobs, artifacts
// and stream events. They are TypeIDs: a short kind prefix followed by a
// UUIDv7 suffix, so "job_01h2xcejqtf2nbrexx3vqjhp41" sorts by creation
// time and is safe to put in a URL path.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the kind component of an ID.
type Prefix string

const (
	PrefixJob        Prefix = "job"
	PrefixArtifact   Prefix = "art"
	PrefixEvent      Prefix = "evt"
	PrefixSubscriber Prefix = "sub"
)

// ErrEmpty is returned when parsing an empty string.
var ErrEmpty = errors.New("id: empty string")

// ID is a parsed TypeID. The zero value is Nil, which prints as "" and
// is stored as SQL NULL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the zero ID.
var Nil ID

// JobID identifies a submitted job.
type JobID = ID

// New returns a fresh ID of the given kind. An invalid prefix is a
// programming error and panics.
func New(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID        { return New(PrefixJob) }
func NewArtifactID() ID   { return New(PrefixArtifact) }
func NewEventID() ID      { return New(PrefixEvent) }
func NewSubscriberID() ID { return New(PrefixSubscriber) }

// Parse parses any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, ErrEmpty
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseJobID parses s and rejects IDs of any other kind, so a client
// cannot pass an event or artifact ID where a job is expected.
func ParseJobID(s string) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != PrefixJob {
		return Nil, fmt.Errorf("id: %q is a %q id, not a job id", s, got)
	}
	return v, nil
}

// String renders the ID, or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the kind component, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.set }

// MarshalText implements encoding.TextMarshaler. Nil encodes as "".
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. "" decodes to Nil.
func (i *ID) UnmarshalText(b []byte) error {
	return i.assign(string(b))
}

// Value implements driver.Valuer.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner for text columns and NULL.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.assign(v)
	case []byte:
		return i.assign(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}

func (i *ID) assign(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*i = v
	return nil
}
