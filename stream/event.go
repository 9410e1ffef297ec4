// Package stream provides a real-time event broker for moira lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub and serves topics over WebSocket.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobSubmitted EventType = "job.submitted"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"

	// EventJobStatus is a snapshot sent when a client attaches to a job.
	EventJobStatus EventType = "job.status"

	// Step events.
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"

	// Artifact events.
	EventArtifactStored EventType = "artifact.stored"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id" msgpack:"id"`

	// Type identifies the lifecycle event.
	Type EventType `json:"type" msgpack:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts" msgpack:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic" msgpack:"topic"`

	// Final marks the last event of a job. Job streams close after it.
	Final bool `json:"final,omitempty" msgpack:"final,omitempty"`

	// Data is the event-specific payload, always JSON encoded.
	Data json.RawMessage `json:"data" msgpack:"data"`
}

// JobEventData is the payload for job, step and artifact events.
type JobEventData struct {
	JobID       string  `json:"job_id"`
	OwnerID     string  `json:"owner_id,omitempty"`
	State       string  `json:"state"`
	Step        string  `json:"step,omitempty"`
	StepIndex   int     `json:"step_index"`
	TotalSteps  int     `json:"total_steps"`
	Progress    float64 `json:"progress_fraction"`
	ElapsedMs   int64   `json:"elapsed_ms,omitempty"`
	Error       string  `json:"error,omitempty"`
	Artifact    string  `json:"artifact,omitempty"`
	ArtifactLen int64   `json:"artifact_size,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
