package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/ext"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.JobSubmitted   = (*Broker)(nil)
	_ ext.JobStarted     = (*Broker)(nil)
	_ ext.JobCompleted   = (*Broker)(nil)
	_ ext.JobFailed      = (*Broker)(nil)
	_ ext.JobCancelled   = (*Broker)(nil)
	_ ext.StepStarted    = (*Broker)(nil)
	_ ext.StepCompleted  = (*Broker)(nil)
	_ ext.StepFailed     = (*Broker)(nil)
	_ ext.ArtifactStored = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

const (
	// DefaultBufferSize is the per-subscriber event buffer.
	DefaultBufferSize = 256

	// DefaultCredits is how many events a new subscriber may receive
	// before it has to grant more.
	DefaultCredits int64 = 1000
)

// Broker turns engine lifecycle hooks into events and fans them out to
// the subscribers of each matching topic. Register it with the engine as
// an extension.
type Broker struct {
	logger *slog.Logger
	topics *TopicRegistry

	mu   sync.Mutex
	subs map[string]*Subscriber
	// retired accumulates drops of subscribers that have gone away.
	retired int64

	published atomic.Int64

	bufferSize int
	credits    int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the credits a new subscriber starts with.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.credits = credits }
}

// NewBroker returns a broker with no subscribers.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		logger:     logger,
		topics:     NewTopicRegistry(),
		subs:       map[string]*Subscriber{},
		bufferSize: DefaultBufferSize,
		credits:    DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a subscriber under subscriberID and attaches it to
// topics. An existing subscriber with the same ID is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.credits)

	b.mu.Lock()
	prev := b.subs[subscriberID]
	b.subs[subscriberID] = sub
	b.mu.Unlock()

	if prev != nil {
		b.retire(prev)
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber detaches a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.mu.Lock()
	sub, ok := b.subs[subscriberID]
	delete(b.subs, subscriberID)
	b.mu.Unlock()

	if ok {
		b.retire(sub)
	}
}

func (b *Broker) retire(sub *Subscriber) {
	b.topics.UnsubscribeAll(sub.ID())
	sub.Close()
	b.mu.Lock()
	b.retired += sub.Dropped()
	b.mu.Unlock()
}

// BrokerStats is a point-in-time view of the broker.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns current subscriber and delivery counts. TotalPublished
// counts deliveries, so one event reaching three subscribers adds three.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	dropped := b.retired
	for _, sub := range b.subs {
		dropped += sub.Dropped()
	}
	n := len(b.subs)
	b.mu.Unlock()

	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: n,
		TotalPublished:  b.published.Load(),
		TotalDropped:    dropped,
	}
}

func (b *Broker) publish(evt *Event, extra ...string) {
	n := b.topics.Broadcast(resolveTopics(evt, extra...), evt)
	b.published.Add(int64(n))
}

// mustMarshal encodes an event payload. Payload types are plain structs,
// so a failure is a programming error.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// jobEvent builds the envelope for a job-scoped event.
func jobEvent(typ EventType, j *job.Job, data JobEventData) *Event {
	data.JobID = j.ID.String()
	data.OwnerID = j.OwnerID
	data.State = string(j.State)
	data.StepIndex = j.StepIndex
	data.TotalSteps = len(j.Plan)
	data.Progress = j.Progress()

	return &Event{
		ID:        id.NewEventID().String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Final:     j.State.IsTerminal(),
		Data:      mustMarshal(data),
	}
}

func (b *Broker) publishJob(typ EventType, j *job.Job, data JobEventData) {
	var extra []string
	if j.OwnerID != "" {
		extra = append(extra, OwnerTopic(j.OwnerID))
	}
	b.publish(jobEvent(typ, j, data), extra...)
}

// StatusEvent returns a snapshot event describing j's current state. It
// is marked final when j is terminal.
func StatusEvent(j *job.Job) *Event {
	data := JobEventData{}
	if j.State == job.StateRunning || j.State == job.StateFailed {
		data.Step = j.CurrentStep()
	}
	if j.Error != nil {
		data.Error = j.Error.String()
	}
	return jobEvent(EventJobStatus, j, data)
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobSubmitted(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobSubmitted, j, JobEventData{})
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobStarted, j, JobEventData{})
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publishJob(EventJobCompleted, j, JobEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	data := JobEventData{Error: jobErr.Error()}
	if j.Error != nil {
		data.Step = j.Error.Step
	}
	b.publishJob(EventJobFailed, j, data)
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobCancelled, j, JobEventData{})
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (b *Broker) OnStepStarted(_ context.Context, j *job.Job, stepName string, _ int) error {
	b.publishJob(EventStepStarted, j, JobEventData{Step: stepName})
	return nil
}

func (b *Broker) OnStepCompleted(_ context.Context, j *job.Job, stepName string, elapsed time.Duration) error {
	b.publishJob(EventStepCompleted, j, JobEventData{Step: stepName, ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, j *job.Job, stepName string, stepErr error) error {
	b.publishJob(EventStepFailed, j, JobEventData{Step: stepName, Error: stepErr.Error()})
	return nil
}

// ── Artifact hooks ──────────────────────────────────

func (b *Broker) OnArtifactStored(_ context.Context, j *job.Job, h artifact.Handle) error {
	b.publishJob(EventArtifactStored, j, JobEventData{
		Step:        j.CurrentStep(),
		Artifact:    h.Name,
		ArtifactLen: h.Size,
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[string]*Subscriber{}
	b.mu.Unlock()

	for _, sub := range subs {
		b.retire(sub)
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}
