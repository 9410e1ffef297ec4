package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testJob() *job.Job {
	return job.New("alice", "dataset.zip", "samples.csv", []string{"read_idat_files", "quality_control"}, nil, nil)
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-1", TopicJobs)

	evt := &Event{
		Type:      EventJobSubmitted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-123"),
		Data:      json.RawMessage(`{"job_id":"job-123"}`),
	}
	b.publish(evt)

	if received := receive(t, sub); received.Type != EventJobSubmitted {
		t.Errorf("Type = %q, want %q", received.Type, EventJobSubmitted)
	}
}

func TestBrokerJobTopicIsolation(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob()
	other := testJob()

	sub := b.Subscribe("job-sub", JobTopic(j.ID.String()))

	_ = b.OnJobSubmitted(context.Background(), other)
	_ = b.OnJobSubmitted(context.Background(), j)

	evt := receive(t, sub)
	var data JobEventData
	if err := evt.Decode(&data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if data.JobID != j.ID.String() {
		t.Errorf("JobID = %q, want %q", data.JobID, j.ID)
	}

	select {
	case <-sub.C():
		t.Fatal("should not receive event for a different job")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerOwnerTopic(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("owner-sub", OwnerTopic("alice"))

	j := testJob()
	_ = b.OnStepStarted(context.Background(), j, "read_idat_files", 0)

	evt := receive(t, sub)
	if evt.Type != EventStepStarted {
		t.Errorf("Type = %q, want %q", evt.Type, EventStepStarted)
	}
	var data JobEventData
	if err := evt.Decode(&data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if data.Step != "read_idat_files" || data.OwnerID != "alice" || data.TotalSteps != 2 {
		t.Errorf("unexpected payload: %+v", data)
	}
}

func TestBrokerHooksMarkTerminalEventsFinal(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob()
	sub := b.Subscribe("final-sub", JobTopic(j.ID.String()))
	ctx := context.Background()

	j.State = job.StateRunning
	_ = b.OnJobStarted(ctx, j)
	_ = b.OnArtifactStored(ctx, j, artifact.Handle{JobID: j.ID, Name: "qc.png", Size: 42})
	_ = b.OnStepFailed(ctx, j, "read_idat_files", errors.New("boom"))
	j.State = job.StateFailed
	j.Error = &job.ErrorDetail{Step: "read_idat_files", Message: "boom"}
	_ = b.OnJobFailed(ctx, j, errors.New("boom"))

	want := []EventType{EventJobStarted, EventArtifactStored, EventStepFailed, EventJobFailed}
	for i, typ := range want {
		evt := receive(t, sub)
		if evt.Type != typ {
			t.Fatalf("event %d = %q, want %q", i, evt.Type, typ)
		}
		if evt.ID == "" {
			t.Errorf("event %d has no id", i)
		}
		if final := i == len(want)-1; evt.Final != final {
			t.Errorf("event %d Final = %v, want %v", i, evt.Final, final)
		}
	}
}

func TestStatusEvent(t *testing.T) {
	t.Parallel()

	j := testJob()
	if evt := StatusEvent(j); evt.Final || evt.Type != EventJobStatus {
		t.Errorf("queued snapshot = %+v, want non-final job.status", evt)
	}

	j.State = job.StateCompleted
	evt := StatusEvent(j)
	if !evt.Final {
		t.Error("completed snapshot should be final")
	}
	var data JobEventData
	if err := evt.Decode(&data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if data.Progress != 1 {
		t.Errorf("Progress = %v, want 1", data.Progress)
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-rm", TopicFirehose)

	b.RemoveSubscriber("sub-rm")

	b.publish(&Event{
		Type:      EventJobSubmitted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("j1"),
		Data:      json.RawMessage(`{}`),
	})

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("channel should be closed after RemoveSubscriber")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel was not closed")
	}
}

func TestBrokerShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicJobs)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after shutdown")
	}
	if stats := b.Stats(); stats.SubscriberCount != 0 || stats.TopicCount != 0 {
		t.Errorf("stats after shutdown = %+v", stats)
	}

	// Publishing after shutdown must not panic.
	_ = b.OnJobSubmitted(context.Background(), testJob())
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	_ = b.Subscribe("s1", TopicJobs)
	_ = b.Subscribe("s2", OwnerTopic("alice"), TopicFirehose)

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount != 3 {
		t.Errorf("TopicCount = %d, want 3", stats.TopicCount)
	}
}

func TestSubscriberCredits(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("credit-sub", 10, 2)

	evt := &Event{Type: EventJobSubmitted, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	if !sub.send(evt) {
		t.Fatal("first send should succeed")
	}
	if !sub.send(evt) {
		t.Fatal("second send should succeed")
	}

	// No credits left.
	if sub.send(evt) {
		t.Fatal("third send should fail (no credits)")
	}

	sub.AddCredits(5)
	if sub.Credits() != 5 {
		t.Errorf("Credits = %d, want 5", sub.Credits())
	}

	if !sub.send(evt) {
		t.Fatal("send after credit replenishment should succeed")
	}
}

func TestSubscriberSendAfterClose(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("closed-sub", 10, 10)
	sub.Close()
	sub.Close()

	if sub.send(&Event{Type: EventJobSubmitted}) {
		t.Fatal("send to a closed subscriber should report false")
	}
}

func TestSubscriberOnly(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("only-sub", 10, 100)
	sub.Only(EventJobFailed)

	if sub.send(&Event{Type: EventJobCompleted, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}) {
		t.Fatal("completed event should be filtered out")
	}
	if !sub.send(&Event{Type: EventJobFailed, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}) {
		t.Fatal("failed event should pass filter")
	}
	if sub.Dropped() != 0 {
		t.Errorf("Dropped = %d, filtered events are not drops", sub.Dropped())
	}

	sub.Only()
	if !sub.send(&Event{Type: EventJobCompleted, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}) {
		t.Fatal("completed event should pass once the filter is lifted")
	}
}

func TestSubscriberFinalIgnoresCredits(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("final-sub", 2, 0)

	if sub.send(&Event{Type: EventStepStarted}) {
		t.Fatal("non-final send without credits should fail")
	}
	if !sub.send(&Event{Type: EventJobCompleted, Final: true}) {
		t.Fatal("final event should be delivered without credits")
	}
	if sub.Credits() != 0 {
		t.Errorf("Credits = %d, final events must not be charged", sub.Credits())
	}

	// Fill the buffer, then a final event has nowhere to go.
	sub.AddCredits(5)
	sub.send(&Event{Type: EventStepStarted})
	if sub.send(&Event{Type: EventJobFailed, Final: true}) {
		t.Fatal("final event should not fit in a full buffer")
	}
	if sub.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", sub.Dropped())
	}
	if sub.Credits() != 4 {
		t.Errorf("Credits = %d, want 4", sub.Credits())
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		valid bool
	}{
		{TopicJobs, true},
		{TopicFirehose, true},
		{"job:job-123", true},
		{"owner:alice", true},
		{"workflow:run-abc", false},
		{"invalid", false},
		{"job:", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.valid && err != nil {
				t.Errorf("ValidateTopic(%q) returned error: %v", tt.topic, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTopic(%q) should return error", tt.topic)
			}
		})
	}
}

func TestTopicRegistry(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()

	sub1 := NewSubscriber("s1", 10, 100)
	sub2 := NewSubscriber("s2", 10, 100)

	tr.Subscribe("topic-a", sub1)
	tr.Subscribe("topic-a", sub2)
	tr.Subscribe("topic-b", sub1)

	if tr.TopicCount() != 2 {
		t.Errorf("TopicCount = %d, want 2", tr.TopicCount())
	}
	if tr.SubscriberCount("topic-a") != 2 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 2", tr.SubscriberCount("topic-a"))
	}

	tr.Unsubscribe("topic-a", "s2")
	if tr.SubscriberCount("topic-a") != 1 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 1", tr.SubscriberCount("topic-a"))
	}

	tr.UnsubscribeAll("s1")
	if tr.TopicCount() != 0 {
		t.Errorf("TopicCount after UnsubscribeAll = %d, want 0", tr.TopicCount())
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dedup-sub", 10, 100)

	tr.Subscribe("topic-x", sub)
	tr.Subscribe("topic-y", sub)

	evt := &Event{Type: EventJobSubmitted, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	delivered := tr.Broadcast([]string{"topic-x", "topic-y"}, evt)
	if delivered != 1 {
		t.Errorf("Broadcast delivered to %d subscribers, want 1 (deduplicated)", delivered)
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		evt      *Event
		extra    []string
		expected []string
	}{
		{
			evt:      &Event{Type: EventJobSubmitted, Topic: "job:j1"},
			expected: []string{TopicFirehose, TopicJobs, "job:j1"},
		},
		{
			evt:      &Event{Type: EventStepCompleted, Topic: "job:j1"},
			extra:    []string{"owner:alice"},
			expected: []string{TopicFirehose, TopicJobs, "job:j1", "owner:alice"},
		},
		{
			evt:      &Event{Type: "engine.ping"},
			expected: []string{TopicFirehose},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.evt.Type), func(t *testing.T) {
			topics := resolveTopics(tt.evt, tt.extra...)
			if len(topics) != len(tt.expected) {
				t.Errorf("got %d topics, want %d: %v", len(topics), len(tt.expected), topics)
				return
			}
			for i, topic := range topics {
				if topic != tt.expected[i] {
					t.Errorf("topic[%d] = %q, want %q", i, topic, tt.expected[i])
				}
			}
		})
	}
}

func TestBrokerStatsCountsDrops(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithDefaultCredits(0))
	_ = b.Subscribe("starved", TopicJobs)

	j := testJob()
	_ = b.OnJobSubmitted(context.Background(), j)

	if stats := b.Stats(); stats.TotalDropped != 1 || stats.TotalPublished != 0 {
		t.Errorf("stats = %+v, want 1 dropped and 0 published", stats)
	}

	// Drops survive the subscriber going away.
	b.RemoveSubscriber("starved")
	if stats := b.Stats(); stats.TotalDropped != 1 {
		t.Errorf("TotalDropped after removal = %d, want 1", stats.TotalDropped)
	}
}
