package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topics a client can attach to:
//
//	job:<jobID>      one job's events
//	owner:<ownerID>  every job of one owner
//	jobs             all job, step and artifact events
//	firehose         everything the broker publishes
const (
	TopicJobs     = "jobs"
	TopicFirehose = "firehose"
)

const (
	entityJob   = "job"
	entityOwner = "owner"
)

// JobTopic returns the topic carrying one job's events.
func JobTopic(jobID string) string { return entityJob + ":" + jobID }

// OwnerTopic returns the topic carrying all events for an owner's jobs.
func OwnerTopic(ownerID string) string { return entityOwner + ":" + ownerID }

// ParseTopicEntity splits a scoped topic such as "job:job_01h..." into its
// entity kind and ID. Global topics yield two empty strings.
func ParseTopicEntity(topic string) (entityType, entityID string) {
	kind, ref, ok := strings.Cut(topic, ":")
	if !ok {
		return "", ""
	}
	return kind, ref
}

// ValidateTopic reports whether clients may subscribe to topic.
func ValidateTopic(topic string) error {
	if topic == TopicJobs || topic == TopicFirehose {
		return nil
	}
	kind, ref := ParseTopicEntity(topic)
	if kind == "" || ref == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	if kind != entityJob && kind != entityOwner {
		return fmt.Errorf("stream: unknown topic entity type %q", kind)
	}
	return nil
}

// jobScoped reports whether t belongs on the "jobs" topic.
func (t EventType) jobScoped() bool {
	kind, _, _ := strings.Cut(string(t), ".")
	switch kind {
	case "job", "step", "artifact":
		return true
	}
	return false
}

// resolveTopics lists every topic evt is published on, broadest first.
func resolveTopics(evt *Event, extra ...string) []string {
	out := []string{TopicFirehose}
	if evt.Type.jobScoped() {
		out = append(out, TopicJobs)
	}
	if evt.Topic != "" {
		out = append(out, evt.Topic)
	}
	return append(out, extra...)
}

// TopicRegistry maps topics to the subscribers attached to them. It is
// safe for concurrent use.
type TopicRegistry struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // topic -> subscriber IDs
	subs    map[string]*Subscriber         // subscriber ID -> subscriber
}

// NewTopicRegistry returns an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		members: map[string]map[string]struct{}{},
		subs:    map[string]*Subscriber{},
	}
}

// Subscribe attaches sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	set := tr.members[topic]
	if set == nil {
		set = map[string]struct{}{}
		tr.members[topic] = set
	}
	set[sub.ID()] = struct{}{}
	tr.subs[sub.ID()] = sub
	sub.joined(topic, true)
}

// Unsubscribe detaches a subscriber from one topic.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.detach(topic, subscriberID)
}

// UnsubscribeAll detaches a subscriber from every topic it is on.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	sub, ok := tr.subs[subscriberID]
	if !ok {
		return
	}
	for _, topic := range sub.Topics() {
		tr.detach(topic, subscriberID)
	}
	delete(tr.subs, subscriberID)
}

// detach must be called with tr.mu held.
func (tr *TopicRegistry) detach(topic, subscriberID string) {
	set, ok := tr.members[topic]
	if !ok {
		return
	}
	if _, on := set[subscriberID]; !on {
		return
	}
	delete(set, subscriberID)
	if len(set) == 0 {
		delete(tr.members, topic)
	}
	if sub := tr.subs[subscriberID]; sub != nil {
		sub.joined(topic, false)
	}
}

// Broadcast offers evt to every subscriber on any of topics, once each,
// and returns how many accepted it.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	targets := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID := range tr.members[topic] {
			targets[subID] = tr.subs[subID]
		}
	}
	tr.mu.RUnlock()

	n := 0
	for _, sub := range targets {
		if sub.send(evt) {
			n++
		}
	}
	return n
}

// TopicCount returns the number of topics with at least one subscriber.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.members)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.members[topic])
}
