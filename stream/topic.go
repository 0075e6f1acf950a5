package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// Topic names:
//
//	firehose         every event
//	dlq              dead letters
//	kind:<kind>      status changes of one entity kind
//	entity:<id>      status changes of one entity
const (
	TopicFirehose = "firehose"
	TopicDLQ      = "dlq"
)

// KindTopic returns the topic of an entity kind.
func KindTopic(kind entity.Kind) string { return "kind:" + string(kind) }

// EntityTopic returns the topic of one entity.
func EntityTopic(entityID id.ID) string { return "entity:" + entityID.String() }

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicFirehose, TopicDLQ:
		return nil
	}
	prefix, value, ok := strings.Cut(topic, ":")
	if !ok || value == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch prefix {
	case "kind":
		_, err := entity.ParseKind(value)
		return err
	case "entity":
		_, err := id.ParseEntityID(value)
		return err
	default:
		return fmt.Errorf("stream: unknown topic prefix %q", prefix)
	}
}

// topicRegistry maps topics to their subscribers. It is safe for
// concurrent use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

// unsubscribeAll removes a subscriber and drops topics left empty.
func (tr *topicRegistry) unsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic, subs := range tr.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast sends evt once to every subscriber of any of the topics and
// returns how many received it.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			seen[subID] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
