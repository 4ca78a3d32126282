// Package bus provides the in-process publish/subscribe channel between
// core components. Dispatch is synchronous from the publishing goroutine in
// publish order; delivery is best-effort. A panicking subscriber never
// aborts the publisher but is logged at critical severity.
package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/7D-Solutions/gaugecore/common"
)

// Handler consumes events for one or more topics.
type Handler func(Event)

// Bus is the in-process event bus. Subscribers register at startup;
// unsubscribe is supported but rare.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscription
	nextID int
	logger *logrus.Logger
}

type subscription struct {
	id      int
	handler Handler
}

// New creates an event bus.
func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = common.Logger
	}
	return &Bus{
		subs:   make(map[Topic][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic and returns the subscription
// id for a later Unsubscribe.
func (b *Bus) Subscribe(topic Topic, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// SubscribeAll registers a handler for every topic published. Used by
// observers like the audit forwarder and the external event publisher.
func (b *Bus) SubscribeAll(h Handler) int {
	return b.Subscribe(topicWildcard, h)
}

const topicWildcard Topic = "*"

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event synchronously to every subscriber of its
// topic and to wildcard subscribers, in registration order.
func (b *Bus) Publish(topic Topic, actorID string, payload interface{}) {
	event := Event{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
		Payload:   payload,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic])+len(b.subs[topicWildcard]))
	for _, s := range b.subs[topic] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.subs[topicWildcard] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"topic":    event.Topic,
				"severity": "critical",
			}).Errorf("event subscriber panicked: %v", r)
		}
	}()
	h(event)
}
