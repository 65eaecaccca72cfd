// Package event implements the notification bus connecting the connection
// core to its collaborators. Delivery is a synchronous fan-out to zero or
// more subscribers in subscription order.
package event

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topics published by the connection core. Each carries the affected
// *session.Conn as its payload.
const (
	TopicConnect = "mud.connection.connect"
	TopicRead    = "mud.connection.read"
	TopicClose   = "mud.connection.close"
)

// Handler receives a published payload for a topic it subscribed to.
type Handler func(payload interface{})

// Subscription identifies one registered handler and can cancel it. Handler
// funcs aren't comparable, so unsubscription goes through the id instead.
type Subscription struct {
	id    uuid.UUID
	topic string
	bus   *Bus
}

// Cancel removes the subscription from its bus. Safe to call after the bus
// has already dropped it.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s.topic, s.id)
}

type subscriber struct {
	id      uuid.UUID
	handler Handler
}

// Bus is a synchronous publish/subscribe dispatcher. Handlers for a topic
// run in the publisher's goroutine, in the order they subscribed.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
	logger *zap.SugaredLogger
}

func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		topics: make(map[string][]subscriber),
		logger: logger,
	}
}

// Subscribe registers handler for topic and returns a cancelable Subscription.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscriber{id: uuid.New(), handler: handler}
	b.topics[topic] = append(b.topics[topic], sub)

	return &Subscription{id: sub.id, topic: topic, bus: b}
}

// Publish delivers payload to every subscriber of topic. Delivery is
// best-effort: a panicking handler is logged and the fan-out continues.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(topic, sub, payload)
	}
}

func (b *Bus) deliver(topic string, sub subscriber, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warnf("subscriber panicked handling %s: %v", topic, r)
		}
	}()
	sub.handler(payload)
}

func (b *Bus) unsubscribe(topic string, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
