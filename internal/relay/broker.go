// Package relay is the per-topic pub/sub fan-out behind the chat
// websocket endpoint. Publishers (the chat service) and subscribers
// (socket connections) only meet through the Broker interface.
package relay

import "sync"

// Sink receives published events. Deliver must not block; slow sinks
// drop events rather than stall the publisher.
type Sink interface {
	Deliver(ev Event)
}

type Broker interface {
	Subscribe(topic string, sink Sink)
	Unsubscribe(topic string, sink Sink)
	Publish(topic string, ev Event)
}

// MemoryBroker is the in-process Broker. Events published to a topic
// reach every sink subscribed at publish time, in publish order.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[Sink]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[Sink]struct{})}
}

func (b *MemoryBroker) Subscribe(topic string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[Sink]struct{})
		b.topics[topic] = set
	}
	set[sink] = struct{}{}
}

func (b *MemoryBroker) Unsubscribe(topic string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(b.topics, topic)
	}
}

func (b *MemoryBroker) Publish(topic string, ev Event) {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Deliver(ev)
	}
}
