// Package feed delivers change notifications to live listings.
//
// Writers publish topic names when they change data; watchers re-run their
// query whenever one of their topics fires and hand the fresh snapshot to
// the consumer.
package feed

import (
	"context"
	"sync"
)

// Topic names.
const (
	TopicCatalog = "catalog"
)

// CartTopic is the topic for one user's cart.
func CartTopic(userID string) string { return "cart:" + userID }

// OrdersTopic is the topic for one user's orders.
func OrdersTopic(userID string) string { return "orders:" + userID }

// Publisher announces that the data behind topics changed.
type Publisher interface {
	Publish(ctx context.Context, topics ...string) error
}

// Broker fans notifications out to in-process subscribers. Each subscriber
// owns a one-slot signal channel so a slow consumer coalesces bursts instead
// of blocking publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every subscriber of the given topics. It never blocks.
func (b *Broker) Publish(_ context.Context, topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		for ch := range b.subs[topic] {
			notify(ch)
		}
	}
	return nil
}

// Broadcast signals every subscriber of every topic. Used after the relay
// reconnects and may have missed notifications.
func (b *Broker) Broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for ch := range set {
			notify(ch)
		}
	}
}

// Subscribe registers interest in topic. The returned function unregisters.
func (b *Broker) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[topic] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], ch)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Subscribers reports how many subscriptions topic has.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
