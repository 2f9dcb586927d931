// Package event provides a pub/sub bus for session lifecycle notifications
// using watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/vianexus/agentmemory/internal/logging"
)

// Type identifies a lifecycle event.
type Type string

const (
	SessionCreated  Type = "session.created"
	SessionCloned   Type = "session.cloned"
	SessionBranched Type = "session.branched"
	SessionDeleted  Type = "session.deleted"
	SessionCleared  Type = "session.cleared"
	SessionEvicted  Type = "session.evicted"
	MessageAppended Type = "message.appended"
)

const topic = "agentmemory.sessions"

// Event is one lifecycle notification. Data is event-specific and JSON
// serializable (session ID, user ID, message metadata).
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Subscriber receives published events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id    uint64
	types map[Type]bool // nil means all types
	fn    Subscriber
}

// Bus fans events out to in-process subscribers. It rides on watermill's
// gochannel for delivery so a broker-backed publisher can be dropped in
// later, while keeping typed direct dispatch for subscribers.
type Bus struct {
	mu          sync.RWMutex
	pubsub      *gochannel.GoChannel
	subscribers []subscriberEntry
	nextID      uint64
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewBus creates a started bus. Close releases its delivery goroutine.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		// gochannel only fails on a closed pubsub, which cannot happen here.
		logging.Error().Err(err).Msg("event bus subscribe failed")
		close(b.done)
		return b
	}
	go b.dispatch(messages)
	return b
}

func (b *Bus) dispatch(messages <-chan *message.Message) {
	defer close(b.done)
	for msg := range messages {
		var ev Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			logging.Warn().Err(err).Msg("dropping undecodable event")
			msg.Ack()
			continue
		}
		b.mu.RLock()
		subs := make([]subscriberEntry, len(b.subscribers))
		copy(subs, b.subscribers)
		b.mu.RUnlock()
		for _, sub := range subs {
			if sub.types == nil || sub.types[ev.Type] {
				sub.fn(ev)
			}
		}
		msg.Ack()
	}
}

// Publish emits an event to all matching subscribers. Safe to call
// concurrently; delivery is asynchronous and ordered.
func (b *Bus) Publish(eventType Type, data any) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		logging.Warn().Err(err).Str("type", string(eventType)).Msg("dropping unserializable event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		logging.Warn().Err(err).Str("type", string(eventType)).Msg("event publish failed")
	}
}

// Subscribe registers fn for the given types; with none given, fn receives
// every event. Returns an unsubscribe function.
func (b *Bus) Subscribe(fn Subscriber, eventTypes ...Type) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	entry := subscriberEntry{id: b.nextID, fn: fn}
	if len(eventTypes) > 0 {
		entry.types = make(map[Type]bool, len(eventTypes))
		for _, t := range eventTypes {
			entry.types[t] = true
		}
	}
	b.subscribers = append(b.subscribers, entry)

	id := entry.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subscribers {
			if sub.id == id {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Close stops delivery and waits for in-flight events to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.pubsub.Close()
	b.cancel()
	<-b.done
}
