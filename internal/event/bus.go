// Package event provides the update bus that tells views when cached content changed.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/dbt-portal/dbtsync/internal/logging"
)

// EventType names an event on the bus.
type EventType string

const (
	NoticeUpdated     EventType = "notice-updated"
	ContentUpdated    EventType = "content-updated"
	EventUpdated      EventType = "event-updated"
	ConnectionChanged EventType = "connection-changed"
)

// Event is published on the bus.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber receives events.
type Subscriber func(event Event)

// anyType keys the handlers registered with SubscribeAll.
const anyType EventType = ""

type handler struct {
	id uint64
	fn Subscriber
}

// allTopic is the stream topic every event is mirrored to, for StreamAll.
const allTopic = "*"

// mirrorQueueSize bounds the events waiting for slow stream readers. Events
// beyond it are dropped from the streams; handlers still see them.
const mirrorQueueSize = 256

// Bus is a named-event publish/subscribe register. Handlers run synchronously
// in registration order. Every published event is also mirrored as a JSON
// watermill message on a gochannel topic of the same name, and on allTopic,
// for Stream readers. One goroutine forwards the mirror in publish order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handler
	lastID   uint64
	closed   bool

	stream    *gochannel.GoChannel
	queue     chan *message.Message
	done      chan struct{}
	forwarded chan struct{}
	log       zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	b := &Bus{
		handlers: make(map[EventType][]handler),
		// Blocking until the reader acks keeps each topic in publish order.
		stream: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            100,
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		queue:     make(chan *message.Message, mirrorQueueSize),
		done:      make(chan struct{}),
		forwarded: make(chan struct{}),
		log:       logging.Component("event"),
	}
	go b.forward()
	return b
}

// Subscribe registers fn for eventType and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	return b.add(eventType, fn)
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add(anyType, fn)
}

func (b *Bus) add(key EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	b.lastID++
	id := b.lastID
	b.handlers[key] = append(b.handlers[key], handler{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// Copy so a Publish ranging over the old slice is unaffected.
		kept := make([]handler, 0, len(b.handlers[key]))
		for _, h := range b.handlers[key] {
			if h.id != id {
				kept = append(kept, h)
			}
		}
		b.handlers[key] = kept
	}
}

// Publish invokes every handler registered for the event's type, then every
// SubscribeAll handler, in registration order, before returning. A panicking
// handler is logged and does not stop the others.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed, all := b.handlers[event.Type], b.handlers[anyType]
	b.mu.RUnlock()

	for _, h := range typed {
		b.invoke(h.fn, event)
	}
	for _, h := range all {
		b.invoke(h.fn, event)
	}
	b.mirror(event)
}

func (b *Bus) invoke(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event", string(event.Type)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	sub(event)
}

func (b *Bus) mirror(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to encode event for stream")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(event.Type))

	select {
	case b.queue <- msg:
	case <-b.done:
	default:
		b.log.Warn().Str("event", string(event.Type)).Msg("stream readers behind, event not streamed")
	}
}

// forward publishes queued events one at a time, first on their own topic,
// then on allTopic.
func (b *Bus) forward() {
	defer close(b.forwarded)
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.queue:
			for _, topic := range []string{msg.Metadata.Get("type"), allTopic} {
				if err := b.stream.Publish(topic, msg); err != nil {
					b.log.Debug().Err(err).Str("topic", topic).Msg("stream publish skipped")
				}
			}
		}
	}
}

// Stream returns a channel of JSON-encoded events of the given type, in
// publish order. The channel closes when ctx is done or the bus is closed.
// Readers must Ack each message; until they do, no stream advances.
func (b *Bus) Stream(ctx context.Context, eventType EventType) (<-chan *message.Message, error) {
	return b.subscribeStream(ctx, string(eventType))
}

// StreamAll is Stream for every event type, in publish order across types.
func (b *Bus) StreamAll(ctx context.Context) (<-chan *message.Message, error) {
	return b.subscribeStream(ctx, allTopic)
}

func (b *Bus) subscribeStream(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("event bus closed")
	}
	return b.stream.Subscribe(ctx, topic)
}

// DecodeStreamed decodes a message produced by Stream. Data is left as
// json.RawMessage for the caller to decode into the concrete type.
func DecodeStreamed(msg *message.Message) (EventType, json.RawMessage, error) {
	var raw struct {
		Type EventType       `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		return "", nil, err
	}
	return raw.Type, raw.Data, nil
}

// Close drops all subscribers and closes every stream.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[EventType][]handler)
	b.mu.Unlock()

	close(b.done)
	err := b.stream.Close()
	<-b.forwarded
	return err
}

// SubscriberCount returns the number of handlers registered for eventType.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
