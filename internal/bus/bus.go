// Package bus is the in-process publish/subscribe layer events are broadcast on.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/metrics"
)

const (
	// TopicAll receives every broadcast event.
	TopicAll = "events:all"

	// TopicBatchRelay carries batch events from the batching engine to the router.
	// Nothing else should subscribe to it.
	TopicBatchRelay = "events:batch_relay"

	DefaultBufferSize = 256
)

// SourceTopic returns the topic scoped to one event source.
func SourceTopic(src v1.Source) string {
	return "events:" + string(src)
}

// Handler consumes events delivered on a topic.
type Handler func(evt *v1.Event)

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(topic string, evt *v1.Event)
}

// Subscription represents an active subscription.
type Subscription interface {
	Topic() string
	Unsubscribe()
}

// Config configures bus behavior.
type Config struct {
	// BufferSize is the channel buffer size per subscription.
	// Default: 256
	BufferSize int

	// OnDrop is called when a delivery is dropped because a subscriber buffer is full.
	OnDrop func(topic string, evt *v1.Event)
}

// LocalBus is an in-memory topic bus. Each subscription owns a buffered channel
// drained by its own goroutine. Publish never blocks on a default subscription:
// a full buffer drops the delivery for that subscriber only. A Lossless
// subscription instead makes Publish wait for buffer space.
type LocalBus struct {
	config Config

	mu     sync.RWMutex
	topics map[string]map[uint64]*subscription

	nextID atomic.Uint64
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New creates a new local bus.
func New(config Config) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	return &LocalBus{
		config: config,
		topics: make(map[string]map[uint64]*subscription),
	}
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscription)

// Lossless makes publishers wait for buffer space instead of dropping. The
// handler must return promptly since it can stall every publisher of the topic.
func Lossless() SubscribeOption {
	return func(s *subscription) { s.lossless = true }
}

// delivery is either an event or, when ack is set, a Drain barrier.
type delivery struct {
	evt *v1.Event
	ack chan struct{}
}

type subscription struct {
	id       uint64
	topic    string
	handler  Handler
	lossless bool
	events   chan delivery
	done     chan struct{}
	exited   chan struct{}
	once     sync.Once
	bus      *LocalBus
}

// Publish delivers evt to every current subscriber of topic.
func (b *LocalBus) Publish(topic string, evt *v1.Event) {
	if evt == nil || b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.topics[topic]))
	for _, sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.lossless {
			select {
			case sub.events <- delivery{evt: evt}:
			case <-sub.done:
			}
			continue
		}

		select {
		case sub.events <- delivery{evt: evt}:
		default:
			metrics.BusDropped.WithLabelValues(topic).Inc()
			slog.Warn("[Bus] Subscriber buffer full, dropping delivery",
				"topic", topic,
				"subscription_id", sub.id,
				"event_id", evt.ID,
				"event_type", evt.Type)
			if b.config.OnDrop != nil {
				b.config.OnDrop(topic, evt)
			}
		}
	}
}

// Subscribe registers handler for topic. Events are delivered in publish order.
func (b *LocalBus) Subscribe(topic string, handler Handler, opts ...SubscribeOption) (Subscription, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("bus is closed")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	sub := &subscription{
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: handler,
		events:  make(chan delivery, b.config.BufferSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		bus:     b,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]*subscription)
	}
	b.topics[topic][sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go sub.process()

	return sub, nil
}

// SubscriberCount returns the number of active subscriptions on topic.
func (b *LocalBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Drain blocks until every subscriber of topic has handled all events
// published on it before the call, or ctx is done.
func (b *LocalBus) Drain(ctx context.Context, topic string) error {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.topics[topic]))
	for _, sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		ack := make(chan struct{})
		select {
		case sub.events <- delivery{ack: ack}:
		case <-sub.done:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-ack:
		case <-sub.exited:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops every subscription. Events still buffered are delivered first.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	var subs []*subscription
	for _, byID := range b.topics {
		for _, sub := range byID {
			subs = append(subs, sub)
		}
	}
	b.topics = make(map[string]map[uint64]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
	return nil
}

func (s *subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes the subscription and stops its goroutine.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	if byID, ok := s.bus.topics[s.topic]; ok {
		delete(byID, s.id)
	}
	s.bus.mu.Unlock()
	s.stop()
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) process() {
	defer s.bus.wg.Done()
	defer close(s.exited)
	for {
		select {
		case d := <-s.events:
			s.deliver(d)
		case <-s.done:
			// drain whatever was accepted before the stop
			for {
				select {
				case d := <-s.events:
					s.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (s *subscription) deliver(d delivery) {
	if d.ack != nil {
		close(d.ack)
		return
	}

	evt := d.evt
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Bus] Subscriber panicked",
				"topic", s.topic,
				"subscription_id", s.id,
				"event_id", evt.ID,
				"panic", r)
		}
	}()
	s.handler(evt)
}
