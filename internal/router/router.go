// Package router decides, per event, whether it is broadcast now or handed to
// the batching engine, and fans events out to handlers and persistence.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/bus"
	"github.com/landale/eventpipe/internal/metrics"
)

var (
	// ErrStopped is returned by requests made after the router has shut down.
	ErrStopped = errors.New("router stopped")

	// ErrStarted is returned when handlers are registered after Run.
	ErrStarted = errors.New("router already running")
)

const (
	DefaultInboxSize        = 1024
	DefaultHandlerQueueSize = 100
)

// Bus is the part of the topic bus the router needs.
type Bus interface {
	bus.Publisher
	Subscribe(topic string, handler bus.Handler, opts ...bus.SubscribeOption) (bus.Subscription, error)
}

// Batcher accepts events that may wait for a batch window.
type Batcher interface {
	Add(ctx context.Context, evt *v1.Event) error
}

// Persister schedules an event for storage without blocking. It reports
// false when the event could not be queued.
type Persister interface {
	Schedule(evt *v1.Event) bool
}

// Handler receives every routed event of the type it is registered for.
type Handler interface {
	Handle(ctx context.Context, evt *v1.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt *v1.Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt *v1.Event) error {
	return f(ctx, evt)
}

// Stats is a point-in-time copy of the router counters.
type Stats struct {
	TotalRouted       int64            `json:"total_routed"`
	Batched           int64            `json:"batched"`
	Immediate         int64            `json:"immediate"`
	ByType            map[string]int64 `json:"by_type"`
	BySource          map[string]int64 `json:"by_source"`
	BatchesRelayed    int64            `json:"batches_relayed"`
	HandlerDispatches int64            `json:"handler_dispatches"`
	HandlerFailures   int64            `json:"handler_failures"`
	PersistScheduled  int64            `json:"persist_scheduled"`
	PersistRejected   int64            `json:"persist_rejected"`
}

// RouteOption customizes a single Route call.
type RouteOption func(*routeOptions)

type routeOptions struct {
	priority v1.Priority
}

// WithPriority forces the event's priority regardless of its type or the
// priority it was built with.
func WithPriority(p v1.Priority) RouteOption {
	return func(o *routeOptions) {
		o.priority = p
	}
}

type message interface{ isMessage() }

type routeMsg struct {
	evt      *v1.Event
	priority v1.Priority
}

type statsMsg struct{ reply chan Stats }

func (routeMsg) isMessage() {}
func (statsMsg) isMessage() {}

// Config holds optional router settings.
type Config struct {
	InboxSize int

	// HandlerQueueSize bounds the queue in front of each registered handler.
	HandlerQueueSize int
}

// Router is a single-goroutine actor. Handlers and stats are owned by the Run
// goroutine once it starts.
type Router struct {
	cfg       Config
	policy    Policy
	bus       Bus
	batcher   Batcher
	persister Persister

	handlers map[string][]Handler
	owned    []*Forwarder
	started  atomic.Bool
	failures atomic.Int64

	// batches from the relay subscription wait here until the Run loop
	// picks them up, so the subscription never blocks on the inbox
	relayMu    sync.Mutex
	relays     []*v1.Event
	relayReady chan struct{}

	inbox chan message
	done  chan struct{}
	stats Stats
}

// New creates a router. persister may be nil when storage is disabled.
func New(cfg Config, policy Policy, b Bus, batcher Batcher, persister Persister) *Router {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.HandlerQueueSize <= 0 {
		cfg.HandlerQueueSize = DefaultHandlerQueueSize
	}
	return &Router{
		cfg:        cfg,
		policy:     policy,
		bus:        b,
		batcher:    batcher,
		persister:  persister,
		handlers:   make(map[string][]Handler),
		relayReady: make(chan struct{}, 1),
		inbox:      make(chan message, cfg.InboxSize),
		done:       make(chan struct{}),
		stats: Stats{
			ByType:   make(map[string]int64),
			BySource: make(map[string]int64),
		},
	}
}

// Register adds a handler for eventType. Handlers must be registered before Run.
//
// Routing never waits on a handler. Each plain handler gets its own queue of
// Config.HandlerQueueSize events, drained by a goroutine the router starts and
// stops with Run; events arriving while the queue is full count as handler
// failures. A *Forwarder is used as is and its Run is left to the caller.
func (r *Router) Register(eventType string, h Handler) error {
	if r.started.Load() {
		return ErrStarted
	}
	if eventType == "" || h == nil {
		return fmt.Errorf("event type and handler are required")
	}

	if _, ok := h.(*Forwarder); !ok {
		fwd := NewForwarder(eventType, r.cfg.HandlerQueueSize, h)
		fwd.onFailure = r.recordFailure
		r.owned = append(r.owned, fwd)
		h = fwd
	}
	r.handlers[eventType] = append(r.handlers[eventType], h)
	return nil
}

// Done is closed once Run has returned.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Run subscribes to the batch relay and processes the inbox until ctx is
// cancelled. Events already queued are routed before it returns.
func (r *Router) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	defer close(r.done)

	sub, err := r.bus.Subscribe(bus.TopicBatchRelay, r.enqueueRelay, bus.Lossless())
	if err != nil {
		return fmt.Errorf("failed to subscribe to batch relay: %w", err)
	}
	defer sub.Unsubscribe()

	handlerCtx, stopHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHandlers()
	for _, fwd := range r.owned {
		go func(f *Forwarder) { _ = f.Run(handlerCtx) }(fwd)
	}

	slog.Info("[Router] Starting router",
		"handler_types", len(r.handlers),
		"owned_handlers", len(r.owned))

	for {
		select {
		case msg := <-r.inbox:
			r.handle(ctx, msg)
		case <-r.relayReady:
			r.relayPending()
		case <-ctx.Done():
			r.drainInbox()

			// handler queues deliver what they hold before Run returns
			stopHandlers()
			for _, fwd := range r.owned {
				<-fwd.Done()
			}

			slog.Info("[Router] Stopped",
				"total_routed", r.stats.TotalRouted,
				"batches_relayed", r.stats.BatchesRelayed,
				"handler_failures", r.failures.Load())
			return nil
		}
	}
}

func (r *Router) drainInbox() {
	// ctx is already cancelled; handlers and the batcher get a fresh one
	ctx := context.Background()
	for {
		select {
		case msg := <-r.inbox:
			r.handle(ctx, msg)
		default:
			r.relayPending()
			return
		}
	}
}

func (r *Router) handle(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case routeMsg:
		r.route(ctx, m.evt, m.priority)
	case statsMsg:
		m.reply <- r.snapshot()
	}
}

// enqueueRelay runs on the relay subscription goroutine and never blocks.
func (r *Router) enqueueRelay(batch *v1.Event) {
	r.relayMu.Lock()
	r.relays = append(r.relays, batch)
	r.relayMu.Unlock()

	select {
	case r.relayReady <- struct{}{}:
	default:
	}
}

func (r *Router) relayPending() {
	r.relayMu.Lock()
	pending := r.relays
	r.relays = nil
	r.relayMu.Unlock()

	for _, batch := range pending {
		r.relay(batch)
	}
}

func (r *Router) route(ctx context.Context, evt *v1.Event, override v1.Priority) {
	priority := r.policy.Priority(evt, override)
	evt = evt.Prioritized(priority)

	r.stats.TotalRouted++
	r.stats.ByType[evt.Type]++
	r.stats.BySource[string(evt.Source)]++

	switch {
	case evt.IsBatch():
		r.broadcast(evt, batchTopicOf(evt))
	case priority == v1.PriorityCritical || r.policy.IsImmediate(evt.Type):
		r.broadcast(evt, bus.SourceTopic(evt.Source))
	case r.policy.IsBatchable(evt.Type):
		if err := r.batcher.Add(ctx, evt); err != nil {
			slog.Warn("[Router] Batching unavailable, broadcasting immediately",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"error", err)
			r.broadcast(evt, bus.SourceTopic(evt.Source))
			break
		}
		r.stats.Batched++
		metrics.EventsRouted.WithLabelValues("batched").Inc()
	default:
		r.broadcast(evt, bus.SourceTopic(evt.Source))
	}

	r.dispatch(ctx, evt)
	r.persist(evt)
}

// relay re-broadcasts a batch emitted by the batching engine. Its contained
// events were already dispatched and persisted when they were routed.
func (r *Router) relay(batch *v1.Event) {
	if !batch.IsBatch() {
		slog.Warn("[Router] Ignoring non-batch event on relay topic",
			"event_id", batch.ID,
			"event_type", batch.Type)
		return
	}
	r.stats.BatchesRelayed++
	r.bus.Publish(bus.TopicAll, batch)
	if topic := batchTopicOf(batch); topic != "" {
		r.bus.Publish(topic, batch)
	}
}

func (r *Router) broadcast(evt *v1.Event, topic string) {
	r.stats.Immediate++
	metrics.EventsRouted.WithLabelValues("immediate").Inc()
	r.bus.Publish(bus.TopicAll, evt)
	if topic != "" {
		r.bus.Publish(topic, evt)
	}
}

// dispatch only enqueues: every registered handler is a Forwarder.
func (r *Router) dispatch(ctx context.Context, evt *v1.Event) {
	for _, h := range r.handlers[evt.Type] {
		r.stats.HandlerDispatches++
		if err := safeHandle(ctx, h, evt); err != nil {
			r.recordFailure(evt, err)
		}
	}
}

// recordFailure is called from the Run goroutine and from handler queues.
func (r *Router) recordFailure(evt *v1.Event, err error) {
	r.failures.Add(1)
	metrics.HandlerFailures.WithLabelValues(evt.Type).Inc()
	slog.Error("[Router] Handler failed",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"error", err)
}

func safeHandle(ctx context.Context, h Handler, evt *v1.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h.Handle(ctx, evt)
}

func (r *Router) persist(evt *v1.Event) {
	if r.persister == nil || evt.IsBatch() {
		return
	}
	if r.persister.Schedule(evt) {
		r.stats.PersistScheduled++
		return
	}
	r.stats.PersistRejected++
	slog.Warn("[Router] Persistence queue full, event not stored",
		"event_id", evt.ID,
		"event_type", evt.Type)
}

func (r *Router) snapshot() Stats {
	s := r.stats
	s.HandlerFailures = r.failures.Load()
	s.ByType = make(map[string]int64, len(r.stats.ByType))
	for k, v := range r.stats.ByType {
		s.ByType[k] = v
	}
	s.BySource = make(map[string]int64, len(r.stats.BySource))
	for k, v := range r.stats.BySource {
		s.BySource[k] = v
	}
	return s
}

func batchTopicOf(batch *v1.Event) string {
	if topic := v1.BatchTopic(batch); topic != "" && topic != bus.TopicAll {
		return topic
	}
	return ""
}

// Route hands an event to the router. It fails only for malformed events,
// shutdown or ctx cancellation.
func (r *Router) Route(ctx context.Context, evt *v1.Event, opts ...RouteOption) error {
	if evt == nil {
		return fmt.Errorf("event is required")
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.priority != "" && o.priority != v1.PriorityCritical && o.priority != v1.PriorityNormal {
		return fmt.Errorf("invalid priority %q", o.priority)
	}

	return r.send(ctx, routeMsg{evt: evt, priority: o.priority})
}

// Stats returns a copy of the router counters.
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := r.send(ctx, statsMsg{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-r.done:
		return Stats{}, ErrStopped
	}
}

func (r *Router) send(ctx context.Context, msg message) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	select {
	case r.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}
