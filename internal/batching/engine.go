// Package batching buffers non-critical events per topic and emits them as
// batch events once per window.
package batching

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/bus"
	"github.com/landale/eventpipe/internal/metrics"
)

// ErrStopped is returned by requests made after the engine has shut down.
var ErrStopped = errors.New("batching engine stopped")

const (
	DefaultWindow       = 50 * time.Millisecond
	DefaultMaxBatchSize = 100
	DefaultMaxBuffered  = 1000
	DefaultInboxSize    = 1024
)

// Config controls window length and buffer bounds.
type Config struct {
	Window       time.Duration
	MaxBatchSize int
	MaxBuffered  int
	InboxSize    int
}

func (c Config) normalized() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = DefaultMaxBuffered
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	return c
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	EventsAdded     int64          `json:"events_added"`
	EventsDropped   int64          `json:"events_dropped"`
	BatchesCreated  int64          `json:"batches_created"`
	EventsBatched   int64          `json:"events_batched"`
	EmptyFlushes    int64          `json:"empty_flushes"`
	FlushFailures   int64          `json:"flush_failures"`
	Buffered        int            `json:"buffered"`
	BufferedByTopic map[string]int `json:"buffered_by_topic"`
	TimerArmed      bool           `json:"timer_armed"`
}

type message interface{ isMessage() }

type addMsg struct{ evt *v1.Event }

type flushMsg struct{ reply chan int }

type statsMsg struct{ reply chan Stats }

func (addMsg) isMessage()   {}
func (flushMsg) isMessage() {}
func (statsMsg) isMessage() {}

// Engine is a single-goroutine actor. Everything below the inbox is owned by
// the Run goroutine and never touched from elsewhere.
type Engine struct {
	cfg   Config
	pub   bus.Publisher
	inbox chan message
	done  chan struct{}

	buffers  map[string][]*v1.Event
	buffered int
	timer    *time.Timer
	timerC   <-chan time.Time
	stats    Stats
}

// New creates an engine that emits batch events on the relay topic of pub.
// The relay subscriber should be bus.Lossless so no batch is dropped between
// the engine and the router.
func New(cfg Config, pub bus.Publisher) *Engine {
	cfg = cfg.normalized()
	return &Engine{
		cfg:     cfg,
		pub:     pub,
		inbox:   make(chan message, cfg.InboxSize),
		done:    make(chan struct{}),
		buffers: make(map[string][]*v1.Event),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Done is closed once Run has returned and the final flush is published.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run processes the inbox until ctx is cancelled, then flushes what is left.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	slog.Info("[Batching] Starting batching engine",
		"window", e.cfg.Window,
		"max_batch_size", e.cfg.MaxBatchSize,
		"max_buffered", e.cfg.MaxBuffered,
	)

	for {
		select {
		case msg := <-e.inbox:
			e.handle(msg)
		case <-e.timerC:
			e.timerC = nil
			e.timer = nil
			if n := e.flush(); n > 0 {
				e.armTimer()
			}
		case <-ctx.Done():
			slog.Info("[Batching] Stopping (context cancelled), running final flush")
			e.stopTimer()
			e.drainInbox()
			n := e.flush()
			slog.Info("[Batching] Final flush complete", "events_flushed", n)
			return nil
		}
	}
}

// drainInbox applies queued adds so they are part of the final flush.
func (e *Engine) drainInbox() {
	for {
		select {
		case msg := <-e.inbox:
			e.handle(msg)
		default:
			return
		}
	}
}

func (e *Engine) handle(msg message) {
	switch m := msg.(type) {
	case addMsg:
		e.add(m.evt)
	case flushMsg:
		armed := e.stopTimer()
		n := e.flush()
		if armed {
			e.armTimer()
		}
		m.reply <- n
	case statsMsg:
		m.reply <- e.snapshot()
	}
}

func (e *Engine) add(evt *v1.Event) {
	if evt.IsBatch() {
		e.stats.EventsDropped++
		metrics.BatchingDropped.Inc()
		slog.Warn("[Batching] Refusing to re-batch a batch event", "event_id", evt.ID)
		return
	}

	if e.buffered >= e.cfg.MaxBuffered {
		e.stats.EventsDropped++
		metrics.BatchingDropped.Inc()
		slog.Warn("[Batching] Buffer full, dropping event",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"buffered", e.buffered,
			"max_buffered", e.cfg.MaxBuffered)
		return
	}

	topic := bus.SourceTopic(evt.Source)
	e.buffers[topic] = append(e.buffers[topic], evt)
	e.buffered++
	e.stats.EventsAdded++

	if e.timerC == nil {
		e.armTimer()
	}
}

func (e *Engine) armTimer() {
	e.timer = time.NewTimer(e.cfg.Window)
	e.timerC = e.timer.C
}

// stopTimer cancels a pending window and reports whether one was armed.
func (e *Engine) stopTimer() bool {
	if e.timer == nil {
		return false
	}
	e.timer.Stop()
	e.timer = nil
	e.timerC = nil
	return true
}

// flush emits every buffered topic and returns the number of events emitted.
func (e *Engine) flush() int {
	if e.buffered == 0 {
		e.stats.EmptyFlushes++
		return 0
	}

	topics := make([]string, 0, len(e.buffers))
	for topic := range e.buffers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	total := 0
	for _, topic := range topics {
		events := e.buffers[topic]
		delete(e.buffers, topic)
		e.buffered -= len(events)
		total += e.flushTopic(topic, events)
	}
	return total
}

// flushTopic emits one batch per MaxBatchSize chunk. A failure is contained
// to this topic.
func (e *Engine) flushTopic(topic string, events []*v1.Event) (emitted int) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.FlushFailures++
			slog.Error("[Batching] Flush failed for topic",
				"topic", topic,
				"events_lost", len(events)-emitted,
				"panic", r)
		}
	}()

	for start := 0; start < len(events); start += e.cfg.MaxBatchSize {
		end := start + e.cfg.MaxBatchSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		batch := v1.NewBatchEvent(topic, chunk)
		e.pub.Publish(bus.TopicBatchRelay, batch)

		emitted += len(chunk)
		e.stats.BatchesCreated++
		e.stats.EventsBatched += int64(len(chunk))
		metrics.BatchesEmitted.Inc()
		metrics.BatchSize.Observe(float64(len(chunk)))

		slog.Debug("[Batching] Emitted batch",
			"topic", topic,
			"batch_id", batch.Metadata.BatchID,
			"count", len(chunk))
	}
	return emitted
}

func (e *Engine) snapshot() Stats {
	s := e.stats
	s.Buffered = e.buffered
	s.TimerArmed = e.timerC != nil
	s.BufferedByTopic = make(map[string]int, len(e.buffers))
	for topic, events := range e.buffers {
		s.BufferedByTopic[topic] = len(events)
	}
	return s
}

// Add hands an event to the engine. Overflow is absorbed by dropping, so the
// only errors are shutdown and ctx cancellation.
func (e *Engine) Add(ctx context.Context, evt *v1.Event) error {
	if evt == nil {
		return nil
	}
	return e.send(ctx, addMsg{evt: evt})
}

// Flush forces an immediate flush, cancelling and rescheduling the pending
// window. It returns the number of events emitted.
func (e *Engine) Flush(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := e.send(ctx, flushMsg{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-e.done:
		return 0, ErrStopped
	}
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := e.send(ctx, statsMsg{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-e.done:
		return Stats{}, ErrStopped
	}
}

func (e *Engine) send(ctx context.Context, msg message) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}

	select {
	case e.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}
