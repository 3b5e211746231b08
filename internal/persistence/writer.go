// Package persistence writes routed events to the event store in the
// background. Writes are best effort: a failure is logged and never retried.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/core/storage"
	"github.com/landale/eventpipe/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWorkers      = 4
	DefaultQueueSize    = 1000
	DefaultWriteTimeout = 5 * time.Second
)

var tracer = otel.Tracer("eventpipe/persistence")

// Encoder turns a canonical event into its storable form.
type Encoder interface {
	ForStorage(evt *v1.Event) (*storage.Record, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// Stats is a snapshot of writer counters.
type Stats struct {
	Scheduled  int64 `json:"scheduled"`
	Rejected   int64 `json:"rejected"`
	Written    int64 `json:"written"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
	QueueLen   int   `json:"queue_len"`
	QueueCap   int   `json:"queue_cap"`
}

// Writer schedules storage writes on a bounded worker pool.
type Writer struct {
	cfg     Config
	store   storage.EventStore
	encoder Encoder
	pool    *workerPool[*v1.Event]

	scheduled  atomic.Int64
	rejected   atomic.Int64
	written    atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// NewWriter starts cfg.Workers goroutines. Writes use ctx for values only;
// cancelling it does not abort queued writes, Close does.
func NewWriter(ctx context.Context, cfg Config, store storage.EventStore, encoder Encoder) *Writer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	w := &Writer{
		cfg:     cfg,
		store:   store,
		encoder: encoder,
	}
	w.pool = newWorkerPool(context.WithoutCancel(ctx), cfg.Workers, cfg.QueueSize, w.write)

	slog.Info("[Persistence] Writer started",
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"write_timeout", cfg.WriteTimeout)
	return w
}

// Schedule queues evt for storage without blocking. It returns false when
// the queue is full or the writer is closed.
func (w *Writer) Schedule(evt *v1.Event) bool {
	if evt == nil {
		return false
	}
	ok := w.pool.Submit(evt)
	if ok {
		w.scheduled.Add(1)
	} else {
		w.rejected.Add(1)
		metrics.PersistenceWrites.WithLabelValues("rejected").Inc()
	}
	metrics.PersistenceQueueUtilization.Set(float64(w.pool.QueueLen()) / float64(w.pool.QueueCap()))
	return ok
}

func (w *Writer) write(ctx context.Context, evt *v1.Event) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "persistence.save_event",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("event.id", evt.ID),
			attribute.String("event.type", evt.Type),
			attribute.String("event.source", string(evt.Source)),
		))
	defer span.End()

	err := w.save(ctx, evt)
	switch {
	case err == nil:
		w.written.Add(1)
		metrics.PersistenceWrites.WithLabelValues("ok").Inc()
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrDuplicate):
		w.duplicates.Add(1)
		metrics.PersistenceWrites.WithLabelValues("duplicate").Inc()
		span.SetStatus(codes.Ok, "duplicate")
		slog.Info("[Persistence] Event already stored",
			"event_id", evt.ID,
			"event_type", evt.Type)
	default:
		w.failed.Add(1)
		metrics.PersistenceWrites.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("[Persistence] Failed to store event",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"error", err)
	}
}

func (w *Writer) save(ctx context.Context, evt *v1.Event) error {
	rec, err := w.encoder.ForStorage(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return w.store.SaveEvent(ctx, rec)
}

// Stats returns the current counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Scheduled:  w.scheduled.Load(),
		Rejected:   w.rejected.Load(),
		Written:    w.written.Load(),
		Duplicates: w.duplicates.Load(),
		Failed:     w.failed.Load(),
		QueueLen:   w.pool.QueueLen(),
		QueueCap:   w.pool.QueueCap(),
	}
}

// Close stops accepting events and waits for queued writes to finish.
func (w *Writer) Close() {
	w.pool.Drain()
	metrics.PersistenceQueueUtilization.Set(0)
	slog.Info("[Persistence] Writer drained",
		"written", w.written.Load(),
		"failed", w.failed.Load())
}
