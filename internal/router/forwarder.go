package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	v1 "github.com/landale/eventpipe/internal/api/v1"
)

// ErrForwarderFull is returned when a Forwarder cannot accept another event.
var ErrForwarderFull = errors.New("forwarder queue full")

// Forwarder is a Handler that hands events to a buffered queue drained by its
// own goroutine, so a slow consumer never blocks routing.
type Forwarder struct {
	name    string
	handler Handler
	queue   chan *v1.Event

	// onFailure replaces the default log line when the router owns f
	onFailure func(evt *v1.Event, err error)

	once sync.Once
	done chan struct{}
}

// NewForwarder wraps h behind a queue of size slots.
func NewForwarder(name string, size int, h Handler) *Forwarder {
	if size <= 0 {
		size = 100
	}
	return &Forwarder{
		name:    name,
		handler: h,
		queue:   make(chan *v1.Event, size),
		done:    make(chan struct{}),
	}
}

// Handle enqueues evt, failing fast when the queue is full.
func (f *Forwarder) Handle(_ context.Context, evt *v1.Event) error {
	select {
	case f.queue <- evt:
		return nil
	default:
		return ErrForwarderFull
	}
}

// Run drains the queue until ctx is cancelled, then delivers what is left.
func (f *Forwarder) Run(ctx context.Context) error {
	defer f.once.Do(func() { close(f.done) })

	for {
		select {
		case evt := <-f.queue:
			f.deliver(ctx, evt)
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case evt := <-f.queue:
					f.deliver(drainCtx, evt)
				default:
					return nil
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (f *Forwarder) Done() <-chan struct{} {
	return f.done
}

func (f *Forwarder) deliver(ctx context.Context, evt *v1.Event) {
	if err := safeHandle(ctx, f.handler, evt); err != nil {
		if f.onFailure != nil {
			f.onFailure(evt, err)
			return
		}
		slog.Error("[Forwarder] Delivery failed",
			"forwarder", f.name,
			"event_id", evt.ID,
			"event_type", evt.Type,
			"error", err)
	}
}
