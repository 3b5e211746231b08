// Package outbound forwards selected events to external content-aggregation
// consumers as CloudEvents.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/metrics"
)

// DefaultForwardTypes are the chat and support events consumers aggregate.
var DefaultForwardTypes = []string{
	"channel.chat.message",
	"channel.follow",
	"channel.subscribe",
	"channel.subscription.gift",
	"channel.subscription.message",
	"channel.cheer",
}

// Sink delivers an encoded message and returns the broker's message id.
type Sink interface {
	Send(ctx context.Context, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Encoder builds the CloudEvent form of an event.
type Encoder interface {
	ForCloudEvent(evt *v1.Event) (cloudevents.Event, error)
}

// Stats counts publish outcomes.
type Stats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

// Publisher encodes events as CloudEvents and sends them to a Sink. It
// satisfies router.Handler; wrap it in a router.Forwarder so publishing
// never blocks routing.
type Publisher struct {
	encoder Encoder
	sink    Sink

	published atomic.Int64
	failed    atomic.Int64
}

func NewPublisher(encoder Encoder, sink Sink) *Publisher {
	return &Publisher{encoder: encoder, sink: sink}
}

// Handle publishes evt and waits for the broker to acknowledge it.
func (p *Publisher) Handle(ctx context.Context, evt *v1.Event) error {
	ce, err := p.encoder.ForCloudEvent(evt)
	if err != nil {
		p.fail()
		return fmt.Errorf("failed to encode event %s: %w", evt.ID, err)
	}

	data, attrs, err := buildMessage(&ce)
	if err != nil {
		p.fail()
		return err
	}

	id, err := p.sink.Send(ctx, data, attrs)
	if err != nil {
		p.fail()
		return err
	}

	p.published.Add(1)
	metrics.OutboundPublishes.WithLabelValues("ok").Inc()
	slog.Debug("[Outbound] Published event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"message_id", id)
	return nil
}

func (p *Publisher) fail() {
	p.failed.Add(1)
	metrics.OutboundPublishes.WithLabelValues("error").Inc()
}

// Stats returns the publish counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close releases the sink.
func (p *Publisher) Close() error {
	return p.sink.Close()
}

// buildMessage serializes a CloudEvent in structured mode and mirrors its
// context attributes as message attributes.
func buildMessage(event *cloudevents.Event) ([]byte, map[string]string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	attrs := map[string]string{
		"ce-id":          event.ID(),
		"ce-source":      event.Source(),
		"ce-type":        event.Type(),
		"ce-specversion": event.SpecVersion(),
		"content-type":   "application/cloudevents+json; charset=UTF-8",
	}

	for name, value := range event.Extensions() {
		if str, ok := value.(string); ok {
			attrs["ce-"+name] = str
		} else if raw, err := json.Marshal(value); err == nil {
			attrs["ce-"+name] = string(raw)
		}
	}

	return data, attrs, nil
}
