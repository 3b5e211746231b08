package v1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies which producer family an event came from.
type Source string

const (
	SourceTwitch   Source = "twitch"   // platform webhooks
	SourceOBS      Source = "obs"      // streaming-software control socket
	SourceIronmon  Source = "ironmon"  // game/device telemetry
	SourceRainwave Source = "rainwave" // media-player poller
	SourceSystem   Source = "system"   // internal lifecycle
)

// Sources lists every known source in a stable order.
var Sources = []Source{SourceTwitch, SourceOBS, SourceIronmon, SourceRainwave, SourceSystem}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceTwitch, SourceOBS, SourceIronmon, SourceRainwave, SourceSystem:
		return true
	}
	return false
}

// Priority decides whether an event may wait in a batch window.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
)

// BatchEventType is reserved for the synthetic events produced by the batching engine.
const BatchEventType = "event.batch"

// Metadata is the pipeline-owned side channel of an event.
type Metadata struct {
	// CorrelationID links events that belong to the same upstream interaction.
	CorrelationID string `json:"correlation_id,omitempty"`

	// BatchID is set only on batch events.
	BatchID string `json:"batch_id,omitempty"`

	Priority Priority `json:"priority"`

	// ProcessedAt is when the pipeline built this event (server-side clock).
	ProcessedAt time.Time `json:"processed_at"`

	// priorityExplicit records that the producer asked for this priority
	// rather than it being defaulted. Not serialized.
	priorityExplicit bool
}

// Event is the canonical form every producer's native event is normalized into.
// Events are treated as immutable once built; derive copies with WithPayload.
type Event struct {
	// ID is a per-process unique identifier (UUIDv4 unless supplied).
	ID string `json:"id"`

	// Type is the dotted domain name, e.g. "channel.chat.message".
	Type string `json:"type"`

	Source Source `json:"source"`

	// OccurredAt is the producer-side timestamp when one could be recovered.
	OccurredAt time.Time `json:"occurred_at"`

	// Payload is the normalized, sanitized body. Never nil.
	Payload map[string]interface{} `json:"payload"`

	Metadata Metadata `json:"metadata"`
}

// Option customizes an event at construction time.
type Option func(*Event)

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.ID = id
		}
	}
}

// WithOccurredAt sets the producer timestamp.
func WithOccurredAt(t time.Time) Option {
	return func(e *Event) {
		if !t.IsZero() {
			e.OccurredAt = t.UTC()
		}
	}
}

// WithCorrelationID sets the correlation identifier.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.Metadata.CorrelationID = id
	}
}

// WithPriority marks the event with an explicit priority.
func WithPriority(p Priority) Option {
	return func(e *Event) {
		if p == "" {
			return
		}
		e.Metadata.Priority = p
		e.Metadata.priorityExplicit = true
	}
}

// WithBatchID sets the batch identifier.
func WithBatchID(id string) Option {
	return func(e *Event) {
		e.Metadata.BatchID = id
	}
}

// WithProcessedAt overrides the processing timestamp.
func WithProcessedAt(t time.Time) Option {
	return func(e *Event) {
		if !t.IsZero() {
			e.Metadata.ProcessedAt = t.UTC()
		}
	}
}

// NewEvent builds a canonical event. The payload is deep-copied so later
// changes by the caller are not observed.
func NewEvent(eventType string, source Source, payload map[string]interface{}, opts ...Option) *Event {
	now := time.Now().UTC()
	e := &Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Source:     source,
		OccurredAt: now,
		Payload:    CopyPayload(payload),
		Metadata: Metadata{
			Priority:    PriorityNormal,
			ProcessedAt: now,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithPayload returns a copy of the event carrying a different payload.
func (e *Event) WithPayload(payload map[string]interface{}) *Event {
	cp := *e
	cp.Payload = CopyPayload(payload)
	return &cp
}

// Prioritized returns a copy of the event carrying priority p.
// The receiver is returned unchanged when it already has p.
func (e *Event) Prioritized(p Priority) *Event {
	if e.Metadata.Priority == p {
		return e
	}
	cp := *e
	cp.Metadata.Priority = p
	return &cp
}

// PriorityExplicit reports whether the priority was set by the producer
// instead of defaulted.
func (e *Event) PriorityExplicit() bool {
	return e.Metadata.priorityExplicit
}

// IsCritical reports whether the event carries critical priority.
func (e *Event) IsCritical() bool {
	return e.Metadata.Priority == PriorityCritical
}

// IsBatch reports whether the event is a batch of other events.
func (e *Event) IsBatch() bool {
	return e.Type == BatchEventType
}

// Validate ensures the event has all required envelope attributes.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if e.Type == "" {
		return fmt.Errorf("type is required")
	}

	if e.Source == "" {
		return fmt.Errorf("source is required")
	}

	if !e.Source.Valid() {
		return fmt.Errorf("unknown source %q", e.Source)
	}

	if e.Payload == nil {
		return fmt.Errorf("payload is required")
	}

	if e.Metadata.Priority != PriorityCritical && e.Metadata.Priority != PriorityNormal {
		return fmt.Errorf("invalid priority %q", e.Metadata.Priority)
	}

	return nil
}

// NewBatchEvent wraps events that share a topic into one batch event.
// Contained events keep their arrival order.
func NewBatchEvent(topic string, events []*Event) *Event {
	batchID := uuid.New().String()
	contained := make([]*Event, len(events))
	copy(contained, events)

	e := NewEvent(BatchEventType, SourceSystem, nil, WithBatchID(batchID))
	e.Payload = map[string]interface{}{
		"events":   contained,
		"count":    len(contained),
		"batch_id": batchID,
		"topic":    topic,
	}
	return e
}

// BatchEvents returns the events carried by a batch event.
func BatchEvents(e *Event) ([]*Event, bool) {
	if e == nil || !e.IsBatch() {
		return nil, false
	}
	events, ok := e.Payload["events"].([]*Event)
	return events, ok
}

// BatchTopic returns the topic a batch event was built for.
func BatchTopic(e *Event) string {
	if e == nil {
		return ""
	}
	topic, _ := e.Payload["topic"].(string)
	return topic
}

// CopyPayload deep-copies nested maps and slices. Scalars are shared.
func CopyPayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CopyPayload(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []*Event:
		out := make([]*Event, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
