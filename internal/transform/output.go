package transform

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/core/storage"
)

// CloudEventSourcePrefix prefixes the CloudEvents source attribute.
const CloudEventSourcePrefix = "eventpipe/"

// storagePrecision matches Postgres timestamptz resolution.
const storagePrecision = time.Microsecond

// OutboundPayload is the flat envelope sent to external APIs.
type OutboundPayload struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	Source        string                 `json:"source"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	OccurredAt    string                 `json:"occurred_at"`
	ProcessedAt   string                 `json:"processed_at"`
}

// ForRealtimeFeed strips pipeline metadata down to the display wire shape.
// Batch events carry realtime projections of their contained events.
func (t *Transformer) ForRealtimeFeed(evt *v1.Event) map[string]interface{} {
	data := evt.Payload
	if inner, ok := v1.BatchEvents(evt); ok {
		projected := make([]map[string]interface{}, len(inner))
		for i, e := range inner {
			projected[i] = t.ForRealtimeFeed(e)
		}
		data = map[string]interface{}{
			"events":   projected,
			"count":    len(projected),
			"batch_id": evt.Metadata.BatchID,
			"topic":    v1.BatchTopic(evt),
		}
	}

	return map[string]interface{}{
		"id":        evt.ID,
		"type":      evt.Type,
		"data":      data,
		"timestamp": evt.OccurredAt.UnixMilli(),
	}
}

// ForStorage encodes an event for the durable store.
func (t *Transformer) ForStorage(evt *v1.Event) (*storage.Record, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return &storage.Record{
		ID:            evt.ID,
		Type:          evt.Type,
		Source:        string(evt.Source),
		Priority:      string(evt.Metadata.Priority),
		CorrelationID: evt.Metadata.CorrelationID,
		BatchID:       evt.Metadata.BatchID,
		OccurredAt:    evt.OccurredAt.UTC().Truncate(storagePrecision),
		ProcessedAt:   evt.Metadata.ProcessedAt.UTC().Truncate(storagePrecision),
		Payload:       payload,
		Metadata:      metadata,
	}, nil
}

// FromStorage decodes a stored record back into a canonical event.
func (t *Transformer) FromStorage(rec *storage.Record) (*v1.Event, error) {
	payload := make(map[string]interface{})
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	var meta v1.Metadata
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	// columns are authoritative over the metadata document
	if rec.Priority != "" {
		meta.Priority = v1.Priority(rec.Priority)
	}
	if meta.Priority == "" {
		meta.Priority = v1.PriorityNormal
	}
	if rec.CorrelationID != "" {
		meta.CorrelationID = rec.CorrelationID
	}
	if rec.BatchID != "" {
		meta.BatchID = rec.BatchID
	}
	if !rec.ProcessedAt.IsZero() {
		meta.ProcessedAt = rec.ProcessedAt.UTC()
	}

	return &v1.Event{
		ID:         rec.ID,
		Type:       rec.Type,
		Source:     v1.Source(rec.Source),
		OccurredAt: rec.OccurredAt.UTC(),
		Payload:    payload,
		Metadata:   meta,
	}, nil
}

// ForOutbound builds the flat API envelope with ISO-8601 timestamps.
func (t *Transformer) ForOutbound(evt *v1.Event) OutboundPayload {
	return OutboundPayload{
		EventID:       evt.ID,
		EventType:     evt.Type,
		Source:        string(evt.Source),
		Payload:       v1.CopyPayload(evt.Payload),
		CorrelationID: evt.Metadata.CorrelationID,
		OccurredAt:    evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		ProcessedAt:   evt.Metadata.ProcessedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ForCloudEvent wraps the outbound envelope in a CloudEvents 1.0 event.
func (t *Transformer) ForCloudEvent(evt *v1.Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(evt.ID)
	ce.SetSource(CloudEventSourcePrefix + string(evt.Source))
	ce.SetType(evt.Type)
	ce.SetTime(evt.OccurredAt)
	ce.SetExtension("priority", string(evt.Metadata.Priority))
	if evt.Metadata.CorrelationID != "" {
		ce.SetExtension("correlationid", evt.Metadata.CorrelationID)
	}

	if err := ce.SetData(cloudevents.ApplicationJSON, t.ForOutbound(evt)); err != nil {
		return ce, fmt.Errorf("failed to set cloudevent data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return ce, fmt.Errorf("invalid cloudevent: %w", err)
	}
	return ce, nil
}
