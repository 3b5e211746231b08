// Package transform is the only place where events change shape: native
// producer payloads become canonical events, and canonical events become the
// realtime, storage and outbound wire formats.
package transform

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/validation"
)

// occurredAtFields are tried in order when recovering the producer timestamp.
var occurredAtFields = []string{
	"occurred_at",
	"timestamp",
	"followed_at",
	"redeemed_at",
	"started_at",
	"created_at",
	"time",
}

// correlationFields are tried in order when recovering a correlation id.
var correlationFields = []string{"correlation_id", "message_id"}

// legacySources maps un-namespaced event names still sent by older producers.
var legacySources = map[string]v1.Source{
	"stream_started":        v1.SourceOBS,
	"stream_stopped":        v1.SourceOBS,
	"recording_started":     v1.SourceOBS,
	"recording_stopped":     v1.SourceOBS,
	"scene_changed":         v1.SourceOBS,
	"connection_lost":       v1.SourceSystem,
	"service_down":          v1.SourceSystem,
	"authentication_failed": v1.SourceSystem,
}

// namespaceSources maps the first dotted segment of an event type to its source.
var namespaceSources = map[string]v1.Source{
	"channel":  v1.SourceTwitch,
	"stream":   v1.SourceTwitch,
	"obs":      v1.SourceOBS,
	"ironmon":  v1.SourceIronmon,
	"rainwave": v1.SourceRainwave,
	"system":   v1.SourceSystem,
}

// Transformer converts between native, canonical and output shapes.
// It holds only read-only lookup tables and is safe for concurrent use.
type Transformer struct {
	critical map[string]struct{}
	mappers  map[string]mapper
	now      func() time.Time
}

// New returns a Transformer. Types in criticalTypes are stamped with critical
// priority at construction.
func New(criticalTypes []string) *Transformer {
	critical := make(map[string]struct{}, len(criticalTypes))
	for _, t := range criticalTypes {
		critical[t] = struct{}{}
	}
	return &Transformer{
		critical: critical,
		mappers:  defaultMappers(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SourceFor infers the producer family from an event type.
func SourceFor(eventType string) v1.Source {
	if src, ok := legacySources[eventType]; ok {
		return src
	}
	ns, _, _ := strings.Cut(eventType, ".")
	if src, ok := namespaceSources[ns]; ok {
		return src
	}
	return v1.SourceSystem
}

// FromSource builds a canonical event from a producer's native payload.
// Every native key is kept; known types gain canonical alias fields.
// Unknown types pass through unchanged.
func (t *Transformer) FromSource(eventType string, native map[string]interface{}) *v1.Event {
	payload := v1.CopyPayload(native)

	if m, ok := t.mappers[eventType]; ok {
		m(payload)
	} else {
		slog.Info("[Transformer] No mapping for event type, passing payload through",
			"event_type", eventType,
			"keys", len(payload))
	}

	opts := []v1.Option{
		v1.WithOccurredAt(t.occurredAt(native)),
		v1.WithProcessedAt(t.now()),
	}
	if id := firstString(native, correlationFields...); id != "" {
		opts = append(opts, v1.WithCorrelationID(id))
	}
	if _, ok := t.critical[eventType]; ok {
		opts = append(opts, v1.WithPriority(v1.PriorityCritical))
	}

	return v1.NewEvent(eventType, SourceFor(eventType), payload, opts...)
}

// occurredAt returns the first parseable producer timestamp, else now.
func (t *Transformer) occurredAt(native map[string]interface{}) time.Time {
	for _, field := range occurredAtFields {
		if ts, ok := parseTimestamp(native[field]); ok {
			return ts
		}
	}
	return t.now()
}

// unixMillisThreshold separates unix seconds from unix milliseconds.
const unixMillisThreshold = 1e11

func parseTimestamp(v interface{}) (time.Time, bool) {
	switch ts := v.(type) {
	case string:
		if ts == "" {
			return time.Time{}, false
		}
		if parsed, ok := validation.ParseISO8601(ts); ok {
			return parsed, true
		}
		if f, err := strconv.ParseFloat(ts, 64); err == nil {
			return fromUnix(f)
		}
	case float64:
		return fromUnix(ts)
	case int64:
		return fromUnix(float64(ts))
	case int:
		return fromUnix(float64(ts))
	case time.Time:
		if !ts.IsZero() {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= unixMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
