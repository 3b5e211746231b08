// Package validation rejects or sanitizes untrusted event payloads before
// they enter the routing pipeline.
package validation

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/landale/eventpipe/internal/metrics"
)

const (
	// MaxPayloadBytes bounds the serialized size of any payload.
	MaxPayloadBytes = 100 * 1024

	// MaxGenericKeys bounds the top-level key count for types without a schema.
	MaxGenericKeys = 100

	maxSampleLen = 64
)

// sampleFields are logged with rejections. Everything else in a payload stays out of logs.
var sampleFields = []string{"id", "message_id", "user_id", "user_login", "chatter_user_login", "broadcaster_user_id"}

// Validator checks payloads against a static per-type schema table.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	schemas map[string]Schema
}

// New returns a Validator loaded with the built-in schemas.
func New() *Validator {
	return &Validator{schemas: defaultSchemas()}
}

// NewWithSchemas returns a Validator using only the given schemas.
func NewWithSchemas(schemas map[string]Schema) *Validator {
	cp := make(map[string]Schema, len(schemas))
	for k, v := range schemas {
		cp[k] = v
	}
	return &Validator{schemas: cp}
}

// Known reports whether eventType has a dedicated schema.
func (v *Validator) Known(eventType string) bool {
	_, ok := v.schemas[eventType]
	return ok
}

// Validate checks raw against the schema for eventType and returns a sanitized
// copy. A rejection is always a *ValidationError.
func (v *Validator) Validate(eventType string, raw interface{}) (map[string]interface{}, error) {
	payload, ok := raw.(map[string]interface{})
	if !ok {
		return nil, v.reject(newPayloadError(eventType, ReasonNotMapping), nil)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, v.reject(newPayloadError(eventType, ReasonNotSerializable), payload)
	}
	if len(encoded) > MaxPayloadBytes {
		return nil, v.reject(newPayloadError(eventType, ReasonTooLarge), payload)
	}

	schema, ok := v.schemas[eventType]
	if !ok {
		return v.validateGeneric(eventType, payload)
	}

	clean, errs := schema.apply(payload)
	if len(errs) > 0 {
		return nil, v.reject(&ValidationError{EventType: eventType, Errors: errs}, payload)
	}
	return clean, nil
}

// validateGeneric only bounds the shape of payloads for types without a schema.
func (v *Validator) validateGeneric(eventType string, payload map[string]interface{}) (map[string]interface{}, error) {
	if len(payload) > MaxGenericKeys {
		return nil, v.reject(newPayloadError(eventType, ReasonTooManyKeys), payload)
	}

	slog.Debug("[Validator] No schema for event type, using generic checks", "event_type", eventType)

	clean := make(map[string]interface{}, len(payload))
	for k, val := range payload {
		clean[k] = val
	}
	return clean, nil
}

func (v *Validator) reject(verr *ValidationError, payload map[string]interface{}) *ValidationError {
	metrics.ValidationRejections.WithLabelValues(verr.EventType).Inc()

	sample := safeSample(payload)
	for _, fe := range verr.Errors {
		slog.Warn("[Validator] Payload rejected",
			"event_type", verr.EventType,
			"field", fe.Field,
			"reason", fe.Reason,
			"sample", sample)
	}
	return verr
}

// safeSample extracts a few identifying fields, truncated, for log context.
func safeSample(payload map[string]interface{}) map[string]string {
	sample := make(map[string]string)
	for _, key := range sampleFields {
		s, ok := payload[key].(string)
		if !ok {
			continue
		}
		if len(s) > maxSampleLen {
			s = s[:maxSampleLen]
		}
		sample[key] = s
	}
	return sample
}

func sortedKeys(s Schema) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
