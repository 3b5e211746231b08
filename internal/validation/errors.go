package validation

import (
	"fmt"
	"sort"
	"strings"
)

// PayloadField is the pseudo field name used for whole-payload rejections.
const PayloadField = "_payload"

// Reasons for whole-payload rejections.
const (
	ReasonNotMapping      = "payload must be a JSON object"
	ReasonTooLarge        = "payload exceeds maximum size"
	ReasonNotSerializable = "payload is not serializable"
	ReasonTooManyKeys     = "payload has too many top-level keys"
)

// FieldError is one failed rule for one field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field '%s': %s", e.Field, e.Reason)
}

// ValidationError aggregates every field error found for one payload.
type ValidationError struct {
	EventType string
	Errors    []*FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("validation failed for %s", e.EventType)
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s (event %s)", e.Errors[0].Error(), e.EventType)
	}

	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed for %s: %s", e.EventType, strings.Join(msgs, "; "))
}

// ValidationDetailer surfaces structured validation details for API error responses.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

// Details maps each failed field to its reason.
func (e *ValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{}, len(e.Errors))
	for _, fe := range e.Errors {
		d[fe.Field] = fe.Reason
	}
	return d
}

// Fields returns the failed field names in sorted order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		fields = append(fields, fe.Field)
	}
	sort.Strings(fields)
	return fields
}

func newPayloadError(eventType, reason string) *ValidationError {
	return &ValidationError{
		EventType: eventType,
		Errors:    []*FieldError{{Field: PayloadField, Reason: reason}},
	}
}
