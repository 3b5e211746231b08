package errors

const (
	HttpInternalError      = "internal_error"
	HttpInvalidJsonError   = "invalid_json"
	HttpPayloadTooLarge    = "payload_too_large"
	HttpValidationError    = "validation_failed"
	HttpNotFoundError      = "not_found"
	HttpUnavailableError   = "unavailable"
	HttpInvalidEventType   = "invalid_event_type"
	HttpInvalidQueryError  = "invalid_query"
	HttpPipelineStoppedErr = "pipeline_stopped"
)

// ErrorResponse is the error response body for every HTTP error.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
