package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	httperr "github.com/landale/eventpipe/internal/core/errors"
	"github.com/landale/eventpipe/internal/core/storage"
	"github.com/landale/eventpipe/internal/router"
	"github.com/landale/eventpipe/internal/transform"
	"github.com/landale/eventpipe/internal/validation"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed    = "Failed to read request body"
	msgInvalidJSON       = "Invalid JSON body"
	msgRouteFailed       = "Failed to route event"
	msgPipelineStopped   = "Pipeline is shutting down"
	msgStorageDisabled   = "Event storage is disabled"
	msgEventNotFound     = "Event not found"
	msgLoadFailed        = "Failed to load event"
	msgStatsUnavailable  = "Statistics are unavailable"
	msgValidationFailure = "Payload validation failed"
	msgInvalidQuery      = "Invalid query parameters"
	msgListFailed        = "Failed to list events"

	statsTimeout     = 2 * time.Second
	defaultListLimit = 100
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles POST /v1/events/:event_type. The body is the
// producer's native JSON payload.
func (s *Service) IngestHandler(c *gin.Context) {
	eventType := c.Param("event_type")

	raw, payloadSize, ierr := s.parseBody(c)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	evt, err := s.Accept(c.Request.Context(), eventType, raw)
	if err != nil {
		writeError(c, classifyAcceptError(eventType, err))
		return
	}

	slog.Info("Received Event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"source", evt.Source,
		"priority", evt.Metadata.Priority,
		"payload_size", payloadSize)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": evt.ID})
}

// parseBody reads the size-limited request body and decodes it as JSON.
// Returns the decoded value and the raw payload size (used for structured logging upstream).
func (s *Service) parseBody(c *gin.Context) (interface{}, int, *ingestionError) {
	maxBytes := s.maxBodySizeBytes
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLarge,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_kb": maxBytes / 1024,
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var raw interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return raw, len(bodyBytes), nil
}

func classifyAcceptError(eventType string, err error) *ingestionError {
	var typeErr *InvalidEventTypeError
	if errors.As(err, &typeErr) {
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidEventType,
			message:    typeErr.Error(),
		}
	}

	var verr *validation.ValidationError
	if errors.As(err, &verr) {
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    msgValidationFailure,
			details:    verr.Details(),
		}
	}

	if errors.Is(err, router.ErrStopped) {
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpPipelineStoppedErr,
			message:    msgPipelineStopped,
		}
	}

	slog.Error("Failed to route event", "event_type", eventType, "error", err)
	return &ingestionError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgRouteFailed,
	}
}

// GetEventHandler handles GET /v1/events/:event_id by decoding the stored record.
func (s *Service) GetEventHandler(c *gin.Context) {
	if s.store == nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpUnavailableError,
			message:    msgStorageDisabled,
		})
		return
	}

	id := c.Param("event_id")
	rec, err := s.loadRecord(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(c, &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpNotFoundError,
			message:    msgEventNotFound,
		})
		return
	}
	if err != nil {
		slog.Error("Failed to load event", "event_id", id, "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgLoadFailed,
		})
		return
	}

	evt, err := s.transformer.FromStorage(rec)
	if err != nil {
		slog.Error("Failed to decode stored event", "event_id", id, "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgLoadFailed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"seq":   rec.Seq,
		"event": s.transformer.ForOutbound(evt),
	})
}

// listQuery selects stored events after a seq cursor, optionally of one type.
type listQuery struct {
	Type     string `form:"type"`
	AfterSeq int64  `form:"after_seq" binding:"min=0"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// ListEventsHandler handles GET /v1/events for replaying stored events in seq
// order. Clients page by passing the last seq they saw as after_seq.
func (s *Service) ListEventsHandler(c *gin.Context) {
	if s.store == nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpUnavailableError,
			message:    msgStorageDisabled,
		})
		return
	}

	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidQueryError,
			message:    msgInvalidQuery,
			details:    err.Error(),
		})
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultListLimit
	}

	recs, err := s.store.ListEvents(c.Request.Context(), query.Type, query.AfterSeq, query.Limit)
	if err != nil {
		slog.Error("Failed to list events", "event_type", query.Type, "after_seq", query.AfterSeq, "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgListFailed,
		})
		return
	}

	events := make([]transform.OutboundPayload, 0, len(recs))
	nextSeq := query.AfterSeq
	for _, rec := range recs {
		nextSeq = rec.Seq
		evt, err := s.transformer.FromStorage(rec)
		if err != nil {
			slog.Warn("Skipping undecodable stored event", "event_id", rec.ID, "seq", rec.Seq, "error", err)
			continue
		}
		events = append(events, s.transformer.ForOutbound(evt))
	}

	c.JSON(http.StatusOK, gin.H{
		"events":   events,
		"next_seq": nextSeq,
	})
}

func (s *Service) loadRecord(ctx context.Context, id string) (*storage.Record, error) {
	v, err, _ := s.lookups.Do(id, func() (interface{}, error) {
		return s.store.GetEvent(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*storage.Record), nil
}

// StatsHandler handles GET /v1/stats.
func (s *Service) StatsHandler(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), statsTimeout)
	defer cancel()

	stats, err := s.stats(ctx)
	if err != nil {
		slog.Warn("Failed to collect stats", "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpUnavailableError,
			message:    msgStatsUnavailable,
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
