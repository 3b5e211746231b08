package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/core/storage"
	"github.com/landale/eventpipe/internal/router"
	"github.com/landale/eventpipe/internal/transform"
	"github.com/landale/eventpipe/internal/validation"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"
)

// eventTypePattern bounds the event type taken from the URL.
var eventTypePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

const maxEventTypeLength = 128

// Router is the routing entry point the service feeds.
type Router interface {
	Route(ctx context.Context, evt *v1.Event, opts ...router.RouteOption) error
}

// StatsFunc reports pipeline statistics for the stats endpoint.
type StatsFunc func(ctx context.Context) (map[string]interface{}, error)

type Service struct {
	transformer      *transform.Transformer
	validator        *validation.Validator
	router           Router
	store            storage.EventStore
	stats            StatsFunc
	maxBodySizeBytes int64
	lookups          singleflight.Group // Dedupe concurrent reads of the same event id
}

// NewService wires the producer boundary. store may be nil when storage is
// disabled; the read endpoint then reports unavailable.
func NewService(tr *transform.Transformer, val *validation.Validator, r Router, store storage.EventStore, maxBodySizeKB int) *Service {
	if tr == nil {
		panic("ingestion: transformer must not be nil")
	}
	if val == nil {
		panic("ingestion: validator must not be nil")
	}
	if r == nil {
		panic("ingestion: router must not be nil")
	}
	if maxBodySizeKB <= 0 {
		maxBodySizeKB = 256
	}
	return &Service{
		transformer:      tr,
		validator:        val,
		router:           r,
		store:            store,
		maxBodySizeBytes: int64(maxBodySizeKB) * 1024,
	}
}

// WithStats sets the stats provider served on /v1/stats.
func (s *Service) WithStats(fn StatsFunc) *Service {
	s.stats = fn
	return s
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events/:event_type", s.IngestHandler)
	r.GET("/v1/events", s.ListEventsHandler)
	r.GET("/v1/events/:event_id", s.GetEventHandler)
	r.GET("/v1/stats", s.StatsHandler)
}

// Accept normalizes, validates and routes one native payload. A rejected
// payload never reaches the router and is returned as a
// *validation.ValidationError.
func (s *Service) Accept(ctx context.Context, eventType string, raw interface{}, opts ...router.RouteOption) (*v1.Event, error) {
	if err := checkEventType(eventType); err != nil {
		return nil, err
	}

	native, ok := raw.(map[string]interface{})
	if !ok {
		// non-mappings are rejected by the validator before any mapping runs
		_, err := s.validator.Validate(eventType, raw)
		return nil, err
	}

	evt := s.transformer.FromSource(eventType, native)

	clean, err := s.validator.Validate(eventType, evt.Payload)
	if err != nil {
		return nil, err
	}
	evt = evt.WithPayload(clean)

	if err := s.router.Route(ctx, evt, opts...); err != nil {
		return nil, fmt.Errorf("failed to route event %s: %w", evt.ID, err)
	}

	slog.Debug("[Ingestion] Accepted event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"source", evt.Source)
	return evt, nil
}

// InvalidEventTypeError reports a malformed event type.
type InvalidEventTypeError struct {
	EventType string
}

func (e *InvalidEventTypeError) Error() string {
	return fmt.Sprintf("invalid event type %q", e.EventType)
}

func checkEventType(eventType string) error {
	if eventType == "" || len(eventType) > maxEventTypeLength || !eventTypePattern.MatchString(eventType) {
		return &InvalidEventTypeError{EventType: eventType}
	}
	return nil
}
