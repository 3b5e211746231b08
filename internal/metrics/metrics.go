package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpipe_events_routed_total",
		Help: "Total number of events routed, labelled by path (batched or immediate).",
	}, []string{"path"})

	ValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpipe_validation_rejections_total",
		Help: "Total number of payloads rejected by the validator, labelled by event type.",
	}, []string{"event_type"})

	BatchesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventpipe_batches_emitted_total",
		Help: "Total number of batch events emitted by the batching engine.",
	})

	BatchingDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventpipe_batching_dropped_total",
		Help: "Total number of events shed because the batch buffer was full.",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventpipe_batch_size_events",
		Help:    "Number of events carried by each emitted batch.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpipe_bus_dropped_total",
		Help: "Total number of deliveries dropped because a subscriber buffer was full, labelled by topic.",
	}, []string{"topic"})

	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpipe_handler_failures_total",
		Help: "Total number of type-specific handler failures, labelled by event type.",
	}, []string{"event_type"})

	PersistenceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpipe_persistence_writes_total",
		Help: "Total number of storage writes, labelled by status.",
	}, []string{"status"})

	PersistenceQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventpipe_persistence_queue_utilization_ratio",
		Help: "Current persistence queue utilization (0-1).",
	})

	OutboundPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpipe_outbound_publishes_total",
		Help: "Total number of events forwarded to the outbound topic, labelled by status.",
	}, []string{"status"})
)
