// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded for inbound HBI events.
const (
	OutcomeProcessed   = "processed"
	OutcomeSkipped     = "skipped"
	OutcomeUnsupported = "unsupported"
	OutcomeFailed      = "failed"
)

// Results recorded for outbox rows.
const (
	OutboxPublished = "published"
	OutboxDropped   = "dropped"
	OutboxFailed    = "failed"
)

var (
	// HbiEventsTotal counts inbound HBI events by type and outcome
	HbiEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "hbi",
			Name:      "events_total",
			Help:      "Total number of inbound HBI events by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// HbiEventDuration times the processing of one inbound message
	HbiEventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "hbi",
			Name:      "event_processing_seconds",
			Help:      "Duration of inbound HBI event processing in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"event_type"},
	)

	// OutboundEventsStaged counts normalized events written to the outbox
	OutboundEventsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "outbox",
			Name:      "events_staged_total",
			Help:      "Total number of normalized events staged in the outbox by event type",
		},
		[]string{"event_type"},
	)

	// OutboxRecordsTotal counts outbox rows handled by flushes
	OutboxRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "outbox",
			Name:      "records_total",
			Help:      "Total number of outbox records handled by flush result",
		},
		[]string{"result"},
	)

	// OutboxFlushDuration times complete flush runs
	OutboxFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "outbox",
			Name:      "flush_duration_seconds",
			Help:      "Duration of outbox flush runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// OutboxPending tracks rows waiting after the last flush
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "outbox",
			Name:      "pending_records",
			Help:      "Number of outbox records pending after the last flush",
		},
	)

	// ConsumerRestartsTotal counts consumer sessions abandoned for redelivery
	ConsumerRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "consumer",
			Name:      "restarts_total",
			Help:      "Total number of consumer sessions restarted after a processing failure",
		},
	)
)
