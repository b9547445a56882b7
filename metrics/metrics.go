package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_captured_total",
			Help: "Total number of security events captured",
		},
		[]string{"type", "severity"},
	)

	EventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_events_rejected_total",
			Help: "Total number of events rejected by validation",
		},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_verdicts_total",
			Help: "Total number of policy verdicts by resolved action",
		},
		[]string{"action"},
	)

	QuarantinesTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_quarantines_triggered_total",
			Help: "Total number of sandboxes placed in quarantine",
		},
	)

	QuarantinesReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_quarantines_released_total",
			Help: "Total number of quarantine releases",
		},
	)

	CaptureDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_capture_duration_seconds",
			Help:    "Time taken to capture and evaluate an event",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_anomalies_detected_total",
			Help: "Total number of anomalies flagged by aggregation",
		},
		[]string{"kind"},
	)

	ProvenanceSigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_provenance_signed_total",
			Help: "Total number of signed result attestations",
		},
	)

	ProvenanceAnchored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_provenance_anchored_total",
			Help: "Total number of chain anchor attempts by outcome",
		},
		[]string{"outcome"},
	)

	StreamDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_stream_dropped_total",
			Help: "Total number of notifications dropped by slow subscribers",
		},
		[]string{"subscriber"},
	)

	ForwarderBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_forwarder_batches_total",
			Help: "Total number of forwarded event batches by outcome",
		},
		[]string{"outcome"},
	)
)
