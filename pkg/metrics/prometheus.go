package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboxEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerline_outbox_events_total",
			Help: "Outbox events handled by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	OutboxPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerline_outbox_pending_events",
			Help: "Unprocessed outbox events at the last stats read",
		},
	)

	OutboxBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerline_outbox_batch_duration_seconds",
			Help:    "Duration of one ProcessPendingEvents run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	FallbackServesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerline_attachment_fallback_serves_total",
			Help: "Attachment reads served from a fallback source; a rising rate is a CDN-health proxy",
		},
		[]string{"source"},
	)

	BlobOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerline_blob_operation_duration_seconds",
			Help:    "Blob store adapter call duration by operation",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"operation"},
	)
)

const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeEscalated = "escalated"
	OutcomeSkipped   = "skipped"
)
