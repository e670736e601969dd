package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboundProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "inbound_emails_processed_total",
			Help:      "Inbound notifications handled by the reply pipeline.",
		},
		[]string{"outcome"}, // "replied", "ignored", "failed"
	)

	pipelineStageFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "pipeline_stage_failures_total",
			Help:      "Reply pipeline aborts, by the stage that failed.",
		},
		[]string{"stage"},
	)

	pipelineStageDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "collections",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each reply pipeline stage.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	threadResolutionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "thread_resolutions_total",
			Help:      "Thread resolutions by path.",
		},
		[]string{"path"}, // "reply_header", "sender_existing", "sender_created"
	)

	deliveryEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "delivery_events_total",
			Help:      "Delivery tracking events received.",
		},
		[]string{"event", "matched"},
	)

	eventPublishFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collections",
			Name:      "event_publish_failures_total",
			Help:      "Domain events that could not be published.",
		},
		[]string{"subject"},
	)
)
