package emailprovider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestDurationHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collections",
		Name:      "email_provider_request_duration_seconds",
		Help:      "Duration of requests to the outbound email provider.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	providerErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collections",
		Name:      "email_provider_errors_total",
		Help:      "Sends rejected by the outbound email provider.",
	}, []string{"provider"})
)
