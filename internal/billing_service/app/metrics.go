package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutSessionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions requested through payment links, by outcome.",
		},
		[]string{"outcome"},
	)

	paymentWebhooksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "payment_webhooks_total",
			Help:      "Payment webhooks by outcome (applied, duplicate, ignored, rejected, error).",
		},
		[]string{"outcome"},
	)

	collectedCentsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "collected_cents_total",
			Help:      "Minor currency units collected from debtors.",
		},
		[]string{"currency"},
	)
)
