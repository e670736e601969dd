package paymentgateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gatewayRequestsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "billing",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Payment gateway calls by gateway, operation and outcome.",
	},
	[]string{"gateway", "operation", "outcome"},
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
