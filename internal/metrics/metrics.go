// Package metrics provides Prometheus instrumentation for the gating core.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts classification outcomes by result kind.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foldset",
			Name:      "decisions_total",
			Help:      "Request classification outcomes by result kind.",
		},
		[]string{"result"},
	)

	// PaymentErrorsTotal counts payment-required responses by rule kind.
	PaymentErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foldset",
			Name:      "payment_errors_total",
			Help:      "Payment-required responses emitted by rule kind.",
		},
		[]string{"rule_kind"},
	)

	// SettlementsTotal counts settlement outcomes.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foldset",
			Name:      "settlements_total",
			Help:      "Settlement outcomes by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(DecisionsTotal, PaymentErrorsTotal, SettlementsTotal)
}

// Handler exposes the registry on a gin route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
