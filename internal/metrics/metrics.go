package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"outcome"})

	CheckoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shop",
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "End-to-end checkout transaction latency.",
		Buckets:   prometheus.DefBuckets,
	})

	NotificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Best-effort notification dispatches that returned an error.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(CheckoutTotal, CheckoutDuration, NotificationFailures)
}

const (
	OutcomeSuccess           = "success"
	OutcomeEmptyCart         = "empty_cart"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeError             = "error"
)

func Handler() http.Handler {
	return promhttp.Handler()
}
