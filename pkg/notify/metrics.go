package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type outboxMetrics struct {
	enqueueTotal    *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	deadTotal       *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	messages        *prometheus.GaugeVec
}

var metricsSingleton = sync.OnceValue(func() *outboxMetrics {
	return &outboxMetrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqtrack",
			Subsystem: "outbox",
			Name:      "enqueue_total",
			Help:      "Total number of notifications written to the outbox.",
		}, []string{"event"}),
		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqtrack",
			Subsystem: "outbox",
			Name:      "dispatch_total",
			Help:      "Total number of outbox delivery attempts.",
		}, []string{"event", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqtrack",
			Subsystem: "outbox",
			Name:      "dead_total",
			Help:      "Total number of notifications that exhausted their attempts.",
		}, []string{"event"}),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reqtrack",
			Subsystem: "outbox",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency distribution for outbox deliveries.",
			Buckets: []float64{
				0.005, 0.01, 0.05,
				0.1, 0.25, 0.5,
				1, 2.5, 5, 10, 30,
			},
		}, []string{"event", "result"}),
		messages: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reqtrack",
			Subsystem: "outbox",
			Name:      "messages",
			Help:      "Current number of outbox messages by state.",
		}, []string{"state"}),
	}
})

func getMetrics() *outboxMetrics {
	return metricsSingleton()
}
