package requests

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type workflowMetrics struct {
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *workflowMetrics {
	return &workflowMetrics{
		transitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqtrack",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Total number of transition attempts broken down by edge and outcome.",
		}, []string{"from", "to", "outcome"}),
		transitionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reqtrack",
			Subsystem: "workflow",
			Name:      "transition_duration_seconds",
			Help:      "Latency distribution for transition attempts.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05,
				0.1, 0.25, 0.5, 1,
				2.5, 5,
			},
		}, []string{"outcome"}),
		notificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqtrack",
			Subsystem: "workflow",
			Name:      "notifications_total",
			Help:      "Total number of transition notifications broken down by event and result.",
		}, []string{"event", "result"}),
	}
})

func getMetrics() *workflowMetrics {
	return metricsSingleton()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(KindOf(err))
}

func recordTransition(from, to Status, err error, elapsed time.Duration) {
	m := getMetrics()
	outcome := outcomeLabel(err)
	m.transitionsTotal.WithLabelValues(string(from), string(to), outcome).Inc()
	m.transitionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func recordNotification(event string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	getMetrics().notificationsTotal.WithLabelValues(event, result).Inc()
}
