// Package metrics exposes engine and HTTP counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements records.Observer on top of a Prometheus registry.
type Recorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgeinspect",
			Name:      "record_operations_total",
			Help:      "Engine operations by entity type, operation and outcome.",
		}, []string{"entity", "op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridgeinspect",
			Name:      "record_operation_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity", "op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridgeinspect",
			Name:      "code_generation_retries_total",
			Help:      "Code collisions that triggered a retry.",
		}, []string{"entity"}),
	}
	reg.MustRegister(r.operations, r.latency, r.retries)
	return r
}

func (r *Recorder) ObserveOperation(entityType, op, outcome string, elapsed time.Duration) {
	r.operations.WithLabelValues(entityType, op, outcome).Inc()
	r.latency.WithLabelValues(entityType, op).Observe(elapsed.Seconds())
}

func (r *Recorder) CodeRetry(entityType string) {
	r.retries.WithLabelValues(entityType).Inc()
}
