package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records registry activity for the /metrics endpoint.
type EscrowMetrics struct {
	Transitions *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Settled     *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Webhooks    *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Metrics returns the lazily-initialised escrow metrics registry. Collectors
// are registered with the default prometheus registerer exactly once.
func Metrics() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tesseracts",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Committed escrow state transitions segmented by operation.",
			}, []string{"operation"}),
			Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tesseracts",
				Subsystem: "escrow",
				Name:      "failures_total",
				Help:      "Rejected escrow operations segmented by operation and error kind.",
			}, []string{"operation", "kind"}),
			Settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tesseracts",
				Subsystem: "escrow",
				Name:      "settled_base_units_total",
				Help:      "Total settled value in base units segmented by currency and destination role.",
			}, []string{"currency", "destination"}),
			Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tesseracts",
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency of registry operations.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}, []string{"operation"}),
			Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tesseracts",
				Subsystem: "escrow",
				Name:      "webhook_deliveries_total",
				Help:      "Webhook delivery attempts segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			escrowRegistry.Transitions,
			escrowRegistry.Failures,
			escrowRegistry.Settled,
			escrowRegistry.Latency,
			escrowRegistry.Webhooks,
		)
	})
	return escrowRegistry
}
