package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pumpdrive_requests_total",
			Help: "Recommendation requests served, by result kind and cache outcome",
		},
		[]string{"kind", "cache"},
	)

	RequestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pumpdrive_request_latency_seconds",
			Help:    "End-to-end latency of recommendation requests",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	CacheSimilarity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pumpdrive_cache_similarity",
			Help:    "Similarity of reused cache entries",
			Buckets: []float64{0.85, 0.9, 0.95, 0.99, 1},
		},
	)

	EstimatedCostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pumpdrive_estimated_cost_usd_total",
			Help: "Estimated spend on external generation calls in USD",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pumpdrive_queue_depth",
			Help: "Requests waiting for the generation worker",
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pumpdrive_circuit_breaker_state",
			Help: "Generation circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pumpdrive_analytics_dropped_total",
			Help: "Analytics records dropped because the write buffer was full",
		},
	)
)
