// Package metrics provides Prometheus metrics collection for docmap.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for docmap.
type Collector struct {
	// Store metrics
	StoreOps        *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec

	// Codec metrics
	LegacyFallbacks *prometheus.CounterVec

	// Validation metrics
	ValidationFailures *prometheus.CounterVec
}

// New creates a new metrics collector with all metrics registered
// on the default registry.
func New() *Collector {
	return &Collector{
		StoreOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "store_operations_total",
				Help:      "Total number of document store operations",
			},
			[]string{"op", "collection", "outcome"},
		),
		StoreOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docmap",
				Name:      "store_operation_duration_seconds",
				Help:      "Document store operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op", "collection"},
		),
		LegacyFallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "legacy_field_fallbacks_total",
				Help:      "Total number of fields decoded from legacy names",
			},
			[]string{"type", "field"},
		),
		ValidationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "validation_failures_total",
				Help:      "Total number of document validation failures",
			},
			[]string{"type"},
		),
	}
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		StoreOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "store_operations_total",
				Help:      "Total number of document store operations",
			},
			[]string{"op", "collection", "outcome"},
		),
		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docmap",
				Name:      "store_operation_duration_seconds",
				Help:      "Document store operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op", "collection"},
		),
		LegacyFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "legacy_field_fallbacks_total",
				Help:      "Total number of fields decoded from legacy names",
			},
			[]string{"type", "field"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "validation_failures_total",
				Help:      "Total number of document validation failures",
			},
			[]string{"type"},
		),
	}
}
