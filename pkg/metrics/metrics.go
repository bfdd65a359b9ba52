// Package metrics exposes sampling counters in Prometheus format.
//
// Each Metrics value owns its registry, so several engines (or tests) can run
// in one process without sharing counters. A batch run writes the registry
// to a node-exporter textfile at the end; see WriteTextfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edgesample"

// Metrics groups every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	// Edges counts offered edges by policy and outcome action.
	Edges *prometheus.CounterVec
	// Evictions counts entries displaced by a new edge.
	Evictions *prometheus.CounterVec
	// Pruned counts entries removed by decay, by trigger.
	Pruned *prometheus.CounterVec
	// Issues counts malformed records that were skipped.
	Issues prometheus.Counter
	// Units counts processed units by status.
	Units *prometheus.CounterVec
	// StoreSize is the number of live entries after the last unit.
	StoreSize prometheus.Gauge
	// StoreWeight is the summed weight after the last unit.
	StoreWeight prometheus.Gauge
	// LastUnit is the number of the last unit processed.
	LastUnit prometheus.Gauge
	// StreamPosition is the occurrence counter N of slot-based policies.
	StreamPosition prometheus.Gauge
	// UnitDuration measures how long one unit takes end to end.
	UnitDuration prometheus.Histogram
}

// New creates a Metrics value with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Edges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edges_total",
				Help:      "Edges offered to the sampling policy, by outcome",
			},
			[]string{"policy", "action"},
		),
		Evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Sample entries evicted to make room for a new edge",
			},
			[]string{"policy"},
		),
		Pruned: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pruned_total",
				Help:      "Sample entries removed by decay and threshold pruning",
			},
			[]string{"policy", "trigger"},
		),
		Issues: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Input records skipped because they could not be parsed",
		}),
		Units: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Input units processed, by status",
			},
			[]string{"status"},
		),
		StoreSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_edges",
			Help:      "Live entries in the sample",
		}),
		StoreWeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_weight",
			Help:      "Summed weight of the live entries",
		}),
		LastUnit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_unit",
			Help:      "Number of the last input unit processed",
		}),
		StreamPosition: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_position",
			Help:      "Edge occurrences offered to a reservoir or window policy so far",
		}),
		UnitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Time to read, sample and snapshot one unit",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values to path in the Prometheus text
// exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
