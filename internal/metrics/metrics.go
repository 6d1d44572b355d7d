// Package metrics provides Prometheus metrics for a harvest run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lscollection"

// Metrics holds the counters of one process. Each instance owns a private
// registry so tests and repeated runs never collide.
type Metrics struct {
	Registry *prometheus.Registry

	// Harvest metrics
	LogsSeen       *prometheus.CounterVec // outcome: failure, packagetmp, parsed, parse_error
	Records        *prometheus.CounterVec // class: system, other
	InvalidPassIDs prometheus.Counter
	Predictions    *prometheus.CounterVec // result: predicted, none
	ProbeHits      *prometheus.CounterVec // product, phase

	// Partition metrics
	PartitionDuration *prometheus.HistogramVec // outcome: written, failed
	PartialsMissing   prometheus.Gauge

	// Summary metrics
	SummaryBuckets *prometheus.GaugeVec // sensor
}

// New creates a Metrics with every collector registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		LogsSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logs_seen_total",
			Help:      "Processing logs visited by harvest workers, by outcome",
		}, []string{"outcome"}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Parsed log records by classification",
		}, []string{"class"}),
		InvalidPassIDs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_pass_ids_total",
			Help:      "Records kept without sensor and date because the pass id did not parse",
		}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Derived product predictions for other records",
		}, []string{"result"}),
		ProbeHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_hits_total",
			Help:      "Predicted products found on disk",
		}, []string{"product", "phase"}),
		PartitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "partition_duration_seconds",
			Help:      "Time to harvest and persist one partition",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"outcome"}),
		PartialsMissing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partials_missing",
			Help:      "Partial stores absent or unreadable at the last combine",
		}),
		SummaryBuckets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "summary_months",
			Help:      "Monthly buckets in the last summary, per sensor",
		}, []string{"sensor"}),
	}
}

// WriteTextfile writes every metric in the textfile collector format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
