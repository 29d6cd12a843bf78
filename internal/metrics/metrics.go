// Package metrics exposes the Prometheus collectors of the tax service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	computations   *prometheus.CounterVec
	importRows     *prometheus.CounterVec
	importDuration prometheus.Histogram
	rateMutations  *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in production and a
// fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		computations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nytax",
			Name:      "tax_computations_total",
			Help:      "Tax computations by outcome.",
		}, []string{"outcome"}),
		importRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nytax",
			Name:      "import_rows_total",
			Help:      "CSV rows processed by status.",
		}, []string{"status"}),
		importDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nytax",
			Name:      "import_duration_seconds",
			Help:      "Wall time of a CSV import.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		rateMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nytax",
			Name:      "rate_mutations_total",
			Help:      "Rate ledger entries by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveComputation(outcome string) {
	if m == nil {
		return
	}
	m.computations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveImport(imported, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues("imported").Add(float64(imported))
	m.importRows.WithLabelValues("failed").Add(float64(failed))
	m.importDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMutation(kind string) {
	if m == nil {
		return
	}
	m.rateMutations.WithLabelValues(kind).Inc()
}
