// Package metrics collects counters, gauges, and timing histograms for the
// state core. Every Manager owns one registry; nothing is process-global, so
// tests can assert on a fresh instance.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics bundles the instruments the planner and store report into.
type Metrics struct {
	registry *prometheus.Registry

	CyclesRun      prometheus.Counter
	DuePicked      prometheus.Counter
	BackoffApplied prometheus.Counter

	HandlerDuration *prometheus.HistogramVec
	Outcomes        *prometheus.CounterVec

	FilesByIntegrity *prometheus.GaugeVec
	FilesByProcessed *prometheus.GaugeVec
	DBSizeBytes      prometheus.Gauge
}

// New constructs a Metrics instance backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CyclesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stereowatch_cycles_run_total",
			Help: "Planner ticks executed.",
		}),
		DuePicked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stereowatch_due_picked_total",
			Help: "File entries selected by due queries.",
		}),
		BackoffApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stereowatch_backoff_applied_total",
			Help: "Recoverable failures that scheduled a backoff retry.",
		}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stereowatch_handler_duration_seconds",
			Help:    "Wall time spent in planner handlers.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stereowatch_handler_outcomes_total",
			Help: "Handler results by handler and outcome.",
		}, []string{"handler", "outcome"}),
		FilesByIntegrity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stereowatch_files_by_integrity",
			Help: "Tracked files per integrity status.",
		}, []string{"status"}),
		FilesByProcessed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stereowatch_files_by_processed",
			Help: "Tracked files per processed status.",
		}, []string{"status"}),
		DBSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stereowatch_db_size_bytes",
			Help: "Size of the state database file.",
		}),
	}

	registry.MustRegister(
		m.CyclesRun,
		m.DuePicked,
		m.BackoffApplied,
		m.HandlerDuration,
		m.Outcomes,
		m.FilesByIntegrity,
		m.FilesByProcessed,
		m.DBSizeBytes,
	)
	return m
}

// Registry exposes the backing registry for exposition or test gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHandler records one handler execution.
func (m *Metrics) ObserveHandler(handler, outcome string, elapsed time.Duration) {
	m.HandlerDuration.WithLabelValues(handler).Observe(elapsed.Seconds())
	m.Outcomes.WithLabelValues(handler, outcome).Inc()
}

// CounterValue sums the current value of every series of name whose labels
// include the given pairs; nil labels sums the whole family. Used by tests
// and the status surface.
func (m *Metrics) CounterValue(name string, labels map[string]string) float64 {
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	var sum float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				sum += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				sum += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				sum += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return sum
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	present := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		present[pair.GetName()] = pair.GetValue()
	}
	for key, value := range labels {
		if present[key] != value {
			return false
		}
	}
	return true
}
