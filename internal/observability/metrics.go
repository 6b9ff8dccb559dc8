package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a run in a private registry,
// so a one-shot run can dump them for the node_exporter textfile collector.
type Metrics struct {
	registry *prometheus.Registry

	Groups        *prometheus.CounterVec
	InputFiles    prometheus.Counter
	InputBytes    prometheus.Counter
	OutputBytes   prometheus.Counter
	MergeDuration prometheus.Histogram
	PlannedGroups prometheus.Gauge
	LastRun       prometheus.Gauge
}

// NewMetrics registers the splitmerge collectors in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "groups_total",
			Help:      "Merge groups processed, by outcome.",
		}, []string{"status"}),
		InputFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "input_files_total",
			Help:      "Input files handed to the merge tool.",
		}),
		InputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "input_bytes_total",
			Help:      "Bytes of input merged successfully.",
		}),
		OutputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "output_bytes_total",
			Help:      "Bytes of merged output written.",
		}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splitmerge",
			Name:      "merge_duration_seconds",
			Help:      "Wall time of one merge tool invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		PlannedGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "splitmerge",
			Name:      "planned_groups",
			Help:      "Groups in the most recent plan.",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "splitmerge",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent run finished.",
		}),
	}
	m.registry.MustRegister(m.Groups, m.InputFiles, m.InputBytes, m.OutputBytes,
		m.MergeDuration, m.PlannedGroups, m.LastRun)

	for _, status := range []string{StatusSucceeded, StatusFailed, StatusSkipped} {
		m.Groups.WithLabelValues(status)
	}
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one group outcome.
func (m *Metrics) Observe(stat GroupStat) {
	m.Groups.WithLabelValues(stat.Status).Inc()
	if stat.Status != StatusSucceeded {
		return
	}
	m.InputFiles.Add(float64(stat.Files))
	m.InputBytes.Add(float64(stat.InputBytes))
	m.OutputBytes.Add(float64(stat.OutputBytes))
	m.MergeDuration.Observe(stat.Duration.Seconds())
}

// RunFinished stamps the completion time.
func (m *Metrics) RunFinished(at time.Time) {
	m.LastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes every metric in the text exposition format. The file
// is written atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
