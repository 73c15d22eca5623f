package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/logflow/oplog/pkg/analysis"
)

// Metrics holds the collectors describing one analysis run. Each run gets
// its own registry, so a textfile never mixes runs.
type Metrics struct {
	Registry *prometheus.Registry

	Lines           prometheus.Gauge
	Records         prometheus.Gauge
	Skipped         *prometheus.GaugeVec
	Operations      *prometheus.GaugeVec
	FailedOps       *prometheus.GaugeVec
	Bytes           *prometheus.GaugeVec
	Transitions     *prometheus.GaugeVec
	SequentialRatio prometheus.Gauge
	Latency         *prometheus.GaugeVec
	PeakOpenHandles prometheus.Gauge
	RunSeconds      prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Lines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oplog_lines",
			Help: "Number of log lines read.",
		}),
		Records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oplog_records",
			Help: "Number of log lines parsed into records.",
		}),
		Skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_skipped_lines",
			Help: "Number of log lines dropped, by reason.",
		}, []string{"reason"}),
		Operations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_operations",
			Help: "Number of operations, by operation name.",
		}, []string{"operation"}),
		FailedOps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_failed_operations",
			Help: "Number of failed operations, by errno.",
		}, []string{"errno"}),
		Bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_transfer_bytes",
			Help: "Bytes transferred by successful reads and writes.",
		}, []string{"direction"}),
		Transitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_transitions",
			Help: "Classified offset transitions, by verdict.",
		}, []string{"verdict"}),
		SequentialRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oplog_sequential_ratio",
			Help: "Fraction of transitions that were sequential.",
		}),
		Latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oplog_latency_seconds",
			Help: "Operation latency summary, by statistic.",
		}, []string{"stat"}),
		PeakOpenHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oplog_peak_open_handles",
			Help: "Largest number of file handles open at once.",
		}),
		RunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oplog_run_seconds",
			Help: "Wall-clock seconds spent producing the report.",
		}),
	}

	m.Registry.MustRegister(
		m.Lines, m.Records, m.Skipped, m.Operations, m.FailedOps, m.Bytes,
		m.Transitions, m.SequentialRatio, m.Latency, m.PeakOpenHandles, m.RunSeconds,
	)
	return m
}

// Observe sets every collector from r. Undefined report values leave their
// collector unset.
func (m *Metrics) Observe(r *analysis.Report) {
	m.Lines.Set(float64(r.Parse.Lines))
	m.Records.Set(float64(r.Parse.Records))
	for reason, n := range r.Parse.ByReason {
		m.Skipped.WithLabelValues(reason).Set(float64(n))
	}
	for _, op := range r.Operations {
		m.Operations.WithLabelValues(op.Operation).Set(float64(op.Count))
	}
	for errno, n := range r.Errors {
		m.FailedOps.WithLabelValues(errno).Set(float64(n))
	}

	m.Bytes.WithLabelValues("read").Set(float64(r.Reads.Bytes))
	m.Bytes.WithLabelValues("write").Set(float64(r.Writes.Bytes))

	pat := r.Pattern
	m.Transitions.WithLabelValues(analysis.VerdictSequential.String()).Set(float64(pat.Sequential))
	m.Transitions.WithLabelValues(analysis.VerdictForwardSeek.String()).Set(float64(pat.ForwardSeeks))
	m.Transitions.WithLabelValues(analysis.VerdictBackwardSeek.String()).Set(float64(pat.BackwardSeeks))
	if pat.SequentialPercent != nil {
		m.SequentialRatio.Set(*pat.SequentialPercent / 100)
	}

	if d := r.Latency.Duration; d != nil {
		for stat, v := range map[string]float64{
			"min": d.Min, "avg": d.Avg, "median": d.Median,
			"p95": d.P95, "p99": d.P99, "max": d.Max,
		} {
			m.Latency.WithLabelValues(stat).Set(v)
		}
	}
	m.PeakOpenHandles.Set(float64(r.Concurrency.PeakOpenHandles))
}

// WriteTextfile writes the registry in the Prometheus text format, for the
// node exporter's textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
