package agent

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spindle/pkg/model"
)

// metrics exports benchmark outcomes to Prometheus. Each server owns
// its registry so repeated construction never collides on registration.
type metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runsInFlight   prometheus.Gauge
	bytesProcessed *prometheus.CounterVec
	throughputMBps *prometheus.GaugeVec
	iops           *prometheus.GaugeVec
	avgLatency     *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_runs_total",
				Help: "Benchmark runs by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		runsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spindle_runs_in_flight",
				Help: "Benchmark runs currently executing.",
			},
		),
		bytesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_bytes_processed_total",
				Help: "Bytes moved by completed runs.",
			},
			[]string{"mode"},
		),
		throughputMBps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spindle_throughput_mbps",
				Help: "Throughput of the last completed run in MiB/s.",
			},
			[]string{"mode"},
		),
		iops: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spindle_iops",
				Help: "IOPS of the last completed run.",
			},
			[]string{"mode"},
		),
		avgLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spindle_run_avg_latency_ms",
				Help:    "Average operation latency per run in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 16), // 50µs to ~1.6s
			},
			[]string{"mode"},
		),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runsInFlight,
		m.bytesProcessed,
		m.throughputMBps,
		m.iops,
		m.avgLatency,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeRun(result model.BenchmarkResult) {
	mode := string(result.Config.Mode)
	m.runsTotal.WithLabelValues(mode, "ok").Inc()
	m.bytesProcessed.WithLabelValues(mode).Add(float64(result.Metrics.BytesProcessed))
	m.throughputMBps.WithLabelValues(mode).Set(result.Metrics.ThroughputMBps)
	m.iops.WithLabelValues(mode).Set(result.Metrics.IOPS)
	m.avgLatency.WithLabelValues(mode).Observe(float64(result.Metrics.Latency.Avg.Microseconds()) / 1000.0)
}

func (m *metrics) observeFailure(mode string) {
	m.runsTotal.WithLabelValues(mode, "error").Inc()
}
