package logsink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wires the Log Sink's latency samples into prometheus/client_golang
// histograms (spec §4.10), registered against a private registry since no
// HTTP endpoint serves them in this build.
type Metrics struct {
	registry   *prometheus.Registry
	histograms map[string]prometheus.Histogram
}

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates the fill/hedge/guard-evaluation histograms.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg, histograms: make(map[string]prometheus.Histogram)}

	for _, name := range []string{"fill_latency_seconds", "hedge_latency_seconds", "guard_eval_latency_seconds"} {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arb_engine_" + name,
			Help:    "Latency distribution for " + name,
			Buckets: latencyBuckets,
		})
		reg.MustRegister(h)
		m.histograms[name] = h
	}
	return m
}

// Observe records a latency sample in seconds under the named histogram. An
// unknown name is a no-op rather than a panic, since callers pass names
// chosen freely by executor code.
func (m *Metrics) Observe(name string, d time.Duration) {
	h, ok := m.histograms[metricNameFor(name)]
	if !ok {
		return
	}
	h.Observe(d.Seconds())
}

func metricNameFor(name string) string {
	switch name {
	case "fill", "fill_latency":
		return "fill_latency_seconds"
	case "hedge", "hedge_latency":
		return "hedge_latency_seconds"
	case "guard", "guard_eval", "guard_eval_latency":
		return "guard_eval_latency_seconds"
	default:
		return name
	}
}

// Registry exposes the private prometheus registry for tests or a future
// in-process exporter.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
