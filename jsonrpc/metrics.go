package jsonrpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const unknownMethodLabel = "unknown"

// Metrics collects per-method call statistics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	calls     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	batchSize prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rpcdispatch",
				Name:      "rpc_calls_total",
				Help:      "Number of evaluated rpc requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rpcdispatch",
				Name:      "rpc_call_duration_seconds",
				Help:      "Time from invocation to resolution of rpc requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rpcdispatch",
				Name:      "rpc_batch_size",
				Help:      "Number of requests per batch.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}
	reg.MustRegister(m.calls, m.durations, m.batchSize)
	return m
}

func (m *Metrics) observeCall(method string, o Outcome, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if f, ok := o.(Failure); ok {
		outcome = f.Code.String()
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.durations.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) observeBatch(n int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(n))
}
