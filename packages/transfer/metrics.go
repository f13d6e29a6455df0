package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics recorded by the engines. A nil
// *Metrics records nothing.
type Metrics struct {
	TransfersTotal   *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	SpillsTotal      prometheus.Counter
	ReceivedBytes    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		TransfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "postkit",
				Name:      "transfers_total",
				Help:      "Total number of transfers by backend and outcome",
			},
			[]string{"backend", "outcome"}, // outcome=ok or an error kind
		),
		TransferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "postkit",
				Name:      "transfer_duration_seconds",
				Help:      "Transfer duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		InFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "postkit",
				Name:      "transfers_in_flight",
				Help:      "Number of transfers currently registered",
			},
		),
		SpillsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "postkit",
				Name:      "spills_total",
				Help:      "Total responses whose body was spilled to disk",
			},
		),
		ReceivedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "postkit",
				Name:      "received_bytes_total",
				Help:      "Total response body bytes received",
			},
		),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) finished(backend Backend, resp *Response, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.TransferDuration.WithLabelValues(string(backend)).Observe(elapsed.Seconds())
	if err != nil {
		m.TransfersTotal.WithLabelValues(string(backend), outcomeLabel(err)).Inc()
		return
	}
	m.TransfersTotal.WithLabelValues(string(backend), "ok").Inc()
	m.ReceivedBytes.Add(float64(resp.Size))
	if resp.IsSpilled() {
		m.SpillsTotal.Inc()
	}
}

func outcomeLabel(err error) string {
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
