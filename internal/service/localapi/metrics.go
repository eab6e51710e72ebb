package localapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Режимы ответа /analyze.
const (
	modeJSON = "json"
	modeSSE  = "sse"
	modeWS   = "ws"
)

// Итоги запроса для метрик.
const (
	statusOK       = "ok"
	statusInvalid  = "invalid"
	statusError    = "error"
	statusTooLarge = "too_large"
	statusAborted  = "aborted"
)

// Metrics — метрики локального API в собственном реестре.
type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	deltas     prometheus.Counter
	duration   *prometheus.HistogramVec
	firstDelta prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "analyze_requests_total",
			Help: "Analyze requests by response mode and outcome.",
		}, []string{"mode", "status"}),
		deltas: f.NewCounter(prometheus.CounterOpts{
			Name: "analyze_stream_deltas_total",
			Help: "Delta events sent to streaming clients.",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyze_duration_seconds",
			Help:    "Analyze request duration from body read to final event.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"mode"}),
		firstDelta: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyze_first_delta_seconds",
			Help:    "Latency until the first delta of a streamed answer.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

func (m *Metrics) observe(mode, status string, started time.Time) {
	m.requests.WithLabelValues(mode, status).Inc()
	m.duration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

func (m *Metrics) delta(first bool, started time.Time) {
	m.deltas.Inc()
	if first {
		m.firstDelta.Observe(time.Since(started).Seconds())
	}
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
