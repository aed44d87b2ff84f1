package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

const namespace = "gaia_sync"

// Metrics 为 nil 时所有方法都是空操作
type Metrics struct {
	openConnections prometheus.Gauge
	pushes          *prometheus.CounterVec
	pollIterations  prometheus.Counter
	pollErrors      prometheus.Counter
	pollDuration    prometheus.Histogram
	terminated      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		openConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_connections",
			Help: "Currently registered websocket connections.",
		}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pushes_total",
			Help: "Outbound pushes by command.",
		}, []string{"command"}),
		pollIterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_iterations_total",
			Help: "Poll-and-broadcast iterations run.",
		}),
		pollErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_errors_total",
			Help: "Poll-and-broadcast iterations aborted by a store error.",
		}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_duration_seconds",
			Help:    "Duration of one poll-and-broadcast iteration.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		terminated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "terminated_connections_total",
			Help: "Connections closed by the liveness sweeper.",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.openConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.openConnections.Dec()
}

func (m *Metrics) Pushed(command string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(command).Inc()
}

func (m *Metrics) PollFinished(seconds float64, err error) {
	if m == nil {
		return
	}
	m.pollIterations.Inc()
	m.pollDuration.Observe(seconds)
	if err != nil {
		m.pollErrors.Inc()
	}
}

func (m *Metrics) Terminated() {
	if m == nil {
		return
	}
	m.terminated.Inc()
}

// Handler 用于挂载 /metrics
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
