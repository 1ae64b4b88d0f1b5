package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the collectors exposed on MetricsEndpoint. Each API owns its
// registry so several instances can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	registrations *prometheus.CounterVec
	votes         *prometheus.CounterVec
	verifyTime    prometheus.Histogram
	treeSize      prometheus.Gauge
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cypherpoll_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "status"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cypherpoll_registrations_total",
			Help: "Registration attempts by result",
		}, []string{"result"}),
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cypherpoll_votes_total",
			Help: "Vote submissions by result",
		}, []string{"result"}),
		verifyTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cypherpoll_vote_processing_seconds",
			Help:    "Time spent verifying and recording a vote",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		treeSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cypherpoll_registered_leaves",
			Help: "Number of leaves in the registration tree",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// result labels an outcome with its API error code, or "ok".
func result(err error) string {
	if err == nil {
		return "ok"
	}
	return strconv.Itoa(apiError(err).Code)
}

func (m *Metrics) observeVote(start time.Time, err error) {
	m.verifyTime.Observe(time.Since(start).Seconds())
	m.votes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) observeRegistration(err error, size uint64) {
	m.registrations.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.treeSize.Set(float64(size))
	}
}
