package cli

import (
	"net/http"
	"strconv"

	"github.com/mchmarny/regretguard/pkg/score"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "regretguard"

type metrics struct {
	registry    *prometheus.Registry
	assessments *prometheus.CounterVec
	failures    *prometheus.CounterVec
	scores      prometheus.Histogram
	vaultItems  prometheus.Gauge
	requests    *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "assessments_total",
			Help:      "Total scored purchases by risk level.",
		}, []string{"level"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failures_total",
			Help:      "Total rejected requests by reason.",
		}, []string{"reason"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "regret_score",
			Help:      "Distribution of regret scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 9),
		}),
		vaultItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "vault_items",
			Help:      "Number of purchases currently held in the cooling vault.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		}, []string{"method", "path", "status"}),
	}
	m.registry.MustRegister(m.assessments, m.failures, m.scores, m.vaultItems, m.requests)
	return m
}

// The recording methods are no-ops on a nil receiver so handlers work with metrics disabled.
func (m *metrics) observe(a *score.Assessment) {
	if m == nil || a == nil {
		return
	}
	m.assessments.WithLabelValues(string(a.Level)).Inc()
	m.scores.Observe(a.RegretScore)
}

func (m *metrics) fail(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

func (m *metrics) vault(n int) {
	if m == nil {
		return
	}
	m.vaultItems.Set(float64(n))
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts every request by its matched route pattern.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}
