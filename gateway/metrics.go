// Metrics instrumentation, SPEC_FULL.md §4.9A: a /metrics Prometheus
// handler and per-request counters/histograms keyed by route-match
// outcome (proxy/local/redirect/miss/error), grounded on
// zalando-skipper/metrics's direct github.com/prometheus/client_golang
// dependency.
package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels the result of a single request's dispatch, spec.md
// §4.9's three match kinds plus "miss" (no route matched) and "error"
// (a dispatch-time failure that isn't a plain miss).
type Outcome string

const (
	OutcomeProxy    Outcome = "proxy"
	OutcomeLocal    Outcome = "local"
	OutcomeRedirect Outcome = "redirect"
	OutcomeMiss     Outcome = "miss"
	OutcomeError    Outcome = "error"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid everywhere it's used: every method no-ops, so instrumentation
// stays optional without littering the dispatcher with nil checks.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics with its own registry (rather than the
// global default one), so multiple gateways in the same process, or
// repeated test construction, never collide on metric registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arx_gateway_requests_total",
			Help: "Total requests handled, by route-match outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arx_gateway_request_duration_seconds",
			Help:    "Request handling duration in seconds, by route-match outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.requests, m.duration)
	return m
}

// Handler returns the /metrics Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe records one completed request's outcome and duration.
func (m *Metrics) observe(outcome Outcome, since time.Time) {
	if m == nil {
		return
	}
	d := time.Since(since).Seconds()
	m.requests.WithLabelValues(string(outcome)).Inc()
	m.duration.WithLabelValues(string(outcome)).Observe(d)
}
