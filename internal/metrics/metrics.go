package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrouter"

// Outcomes recorded for upstream calls besides error kinds.
const OutcomeSuccess = "success"

// Metrics owns the collectors and the registry they are exposed from.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Upstream calls by provider, model and outcome (success or error kind).
	UpstreamRequestsTotal *prometheus.CounterVec
	// Upstream call latency in seconds.
	UpstreamLatencySeconds *prometheus.HistogramVec
	// Tokens consumed, split by direction (prompt/completion).
	TokensTotal *prometheus.CounterVec
	// HTTP latency of the router's own API.
	HTTPLatencySeconds *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Total number of upstream provider calls.",
			},
			[]string{"provider", "model", "outcome"},
		),
		UpstreamLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Latency of upstream provider calls in seconds.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by providers.",
			},
			[]string{"provider", "model", "direction"},
		),
		HTTPLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_latency_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"path", "method", "status_code"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UpstreamRequestsTotal,
		m.UpstreamLatencySeconds,
		m.TokensTotal,
		m.HTTPLatencySeconds,
	)
	return m
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream records one upstream call.
func (m *Metrics) ObserveUpstream(provider, model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(provider, model, outcome).Inc()
	m.UpstreamLatencySeconds.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

// AddTokens records token usage reported for a successful call.
func (m *Metrics) AddTokens(provider, model string, prompt, completion int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	m.TokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completion))
}

// Middleware measures latency for each HTTP request, labelled by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is known.
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			m.HTTPLatencySeconds.
				WithLabelValues(path, c.Request().Method, status).
				Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
