package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "icdcoder"

// Metrics holds the collectors for one process. A nil *Metrics is a valid
// no-op recorder.
type Metrics struct {
	registry      *prometheus.Registry
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
	conditions    prometheus.Histogram
	rankedCodes   prometheus.Histogram
	parseFailures prometheus.Counter
	httpRequests  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "corpus_query_duration_seconds",
			Help:      "Latency of a single corpus similarity query.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"corpus"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_errors_total",
			Help:      "Corpus queries that failed.",
		}, []string{"corpus"}),
		conditions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conditions_per_request",
			Help:      "Conditions detected per symptom description.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),
		rankedCodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranked_codes_per_request",
			Help:      "Unique codes returned per symptom description.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20},
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Model replies that could not be normalized.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}
	m.registry.MustRegister(
		m.queryDuration,
		m.queryErrors,
		m.conditions,
		m.rankedCodes,
		m.parseFailures,
		m.httpRequests,
	)
	return m
}

// ObserveQuery records one corpus query.
func (m *Metrics) ObserveQuery(corpus string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(corpus).Observe(d.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(corpus).Inc()
	}
}

func (m *Metrics) ObserveConditions(n int) {
	if m == nil {
		return
	}
	m.conditions.Observe(float64(n))
}

func (m *Metrics) ObserveRanked(n int) {
	if m == nil {
		return
	}
	m.rankedCodes.Observe(float64(n))
}

func (m *Metrics) ParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

// GinMiddleware counts requests per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics disabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
