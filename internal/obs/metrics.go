package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/ginext"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rr",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rr",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rr",
			Subsystem: "render",
			Name:      "total",
			Help:      "Total render pipeline runs.",
		},
		[]string{"format", "result"},
	)
	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rr",
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Render pipeline duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"format"},
	)

	jobsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rr",
			Subsystem: "jobs",
			Name:      "inflight",
			Help:      "Jobs currently between submit and a terminal status.",
		},
	)

	assetFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rr",
			Subsystem: "assets",
			Name:      "fetch_total",
			Help:      "Asset fetch attempts by result.",
		},
		[]string{"result"},
	)

	cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rr",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Cache hits and misses by cache name.",
		},
		[]string{"cache", "event"},
	)

	artifactLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rr",
			Subsystem: "artifacts",
			Name:      "lookups_total",
			Help:      "Artifact cache probes by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration,
		rendersTotal, renderDuration,
		jobsInflight,
		assetFetchTotal, cacheEventsTotal, artifactLookupsTotal,
	)
}

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route.
func Middleware() func(c *ginext.Context) {
	return func(c *ginext.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordRender observes one render pipeline run.
func RecordRender(format string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	rendersTotal.WithLabelValues(format, result).Inc()
	renderDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
}

// JobStarted and JobFinished track the in-flight job gauge.
func JobStarted()  { jobsInflight.Inc() }
func JobFinished() { jobsInflight.Dec() }

// RecordFetch counts one asset fetch attempt.
func RecordFetch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	assetFetchTotal.WithLabelValues(result).Inc()
}

// RecordCacheEvent counts a hit or miss for the named cache.
func RecordCacheEvent(cache string, hit bool) {
	event := "miss"
	if hit {
		event = "hit"
	}
	cacheEventsTotal.WithLabelValues(cache, event).Inc()
}

// RecordArtifactLookup counts an artifact directory probe.
func RecordArtifactLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	artifactLookupsTotal.WithLabelValues(result).Inc()
}
