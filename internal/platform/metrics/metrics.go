// Package metrics holds the portal's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lab_portal"

// Resolution tiers.
const (
	TierMemory   = "memory"
	TierSnapshot = "snapshot"
	TierRegistry = "registry"
)

// Metrics groups every collector the portal exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	resolutions      *prometheus.CounterVec
	snapshotFailures *prometheus.CounterVec
	blocked          prometheus.Counter
	registryLatency  prometheus.Histogram
	accessLogWrites  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpActive   prometheus.Gauge
	httpPanics   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "labconfig",
			Name:      "resolutions_total",
			Help:      "Lab config resolutions by serving tier and outcome",
		}, []string{"tier", "outcome"}),
		snapshotFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "labconfig",
			Name:      "snapshot_failures_total",
			Help:      "Swallowed snapshot store failures by operation",
		}, []string{"op"}),
		blocked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "blocked_total",
			Help:      "Patient folder accesses refused by a block marker",
		}),
		registryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "labconfig",
			Name:      "registry_lookup_seconds",
			Help:      "Registry spreadsheet lookup latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		accessLogWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accesslog",
			Name:      "writes_total",
			Help:      "Access log appends by outcome",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "In-flight HTTP requests",
		}),
		httpPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "panics_total",
			Help:      "Recovered handler panics by route",
		}, []string{"route"}),
	}
}

func (m *Metrics) Resolution(tier, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) SnapshotFailure(op string) {
	if m == nil {
		return
	}
	m.snapshotFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) Blocked() {
	if m == nil {
		return
	}
	m.blocked.Inc()
}

func (m *Metrics) RegistryLookup(d time.Duration) {
	if m == nil {
		return
	}
	m.registryLatency.Observe(d.Seconds())
}

// Panic counts a recovered handler panic on route.
func (m *Metrics) Panic(route string) {
	if m == nil {
		return
	}
	m.httpPanics.WithLabelValues(routeLabel(route)).Inc()
}

func (m *Metrics) AccessLogWrite(outcome string) {
	if m == nil {
		return
	}
	m.accessLogWrites.WithLabelValues(outcome).Inc()
}

// Middleware records request count, latency and in-flight requests, keyed
// by the route pattern rather than the raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.httpActive.Inc()
			defer m.httpActive.Dec()

			start := time.Now()
			err := next(c)

			route := routeLabel(c.Path())
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}

			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the collectors in g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func routeLabel(route string) string {
	if route == "" {
		return "unmatched"
	}
	return route
}
