package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runconnect",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runconnect",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// SnapRequests counts resolver snap outcomes: snapped, fallback, stale.
	SnapRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runconnect",
		Subsystem: "resolver",
		Name:      "snap_requests_total",
		Help:      "Snap requests issued by drafting sessions by outcome",
	}, []string{"outcome"})

	// ElevationLookups counts elevation outcomes: ok, failed, stale.
	ElevationLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runconnect",
		Subsystem: "resolver",
		Name:      "elevation_lookups_total",
		Help:      "Elevation lookups issued by drafting sessions by outcome",
	}, []string{"outcome"})

	DebounceSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runconnect",
		Subsystem: "resolver",
		Name:      "debounce_superseded_total",
		Help:      "Pending snap timers cancelled by a newer waypoint list",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "runconnect",
		Subsystem: "session",
		Name:      "active",
		Help:      "Route drafting sessions currently open",
	})

	// UpstreamRequests counts calls to third-party APIs by upstream and result.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runconnect",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Calls to third-party directions and elevation APIs",
	}, []string{"upstream", "result"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "runconnect",
		Subsystem: "upstream",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"upstream"})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the Prometheus registry.
func Handler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}
