package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds Prometheus collectors for the API.
type HTTPMetrics struct {
	// RequestsTotal counts requests.
	// Labels: method, endpoint, status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks request latency in seconds.
	// Labels: method, endpoint, status
	RequestDuration *prometheus.HistogramVec

	// ActiveRequests is the number of requests in flight.
	ActiveRequests prometheus.Gauge
}

// NewHTTPMetrics registers HTTP collectors with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "brain",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, route and status code",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "brain",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint", "status"},
		),
		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "brain",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of HTTP requests currently being served",
		}),
	}
}

// MetricsMiddleware records every request against its route template.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			err := next(c)
			if err != nil {
				// Run the error handler now so the recorded status is final.
				c.Error(err)
			}

			labels := prometheus.Labels{
				"method":   c.Request().Method,
				"endpoint": routeLabel(c.Path()),
				"status":   strconv.Itoa(c.Response().Status),
			}
			m.RequestsTotal.With(labels).Inc()
			m.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// routeLabel uses the registered template (/api/v1/nodes/:id), never the raw
// URI, so ids don't become label values.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
