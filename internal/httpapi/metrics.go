package httpapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds the admin API request metrics.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestDur     *prometheus.HistogramVec
	activeRequests prometheus.Gauge
}

// NewHTTPMetrics registers the HTTP metrics on reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API request duration by method and route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "route"}),
		activeRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "webbridge",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Admin API requests in flight.",
		}),
	}
}

// Middleware records every request. The route label is the registered path
// pattern, so /v1/call/:channel stays one series.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.requestDur.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
