package middleware

import (
	"strconv"
	"time"

	"github.com/cct-registry/cct-registry/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records two Prometheus metrics for every request.
//
// Recorded metrics:
//   - http_requests_total{method, path, status}
//   - http_request_duration_seconds{method, path}
//
// The path label is c.FullPath(), the matched route template
// (e.g. /api/v1/organizations/:org/projects/:index/sell), so organization ids never
// become label values. Unmatched requests use "<no-route>".
//
// Register it after gin.Recovery() and RequestIDMiddleware so the status set by error
// handlers is captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
