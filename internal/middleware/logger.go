package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware writes one structured slog record per request. Probe endpoints are
// logged at debug level so they do not drown the access log.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", GetRequestID(c),
		}
		if account := c.GetString(AccountIDKey); account != "" {
			attrs = append(attrs, "account", account)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.Error("request", attrs...)
		case status >= 400:
			slog.Warn("request", attrs...)
		case isProbe(c.Request.URL.Path):
			slog.Debug("request", attrs...)
		default:
			slog.Info("request", attrs...)
		}
	}
}

func isProbe(path string) bool {
	return path == "/health" || path == "/ready"
}
