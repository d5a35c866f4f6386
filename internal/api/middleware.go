package api

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceads/internal/observability"
)

// quietPaths are polled continuously and logged at debug.
var quietPaths = map[string]bool{
	"/latest":  true,
	"/healthz": true,
	"/health":  true,
	"/metrics": true,
}

// LoggingMiddleware logs each request with slog.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		level := slog.LevelInfo
		if quietPaths[route] && status < 400 {
			level = slog.LevelDebug
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		slog.Log(context.Background(), level, "request", attrs...)

		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(status),
		).Observe(duration.Seconds())
	}
}
