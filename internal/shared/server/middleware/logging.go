package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"insight-gateway/internal/shared/metrics"
	"insight-gateway/internal/shared/telemetry"
)

// Logging emits a structured log per request and feeds the request metrics.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		reqID := RequestIDFromContext(c)

		role, _ := c.Get(roleKey)
		jobID, _ := c.Get("jobId")
		analysisID, _ := c.Get("analysisId")

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metrics.ObserveRequest(c.Request.Method, route, status, latency)

		telemetry.Info("request.complete", map[string]any{
			"request_id":  reqID,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"role":        role,
			"job_id":      jobID,
			"analysis_id": analysisID,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		})
	}
}
