package respond

import (
	"github.com/gin-gonic/gin"

	"insight-gateway/internal/shared/telemetry"
)

// errorEnvelope is the wire shape of every non-2xx response.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error logs and writes the standard error envelope, aborting the
// handler chain. Callers must not write to c afterwards.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": c.GetString("requestId"),
	}
	if role := c.GetString("role"); role != "" {
		fields["role"] = role
	}
	telemetry.Error("http.error", fields)

	c.AbortWithStatusJSON(status, errorEnvelope{
		Error: errorDetail{Code: code, Message: message, Details: details},
	})
}
