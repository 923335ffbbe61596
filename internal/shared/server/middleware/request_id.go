package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Key under which the request ID is stashed on the gin context.
const requestIDContextKey = "requestId"

// RequestID honors the caller's X-Request-Id when present and mints one
// otherwise. The ID is echoed back on the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// RequestIDFromContext returns the ID stamped by RequestID, or "".
func RequestIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(requestIDContextKey)
	id, _ := val.(string)
	return id
}
