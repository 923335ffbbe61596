package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"insight-gateway/internal/shared/server/respond"
)

const roleKey = "role"

// Role names understood by the gateway. Producers run analyses and manage
// visibility; consumers only read what is active.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Identity derives the caller role from the X-Dashboard-Role header and
// stores it in context. Unknown role values are rejected; a missing header
// falls back to defaultRole.
func Identity(defaultRole string) gin.HandlerFunc {
	if !validRole(defaultRole) {
		defaultRole = RoleViewer
	}
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		role := strings.ToLower(strings.TrimSpace(c.GetHeader("X-Dashboard-Role")))
		if role == "" {
			role = defaultRole
		}
		if !validRole(role) {
			respond.Error(c, http.StatusForbidden, "forbidden", "unknown role", nil)
			return
		}

		c.Set(roleKey, role)
		c.Next()
	}
}

// RequireAdmin rejects requests whose identity is not the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if RoleFromContext(c) != RoleAdmin {
			respond.Error(c, http.StatusForbidden, "forbidden", "admin role required", nil)
			return
		}
		c.Next()
	}
}

// RoleFromContext fetches the role set by the Identity middleware.
func RoleFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(roleKey)
	if role, ok := val.(string); ok {
		return role
	}
	return ""
}

func validRole(role string) bool {
	return role == RoleAdmin || role == RoleViewer
}
