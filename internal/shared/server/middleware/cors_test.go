package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"http://localhost:5173"}))
	router.POST("/api/v1/analyses", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantAllowed bool
	}{
		{"preflight from the dashboard", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, true},
		{"submission from the dashboard", http.MethodPost, "http://localhost:5173", http.StatusOK, true},
		{"unknown origin gets no grant", http.MethodPost, "http://evil.test", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := corsRouter()
			req := httptest.NewRequest(tt.method, "/api/v1/analyses", nil)
			req.Header.Set("Origin", tt.origin)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.Code, tt.wantStatus)
			}
			allowOrigin := resp.Header().Get("Access-Control-Allow-Origin")
			if !tt.wantAllowed {
				if allowOrigin != "" {
					t.Fatalf("unexpected Allow-Origin %q for origin %q", allowOrigin, tt.origin)
				}
				return
			}
			if allowOrigin != tt.origin {
				t.Fatalf("Allow-Origin = %q, want %q", allowOrigin, tt.origin)
			}
			for _, header := range []string{
				"Access-Control-Allow-Methods",
				"Access-Control-Allow-Headers",
				"Access-Control-Max-Age",
			} {
				if resp.Header().Get(header) == "" {
					t.Fatalf("missing %s header", header)
				}
			}
		})
	}
}

func TestCORSApprovesRoleHeader(t *testing.T) {
	router := corsRouter()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyses", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Headers", "X-Dashboard-Role")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	got := resp.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(got, "X-Dashboard-Role") {
		t.Fatalf("role header not preflight-approved, Allow-Headers = %q", got)
	}
}
