package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"insight-gateway/internal/insights"
	"insight-gateway/internal/services/health"
	"insight-gateway/internal/shared/config"
	"insight-gateway/internal/shared/metrics"
	"insight-gateway/internal/shared/server/middleware"
	"insight-gateway/internal/shared/server/respond"
)

const submitRateGroup = "SUBMIT"

// RouterDeps carries the handlers and services the router wires together.
type RouterDeps struct {
	Config   config.Config
	Insights *insights.Handler
	Health   *health.Service
}

// NewRouter constructs the gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigins),
		middleware.Identity(cfg.DefaultRole),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				submitRateGroup: {Rate: cfg.Submit.Rate, Burst: cfg.Submit.Burst},
			},
			GroupFor: submitGroup,
		}),
	)

	r.GET("/health", func(c *gin.Context) {
		respond.OK(c, deps.Health.Status())
	})
	r.GET("/ready", func(c *gin.Context) {
		out := deps.Health.Check(c.Request.Context())
		status := http.StatusOK
		if !out.Ready {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, out)
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	deps.Insights.RegisterRoutes(api)

	return r
}

// submitGroup routes analysis submissions into their own rate bucket.
// Reads stay in the unthrottled default group.
func submitGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && strings.HasPrefix(c.Request.URL.Path, "/api/v1/analyses") {
		return submitRateGroup
	}
	return ""
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
