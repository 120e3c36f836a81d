package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/faizol/loyalty-migration/internal/config"
	"github.com/faizol/loyalty-migration/internal/handler"
	"github.com/faizol/loyalty-migration/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check, used by load balancers and
// monitoring systems to verify the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterImport registers the migration endpoints under /v1/migrations.
// All of them mutate or expose bulk member data, so the whole group is
// protected by JWT auth plus a back-office role check, and the two
// import endpoints additionally sit behind the Redis token bucket.
func RegisterImport(e *echo.Echo, h *handler.ImportHandler, jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group("/v1/migrations")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("ADMIN", "OPERATOR"))

	limited := g.Group("", middleware.NewTokenBucket(rlCfg, rdb))
	// Streaming variant: JSON-lines progress events over a held-open response.
	limited.POST("/import", h.Import)
	// Plain request/response variant for clients that cannot consume a stream.
	limited.POST("/import/sync", h.ImportSync)

	// Poll a run started by either variant.
	g.GET("/runs/:id", h.GetRun)
}
