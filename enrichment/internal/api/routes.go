package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/infrastructure/gin"
)

// RouteOptions configures SetupRoutes.
type RouteOptions struct {
	// JWTSecret protects /api/v1/runs when non-empty.
	JWTSecret string
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
}

// SetupRoutes configures all API routes. Health routes come from the
// infrastructure/gin server builder.
func SetupRoutes(router *gin.Engine, h *Handler, opts RouteOptions) {
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	_, protected := infragin.SetupAPIRoutesWithPublic(router, opts.JWTSecret)

	runs := protected.Group("/runs")
	runs.POST("", h.CreateRun)                    // POST /api/v1/runs
	runs.GET("", h.ListRuns)                      // GET /api/v1/runs
	runs.GET("/:id", h.GetRun)                    // GET /api/v1/runs/:id
	runs.DELETE("/:id", h.DeleteRun)              // DELETE /api/v1/runs/:id
	runs.GET("/:id/items", h.ListItems)           // GET /api/v1/runs/:id/items
	runs.POST("/:id/start", h.StartRun)           // POST /api/v1/runs/:id/start
	runs.POST("/:id/cancel", h.CancelRun)         // POST /api/v1/runs/:id/cancel
	runs.POST("/:id/retry-failed", h.RetryFailed) // POST /api/v1/runs/:id/retry-failed
	runs.GET("/:id/export", h.ExportRun)          // GET /api/v1/runs/:id/export
	runs.GET("/:id/events", h.StreamEvents)       // GET /api/v1/runs/:id/events
}
