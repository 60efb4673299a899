package bootstrap

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/enrichment/internal/api"
	infragin "github.com/jonesrussell/north-cloud/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/infrastructure/metrics"
)

// SetupHTTPServer creates the HTTP server with health, metrics and API routes.
func SetupHTTPServer(rt *Runtime) *infragin.Server {
	cfg := rt.Config
	handler := api.NewHandler(rt.Service, rt.Broker, rt.Logger)
	httpMetrics := metrics.NewHTTPMetrics(rt.Telemetry.Registry, cfg.Service.Name)

	builder := infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(rt.Logger).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithCORSOrigins(cfg.Service.CORSOrigins).
		WithRoutes(func(router *gin.Engine) {
			router.Use(httpMetrics.Middleware())
			api.SetupRoutes(router, handler, api.RouteOptions{
				JWTSecret: cfg.Auth.JWTSecret,
				Metrics:   rt.Telemetry.Handler(),
			})
		})

	if rt.DB != nil {
		builder = builder.WithDatabaseHealthCheck(rt.DB.PingContext)
	}
	if rt.Redis != nil {
		builder = builder.WithRedisHealthCheck(func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		})
	}
	return builder.Build()
}
