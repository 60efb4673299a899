package gin

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// ServerBuilder assembles a Server fluently:
//
//	infragin.NewServerBuilder("enrichment", 8095).
//	    WithLogger(log).
//	    WithDatabaseHealthCheck(db.PingContext).
//	    WithRoutes(setup).
//	    Build()
type ServerBuilder struct {
	config       *Config
	logger       logger.Logger
	setupRoutes  func(*gin.Engine)
	healthChecks map[string]HealthChecker
}

// NewServerBuilder starts a builder with default configuration.
func NewServerBuilder(serviceName string, port int) *ServerBuilder {
	return &ServerBuilder{
		config:       NewConfig(serviceName, port),
		healthChecks: make(map[string]HealthChecker),
	}
}

// WithLogger sets the logger used by middleware and lifecycle messages.
func (b *ServerBuilder) WithLogger(log logger.Logger) *ServerBuilder {
	b.logger = log
	return b
}

// WithDebug switches gin to debug mode.
func (b *ServerBuilder) WithDebug(debug bool) *ServerBuilder {
	b.config.Debug = debug
	return b
}

// WithVersion sets the version reported by /health.
func (b *ServerBuilder) WithVersion(version string) *ServerBuilder {
	b.config.ServiceVersion = version
	return b
}

// WithCORSOrigins restricts allowed origins.
func (b *ServerBuilder) WithCORSOrigins(origins []string) *ServerBuilder {
	if len(origins) > 0 {
		b.config.CORS.AllowedOrigins = origins
	}
	return b
}

// WithTimeouts overrides the server timeouts. Zero keeps the default.
func (b *ServerBuilder) WithTimeouts(read, write, idle time.Duration) *ServerBuilder {
	b.config.ReadTimeout = read
	b.config.WriteTimeout = write
	b.config.IdleTimeout = idle
	b.config.SetDefaults()
	return b
}

// WithHealthCheck registers a named check reported by /health.
func (b *ServerBuilder) WithHealthCheck(name string, checker HealthChecker) *ServerBuilder {
	b.healthChecks[name] = checker
	return b
}

// WithDatabaseHealthCheck registers a critical "database" check.
func (b *ServerBuilder) WithDatabaseHealthCheck(ping func(context.Context) error) *ServerBuilder {
	return b.WithHealthCheck("database", PingChecker("database", ping, HealthStatusUnhealthy))
}

// WithRedisHealthCheck registers a non-critical "redis" check.
func (b *ServerBuilder) WithRedisHealthCheck(ping func(context.Context) error) *ServerBuilder {
	return b.WithHealthCheck("redis", PingChecker("redis", ping, HealthStatusDegraded))
}

// WithRoutes sets the service route registration callback.
func (b *ServerBuilder) WithRoutes(setupRoutes func(*gin.Engine)) *ServerBuilder {
	b.setupRoutes = setupRoutes
	return b
}

// Build creates the Server. Health routes are registered before service routes.
func (b *ServerBuilder) Build() *Server {
	if b.logger == nil {
		b.logger = logger.Must(logger.Config{Development: b.config.Debug})
	}

	checks := b.healthChecks
	cfg := b.config
	setup := func(router *gin.Engine) {
		RegisterHealthRoutes(router, HealthOptions{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			Checks:         checks,
		})
		if b.setupRoutes != nil {
			b.setupRoutes(router)
		}
	}

	return NewServer(cfg, b.logger, setup)
}

// SetupAPIRoutesWithPublic returns the public and protected /api/v1 groups.
// The protected group requires a bearer token when jwtSecret is non-empty.
func SetupAPIRoutesWithPublic(router *gin.Engine, jwtSecret string) (publicGroup, protectedGroup *gin.RouterGroup) {
	publicGroup = router.Group("/api/v1")
	protectedGroup = router.Group("/api/v1")
	if jwtSecret != "" {
		protectedGroup.Use(jwt.Middleware(jwtSecret))
	}
	return publicGroup, protectedGroup
}
