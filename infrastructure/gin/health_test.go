package gin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	ginpkg "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infragin "github.com/jonesrussell/north-cloud/infrastructure/gin"
)

func healthRouter(checks map[string]infragin.HealthChecker) *ginpkg.Engine {
	ginpkg.SetMode(ginpkg.TestMode)
	router := ginpkg.New()
	infragin.RegisterHealthRoutes(router, infragin.HealthOptions{
		ServiceName:    "enrichment",
		ServiceVersion: "test",
		Checks:         checks,
	})
	return router
}

func TestHealth_AllChecksPass(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	router := healthRouter(map[string]infragin.HealthChecker{
		"database": infragin.PingChecker("database", ok, infragin.HealthStatusUnhealthy),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	require.Equal(t, http.StatusOK, w.Code)
	var resp infragin.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, infragin.HealthStatusHealthy, resp.Status)
	assert.Equal(t, "enrichment", resp.Service)
	assert.Equal(t, infragin.HealthStatusHealthy, resp.Checks["database"].Status)
}

func TestHealth_DegradedStaysOK(t *testing.T) {
	t.Parallel()

	fail := func(context.Context) error { return errors.New("connection refused") }
	router := healthRouter(map[string]infragin.HealthChecker{
		"redis": infragin.PingChecker("redis", fail, infragin.HealthStatusDegraded),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	require.Equal(t, http.StatusOK, w.Code)
	var resp infragin.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, infragin.HealthStatusDegraded, resp.Status)
	assert.Contains(t, resp.Checks["redis"].Message, "connection refused")
}

func TestHealth_UnhealthyReturns503(t *testing.T) {
	t.Parallel()

	fail := func(context.Context) error { return errors.New("down") }
	router := healthRouter(map[string]infragin.HealthChecker{
		"database": infragin.PingChecker("database", fail, infragin.HealthStatusUnhealthy),
		"redis":    infragin.PingChecker("redis", fail, infragin.HealthStatusDegraded),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth_Memory(t *testing.T) {
	t.Parallel()

	router := healthRouter(nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/memory", http.NoBody))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goroutines")
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	t.Parallel()

	ginpkg.SetMode(ginpkg.TestMode)
	router := ginpkg.New()
	router.Use(infragin.CORSMiddleware(infragin.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.example.com"},
	}))
	router.GET("/x", func(c *ginpkg.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", http.NoBody)
	req.Header.Set("Origin", "https://app.example.com")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
