package lookup_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/lookup"
	"github.com/jonesrussell/north-cloud/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/infrastructure/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestHTTPClient_Lookup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Identity   domain.Identity `json:"identity"`
			Attributes []string        `json:"attributes"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "M-100", req.Identity.PartNumber)
		assert.Equal(t, []string{"Voltage", "Weight"}, req.Attributes)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"attributes": {"voltage": "24V", "Weight": "N/A"}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := lookup.NewHTTPClient(lookup.HTTPConfig{Endpoint: srv.URL, APIKey: "secret", Retry: fastRetry()})
	require.NoError(t, err)

	got, err := c.Lookup(t.Context(), domain.Identity{Manufacturer: "Acme", PartNumber: "M-100"}, []string{"Voltage", "Weight"})
	require.NoError(t, err)
	assert.Equal(t, lookup.Result{"Voltage": "24V"}, got)
}

func TestHTTPClient_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"Voltage": "12V"}`))
	}))
	t.Cleanup(srv.Close)

	c, err := lookup.NewHTTPClient(lookup.HTTPConfig{Endpoint: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	got, err := c.Lookup(t.Context(), domain.Identity{PartNumber: "P"}, []string{"Voltage"})
	require.NoError(t, err)
	assert.Equal(t, lookup.Result{"Voltage": "12V"}, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
		wantCalls  int32
	}{
		{name: "client error not retried", status: http.StatusBadRequest, body: `{"error":"bad identity"}`, wantReason: "upstream status 400", wantCalls: 1},
		{name: "rate limited retried", status: http.StatusTooManyRequests, wantReason: "rate limited", wantCalls: 3},
		{name: "malformed body", status: http.StatusOK, body: "not json", wantReason: "malformed response", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			c, err := lookup.NewHTTPClient(lookup.HTTPConfig{Endpoint: srv.URL, Retry: fastRetry()})
			require.NoError(t, err)

			_, err = c.Lookup(t.Context(), domain.Identity{PartNumber: "P"}, []string{"Voltage"})
			var le *domain.LookupError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.wantReason, le.Reason)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestHTTPClient_OversizedResponse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		// Valid JSON until the limit cuts it, so a truncated read would still parse.
		pad := strings.Repeat(" ", 1<<20)
		_, _ = w.Write([]byte(`{"Voltage": "12V"}` + pad))
	}))
	t.Cleanup(srv.Close)

	c, err := lookup.NewHTTPClient(lookup.HTTPConfig{Endpoint: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = c.Lookup(t.Context(), domain.Identity{PartNumber: "P"}, []string{"Voltage"})
	var le *domain.LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "response too large", le.Reason)
	assert.Equal(t, int32(1), calls.Load(), "an oversized body is not retried")
}

func TestHTTPClient_CircuitOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c, err := lookup.NewHTTPClient(lookup.HTTPConfig{
		Endpoint: srv.URL,
		Retry:    retry.Config{MaxAttempts: 1},
		Breaker:  circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour},
	})
	require.NoError(t, err)

	for range 2 {
		_, err = c.Lookup(t.Context(), domain.Identity{PartNumber: "P"}, []string{"Voltage"})
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.Breaker().State())

	_, err = c.Lookup(t.Context(), domain.Identity{PartNumber: "P"}, []string{"Voltage"})
	var le *domain.LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "circuit open", le.Reason)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewHTTPClient_RequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := lookup.NewHTTPClient(lookup.HTTPConfig{})
	require.Error(t, err)
}
