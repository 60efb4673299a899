package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/jonesrussell/north-cloud/infrastructure/http"
)

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := infrahttp.NewClient(nil)
	assert.Equal(t, infrahttp.DefaultTimeout, c.Timeout)

	c = infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: -1})
	assert.Equal(t, time.Duration(0), c.Timeout)
}

func TestNewClient_UserAgent(t *testing.T) {
	t.Parallel()

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := infrahttp.NewClient(&infrahttp.ClientConfig{UserAgent: "north-cloud-enrichment/1.0"})
	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "north-cloud-enrichment/1.0", got)
}
