package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/infrastructure/circuitbreaker"
	infraerrors "github.com/jonesrussell/north-cloud/infrastructure/errors"
	infrahttp "github.com/jonesrussell/north-cloud/infrastructure/http"
	"github.com/jonesrussell/north-cloud/infrastructure/retry"
)

const maxResponseBody = 1 << 20

var errResponseTooLarge = fmt.Errorf("response body exceeds %d bytes", maxResponseBody)

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	// Timeout bounds one attempt. The runner's per-call timeout still applies
	// to the whole lookup.
	Timeout    time.Duration
	UserAgent  string
	Retry      retry.Config
	Breaker    circuitbreaker.Config
	HTTPClient *http.Client
}

// HTTPClient posts {identity, attributes} to a JSON endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	retry    retry.Config
}

type httpLookupRequest struct {
	Identity   domain.Identity `json:"identity"`
	Attributes []string        `json:"attributes"`
}

type httpLookupResponse struct {
	Attributes map[string]any `json:"attributes"`
}

// NewHTTPClient builds a client from cfg. Endpoint is required.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("lookup endpoint is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: cfg.Timeout, UserAgent: cfg.UserAgent})
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = retry.DefaultIsRetryable
	}

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		breaker:  circuitbreaker.New(breakerCfg),
		retry:    cfg.Retry,
	}, nil
}

// Breaker exposes the circuit breaker state for health reporting.
func (c *HTTPClient) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// Lookup performs the call with retries for transient failures.
func (c *HTTPClient) Lookup(ctx context.Context, identity domain.Identity, names []string) (Result, error) {
	body, err := json.Marshal(httpLookupRequest{Identity: identity, Attributes: names})
	if err != nil {
		return nil, lookupError("encode request", err)
	}

	var raw []byte
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			b, postErr := c.post(ctx, body)
			if postErr != nil {
				return postErr
			}
			raw = b
			return nil
		})
	})
	if err != nil {
		return nil, lookupError(failureReason(err), err)
	}

	var resp httpLookupResponse
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr == nil && resp.Attributes != nil {
		return matchValues(resp.Attributes, names), nil
	}
	res, err := ParseAttributes(string(raw), names)
	if err != nil {
		return nil, lookupError("malformed response", err)
	}
	return res, nil
}

func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if httpErr := infraerrors.ParseHTTPError(resp); httpErr != nil {
		return nil, httpErr
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(raw) > maxResponseBody {
		return nil, errResponseTooLarge
	}
	return raw, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errResponseTooLarge):
		return "response too large"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if status, ok := infraerrors.StatusCode(err); ok {
		if status == http.StatusTooManyRequests {
			return "rate limited"
		}
		return fmt.Sprintf("upstream status %d", status)
	}
	return "transport"
}
