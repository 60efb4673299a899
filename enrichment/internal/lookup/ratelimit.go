package lookup

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// RateLimitedClient puts a token bucket in front of another client.
type RateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimitedClient allows perSecond calls with the given burst. A
// non-positive rate disables limiting.
func NewRateLimitedClient(next Client, perSecond float64, burst int) *RateLimitedClient {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(toLimit(perSecond), burst)}
}

// Lookup waits for a token, then calls the wrapped client.
func (c *RateLimitedClient) Lookup(ctx context.Context, identity domain.Identity, names []string) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, lookupError("rate limit wait", err)
	}
	return c.next.Lookup(ctx, identity, names)
}

// SetLimit changes the rate, for example after the upstream signals backpressure.
func (c *RateLimitedClient) SetLimit(perSecond float64) {
	c.limiter.SetLimit(toLimit(perSecond))
}

// Limit returns the current rate in calls per second.
func (c *RateLimitedClient) Limit() float64 {
	return float64(c.limiter.Limit())
}

func toLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
