package bootstrap

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/enrichment/internal/config"
	"github.com/jonesrussell/north-cloud/enrichment/internal/lookup"
	"github.com/jonesrussell/north-cloud/infrastructure/circuitbreaker"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/infrastructure/retry"
)

// lookupMaxRetries is shared by both backends.
const lookupMaxRetries = 2

// SetupLookupClient builds the backend, then wraps it with sub-batching and
// rate limiting: every sub-batch call waits for the limiter.
func SetupLookupClient(cfg *config.Config, log infralogger.Logger) (lookup.Client, error) {
	backend, err := lookupBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	limited := lookup.NewRateLimitedClient(backend, cfg.Lookup.RateLimit, cfg.Lookup.Burst)
	return lookup.NewBatchingClient(limited, cfg.Lookup.CharBudget, log), nil
}

func lookupBackend(cfg *config.Config, log infralogger.Logger) (lookup.Client, error) {
	switch cfg.Lookup.Backend {
	case config.BackendAnthropic:
		client, err := lookup.NewAnthropicClient(lookup.AnthropicConfig{
			APIKey:     cfg.Lookup.Anthropic.APIKey,
			Model:      cfg.Lookup.Anthropic.Model,
			MaxTokens:  int64(cfg.Lookup.Anthropic.MaxTokens),
			BaseURL:    cfg.Lookup.Anthropic.BaseURL,
			MaxRetries: lookupMaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic lookup client: %w", err)
		}
		log.Info("Lookup backend configured",
			infralogger.String("backend", config.BackendAnthropic),
			infralogger.String("model", cfg.Lookup.Anthropic.Model),
		)
		return client, nil
	default:
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = lookupMaxRetries + 1
		client, err := lookup.NewHTTPClient(lookup.HTTPConfig{
			Endpoint:  cfg.Lookup.Endpoint,
			APIKey:    cfg.Lookup.APIKey,
			Timeout:   cfg.Runner.LookupTimeout,
			UserAgent: "north-cloud-" + cfg.Service.Name + "/" + cfg.Service.Version,
			Retry:     retryCfg,
			Breaker: circuitbreaker.Config{
				FailureThreshold: cfg.Lookup.BreakerThreshold,
				SuccessThreshold: 1,
				Timeout:          cfg.Lookup.BreakerTimeout,
				OnStateChange: func(from, to circuitbreaker.State) {
					log.Warn("Lookup circuit breaker state changed",
						infralogger.String("from", from.String()),
						infralogger.String("to", to.String()),
					)
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("http lookup client: %w", err)
		}
		log.Info("Lookup backend configured",
			infralogger.String("backend", config.BackendHTTP),
			infralogger.String("endpoint", cfg.Lookup.Endpoint),
		)
		return client, nil
	}
}
