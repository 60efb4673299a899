// Package config loads the enrichment service configuration.
package config

import (
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/infrastructure/config"
	"github.com/jonesrussell/north-cloud/infrastructure/profiling"
)

// Default configuration values.
const (
	defaultServiceName = "enrichment"
	defaultServicePort = 8095
	defaultVersion     = "0.1.0"
	defaultDBName      = "enrichment"

	defaultConcurrency       = 5
	defaultSuccessThreshold  = 0.7
	defaultLookupTimeout     = 60 * time.Second
	defaultLeaseTTL          = 2 * time.Minute
	defaultStoreTimeout      = 10 * time.Second
	defaultRecoverySchedule  = "@every 1m"
	defaultReadRetryAttempts = 3

	defaultLookupBackend      = BackendHTTP
	defaultLookupCharBudget   = 1500
	defaultLookupRateLimit    = 5.0
	defaultLookupBurst        = 5
	defaultLookupMaxTokens    = 1024
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultBreakerThreshold   = 5
	defaultBreakerOpenTimeout = 30 * time.Second

	defaultStreamName    = "enrichment-run-events"
	defaultStreamGroup   = "enrichment-sse"
	defaultStreamMaxLen  = 10000
	defaultSSEBufferSize = 64
)

// Lookup backends.
const (
	BackendHTTP      = "http"
	BackendAnthropic = "anthropic"
)

// Config holds the application configuration.
type Config struct {
	Service   ServiceConfig              `yaml:"service"`
	Database  infraconfig.DatabaseConfig `yaml:"database"`
	Redis     infraconfig.RedisConfig    `yaml:"redis"`
	Runner    RunnerConfig               `yaml:"runner"`
	Lookup    LookupConfig               `yaml:"lookup"`
	Notifier  NotifierConfig             `yaml:"notifier"`
	Auth      AuthConfig                 `yaml:"auth"`
	Logging   infraconfig.LoggingConfig  `yaml:"logging"`
	Profiling profiling.Config           `yaml:"profiling"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Port        int      `env:"ENRICHMENT_PORT" yaml:"port"`
	Debug       bool     `env:"APP_DEBUG"       yaml:"debug"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RunnerConfig controls the job runner.
type RunnerConfig struct {
	DefaultConcurrency int           `yaml:"default_concurrency"`
	SuccessThreshold   float64       `env:"ENRICHMENT_SUCCESS_THRESHOLD" yaml:"success_threshold"`
	LookupTimeout      time.Duration `env:"ENRICHMENT_LOOKUP_TIMEOUT"    yaml:"lookup_timeout"`
	LeaseTTL           time.Duration `yaml:"lease_ttl"`
	StoreTimeout       time.Duration `env:"ENRICHMENT_STORE_TIMEOUT"     yaml:"store_timeout"`
	RecoverySchedule   string        `yaml:"recovery_schedule"`
	ReadRetryAttempts  int           `yaml:"read_retry_attempts"`
	InstanceID         string        `env:"ENRICHMENT_INSTANCE_ID" yaml:"instance_id"`
}

// LookupConfig selects and tunes the enrichment lookup backend.
type LookupConfig struct {
	Backend          string          `env:"ENRICHMENT_LOOKUP_BACKEND" yaml:"backend"`
	Endpoint         string          `env:"ENRICHMENT_LOOKUP_URL"     yaml:"endpoint"`
	APIKey           string          `env:"ENRICHMENT_LOOKUP_API_KEY" yaml:"api_key"` //nolint:gosec // credential config
	CharBudget       int             `yaml:"char_budget"`
	RateLimit        float64         `yaml:"rate_limit"`
	Burst            int             `yaml:"burst"`
	BreakerThreshold int             `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration   `yaml:"breaker_timeout"`
	Anthropic        AnthropicConfig `yaml:"anthropic"`
}

// AnthropicConfig holds settings for the Messages API backend.
type AnthropicConfig struct {
	APIKey    string `env:"ANTHROPIC_API_KEY" yaml:"api_key"` //nolint:gosec // credential config
	Model     string `env:"ANTHROPIC_MODEL"   yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	BaseURL   string `yaml:"base_url"`
}

// NotifierConfig controls progress fan-out.
type NotifierConfig struct {
	StreamName    string `yaml:"stream_name"`
	StreamGroup   string `yaml:"stream_group"`
	StreamMaxLen  int64  `yaml:"stream_max_len"`
	SSEBufferSize int    `yaml:"sse_buffer_size"`
}

// AuthConfig holds JWT settings. An empty secret leaves /api/v1 open.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" yaml:"jwt_secret"` //nolint:gosec // credential config
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	return infraconfig.LoadWithDefaults[Config](path, setDefaults)
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	if cfg.Database.Database == "" {
		cfg.Database.Database = defaultDBName
	}
	cfg.Database.SetDefaults()
	cfg.Redis.SetDefaults()
	setRunnerDefaults(&cfg.Runner)
	setLookupDefaults(&cfg.Lookup)
	setNotifierDefaults(&cfg.Notifier)
	cfg.Logging.SetDefaults()
	cfg.Profiling.SetDefaults()
}

func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
}

func setRunnerDefaults(r *RunnerConfig) {
	if r.DefaultConcurrency == 0 {
		r.DefaultConcurrency = defaultConcurrency
	}
	if r.SuccessThreshold == 0 {
		r.SuccessThreshold = defaultSuccessThreshold
	}
	if r.LookupTimeout == 0 {
		r.LookupTimeout = defaultLookupTimeout
	}
	if r.LeaseTTL == 0 {
		r.LeaseTTL = defaultLeaseTTL
	}
	if r.StoreTimeout == 0 {
		r.StoreTimeout = defaultStoreTimeout
	}
	if r.RecoverySchedule == "" {
		r.RecoverySchedule = defaultRecoverySchedule
	}
	if r.ReadRetryAttempts == 0 {
		r.ReadRetryAttempts = defaultReadRetryAttempts
	}
}

func setLookupDefaults(l *LookupConfig) {
	if l.Backend == "" {
		l.Backend = defaultLookupBackend
	}
	if l.CharBudget == 0 {
		l.CharBudget = defaultLookupCharBudget
	}
	if l.RateLimit == 0 {
		l.RateLimit = defaultLookupRateLimit
	}
	if l.Burst == 0 {
		l.Burst = defaultLookupBurst
	}
	if l.BreakerThreshold == 0 {
		l.BreakerThreshold = defaultBreakerThreshold
	}
	if l.BreakerTimeout == 0 {
		l.BreakerTimeout = defaultBreakerOpenTimeout
	}
	if l.Anthropic.Model == "" {
		l.Anthropic.Model = defaultAnthropicModel
	}
	if l.Anthropic.MaxTokens == 0 {
		l.Anthropic.MaxTokens = defaultLookupMaxTokens
	}
}

func setNotifierDefaults(n *NotifierConfig) {
	if n.StreamName == "" {
		n.StreamName = defaultStreamName
	}
	if n.StreamGroup == "" {
		n.StreamGroup = defaultStreamGroup
	}
	if n.StreamMaxLen == 0 {
		n.StreamMaxLen = defaultStreamMaxLen
	}
	if n.SSEBufferSize == 0 {
		n.SSEBufferSize = defaultSSEBufferSize
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := infraconfig.ValidatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("runner.default_concurrency", c.Runner.DefaultConcurrency); err != nil {
		return err
	}
	if err := infraconfig.ValidateFraction("runner.success_threshold", c.Runner.SuccessThreshold); err != nil {
		return err
	}
	if c.Runner.LookupTimeout <= 0 {
		return &infraconfig.ValidationError{Field: "runner.lookup_timeout", Message: "must be positive"}
	}
	if c.Runner.LeaseTTL <= 0 {
		return &infraconfig.ValidationError{Field: "runner.lease_ttl", Message: "must be positive"}
	}
	if c.Runner.StoreTimeout <= 0 {
		return &infraconfig.ValidationError{Field: "runner.store_timeout", Message: "must be positive"}
	}
	if err := c.validateLookup(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

func (c *Config) validateLookup() error {
	switch c.Lookup.Backend {
	case BackendHTTP:
		return infraconfig.ValidateRequired("lookup.endpoint", c.Lookup.Endpoint)
	case BackendAnthropic:
		return infraconfig.ValidateRequired("lookup.anthropic.api_key", c.Lookup.Anthropic.APIKey)
	default:
		return &infraconfig.ValidationError{Field: "lookup.backend", Message: "must be one of: http, anthropic"}
	}
}
