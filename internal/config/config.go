package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	API     APIConfig
	Retry   RetryConfig
	Cache   CacheConfig
	Token   TokenConfig
	Storage StorageConfig
	Observe ObserveConfig

	// Language selects the catalog for user-facing messages, as a BCP 47
	// tag. Unsupported languages fall back to English.
	Language string `env:"PERKLINE_LANGUAGE, default=en"`
}

type APIConfig struct {
	BaseURL   string        `env:"API_BASE_URL, default=http://localhost:8080"`
	Timeout   time.Duration `env:"API_TIMEOUT, default=10s"`
	UserAgent string        `env:"API_USER_AGENT, default=perkline-client"`

	// AccessToken is a static bearer token, used by the CLI when no other
	// credential source is configured.
	AccessToken string `env:"API_ACCESS_TOKEN"`

	OutgoingHTTPMaxIdleConns    int `env:"API_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"API_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// RetryConfig is the default backoff policy. MaxAttempts counts retries
// after the initial attempt.
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS, default=3"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY, default=1s"`
	Multiplier  float64       `env:"RETRY_BACKOFF_MULTIPLIER, default=2"`
}

// CacheConfig specifies response cache configuration.
type CacheConfig struct {
	// Type selects the cache implementation. Only "memory" is supported.
	Type string `env:"CACHE_TYPE, default=memory"`

	// TTL is the default time-to-live for cached responses.
	TTL time.Duration `env:"CACHE_TTL, default=5m"`

	// SweepInterval is how often the memory cache removes expired entries.
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL, default=60s"`

	// MaxSize bounds the number of cached responses. Zero is unbounded.
	MaxSize int `env:"CACHE_MAX_SIZE, default=10000"`

	// DedupeInFlight coalesces concurrent cache misses for the same key into
	// a single network call.
	DedupeInFlight bool `env:"CACHE_DEDUPE_INFLIGHT, default=false"`
}

type TokenConfig struct {
	IssueEndpoint    string        `env:"TOKEN_ISSUE_ENDPOINT, default=/qr-token"`
	ValidateEndpoint string        `env:"TOKEN_VALIDATE_ENDPOINT, default=/qr-token/validate"`
	ReuseMargin      time.Duration `env:"TOKEN_REUSE_MARGIN, default=60s"`
	FallbackValidity time.Duration `env:"TOKEN_FALLBACK_VALIDITY, default=5m"`
	StorageKey       string        `env:"TOKEN_STORAGE_KEY, default=perkline.qr-token"`
}

// StorageConfig selects the durable key-value store used for token
// persistence.
type StorageConfig struct {
	// Type is one of "memory", "file" (default) or "redis".
	Type string `env:"STORAGE_TYPE, default=file"`

	// Path is the file used by the file store. Empty uses the user config
	// directory.
	Path string `env:"STORAGE_PATH"`

	Redis RedisConfig
}

type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
	Prefix   string `env:"REDIS_KEY_PREFIX, default=perkline:"`
}

type ObserveConfig struct {
	SDKLogLevel    string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled        bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`

	// Type selects the exporter: "grpc" sends OTLP to the collector named by
	// the standard OTEL_EXPORTER_OTLP_* variables, "stdout" writes to stderr.
	Type string `env:"OBSERVE_TYPE, default=stdout"`

	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=perkline"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=5"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=false"`
}

// Validate checks the exporter type.
func (c *ObserveConfig) Validate() error {
	switch c.Type {
	case "grpc", "stdout":
		return nil
	default:
		return fmt.Errorf("OBSERVE_TYPE must be \"grpc\" or \"stdout\", got %q", c.Type)
	}
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Retry.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid retry configuration: %w", err)
	}

	if err := cfg.Cache.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	if err := cfg.Storage.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid storage configuration: %w", err)
	}

	if err := cfg.Observe.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid observability configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the retry policy is usable.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return errors.New("RETRY_MAX_ATTEMPTS must not be negative")
	}
	if c.BaseDelay < 0 {
		return errors.New("RETRY_BASE_DELAY must not be negative")
	}
	if c.Multiplier < 1 {
		return errors.New("RETRY_BACKOFF_MULTIPLIER must be at least 1")
	}
	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory":
	default:
		return fmt.Errorf("CACHE_TYPE must be \"memory\", got %q", c.Type)
	}

	if c.TTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}

	if c.SweepInterval <= 0 {
		return errors.New("CACHE_SWEEP_INTERVAL must be positive")
	}

	if c.MaxSize < 0 {
		return errors.New("CACHE_MAX_SIZE must not be negative")
	}

	return nil
}

// Validate checks that the storage configuration is valid.
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "memory", "file":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("REDIS_ADDRESS required when STORAGE_TYPE=redis")
		}
	default:
		return fmt.Errorf("STORAGE_TYPE must be one of memory, file or redis, got %q", c.Type)
	}

	return nil
}

// DevServerConfig configures the local fake backend.
type DevServerConfig struct {
	Port int `env:"DEVSERVER_PORT, default=8080"`

	// Latency is added to every API response.
	Latency time.Duration `env:"DEVSERVER_LATENCY, default=0s"`

	// FailureRate is the fraction of API requests answered with a 503.
	FailureRate float64 `env:"DEVSERVER_FAILURE_RATE, default=0"`

	// DenyIssuance answers QR token issuance with 403.
	DenyIssuance bool `env:"DEVSERVER_DENY_ISSUANCE, default=false"`

	TokenTTL time.Duration `env:"DEVSERVER_TOKEN_TTL, default=2m"`
}

func LoadDevServer(ctx context.Context) (DevServerConfig, error) {
	return loadDevServer(ctx, nil)
}

func loadDevServer(ctx context.Context, lookup envconfig.Lookuper) (DevServerConfig, error) {
	var cfg DevServerConfig
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup,
	})
	if err != nil {
		return cfg, err
	}

	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return cfg, errors.New("DEVSERVER_FAILURE_RATE must be between 0 and 1")
	}

	if cfg.TokenTTL <= 0 {
		return cfg, errors.New("DEVSERVER_TOKEN_TTL must be positive")
	}

	return cfg, nil
}

// DevTokenConfig configures the development access token generator.
type DevTokenConfig struct {
	SigningKey string        `env:"DEVTOKEN_SIGNING_KEY, default=perkline-development"`
	Issuer     string        `env:"DEVTOKEN_ISSUER, default=http://localhost:8080"`
	Lifetime   time.Duration `env:"DEVTOKEN_LIFETIME, default=24h"`
}

func LoadDevToken(ctx context.Context) (DevTokenConfig, error) {
	var cfg DevTokenConfig
	err := envconfig.Process(ctx, &cfg)
	return cfg, err
}
