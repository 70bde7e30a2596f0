package mouse_telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const PluginName = "mouse_telemetry"

// Config represents the plugin configuration
type Config struct {
	// Enable/disable the plugin
	Enabled bool `mapstructure:"enabled"`

	// Sampling periods
	Sampler SamplerConfig `mapstructure:"sampler"`

	// Delivery queue settings
	Dispatch DispatchConfig `mapstructure:"dispatch"`

	// Retry configuration
	Retry RetryConfig `mapstructure:"retry"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport"`

	// Identity/config storage
	Storage StorageConfig `mapstructure:"storage"`

	// Inbound HTTP API
	HTTP HTTPConfig `mapstructure:"http"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// SamplerConfig contains the sampling state machine timings
type SamplerConfig struct {
	// Length of a sampling period
	SampleDuration time.Duration `mapstructure:"sample_duration" validate:"gt=0"`
	// Length of a sleep period
	SleepDuration time.Duration `mapstructure:"sleep_duration" validate:"gt=0"`
	// Shortest sample kept on page hide/unload
	MinForcedDuration time.Duration `mapstructure:"min_forced_duration" validate:"gte=0"`
}

// DispatchConfig contains delivery queue settings
type DispatchConfig struct {
	// Delay between items while draining the queue
	ItemDelay time.Duration `mapstructure:"item_delay" validate:"gte=0"`
	// Delay between items during a retry pass
	RetryItemDelay time.Duration `mapstructure:"retry_item_delay" validate:"gte=0"`
	// Status log and queue kick interval
	StatusInterval time.Duration `mapstructure:"status_interval" validate:"gt=0"`
	// Task buffer of the dispatch and page loops
	BufferSize int `mapstructure:"buffer_size" validate:"gt=0"`
}

// RetryConfig contains retry mechanism settings
type RetryConfig struct {
	// Maximum retry attempts per sample, 0 means the default of 3
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1"`
	// Delay before the first retry pass
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	// Backoff multiplier
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" validate:"gte=1"`
	// Maximum backoff duration
	MaxBackoff time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Request timeout, 0 means no timeout
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
	// Enable gzip compression
	Compression bool `mapstructure:"compression"`
	// Skip TLS verification
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// Proxy settings
	Proxy string `mapstructure:"proxy" validate:"omitempty,url"`
	// User-Agent header
	UserAgent string `mapstructure:"user_agent"`
	// Circuit breaker around delivery
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig contains circuit breaker settings
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Consecutive failures before the breaker opens
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	// Time the breaker stays open
	Timeout time.Duration `mapstructure:"timeout"`
	// Requests allowed while half-open
	MaxRequests uint32 `mapstructure:"max_requests"`
}

// StorageConfig selects where the user id and endpoint are kept
type StorageConfig struct {
	// memory, sqlite or badger
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite badger"`
	// Database file (sqlite) or directory (badger)
	Path string `mapstructure:"path" validate:"required_unless=Driver memory"`
	// Endpoint stored on first start when none is configured
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

// HTTPConfig contains settings of the inbound HTTP API
type HTTPConfig struct {
	// Listen address, empty disables the server
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
	// Requests per minute per client on /messages
	RateLimit int `mapstructure:"rate_limit" validate:"gte=0"`
	// Allowed websocket origins, empty allows any
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Log level for plugin operations
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	if cfg.Sampler.SampleDuration == 0 {
		cfg.Sampler.SampleDuration = 5 * time.Second
	}
	if cfg.Sampler.SleepDuration == 0 {
		cfg.Sampler.SleepDuration = 60 * time.Second
	}
	if cfg.Sampler.MinForcedDuration == 0 {
		cfg.Sampler.MinForcedDuration = 2 * time.Second
	}

	if cfg.Dispatch.ItemDelay == 0 {
		cfg.Dispatch.ItemDelay = 100 * time.Millisecond
	}
	if cfg.Dispatch.RetryItemDelay == 0 {
		cfg.Dispatch.RetryItemDelay = 200 * time.Millisecond
	}
	if cfg.Dispatch.StatusInterval == 0 {
		cfg.Dispatch.StatusInterval = 30 * time.Second
	}
	if cfg.Dispatch.BufferSize == 0 {
		cfg.Dispatch.BufferSize = 1000
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = 5 * time.Second
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2.0
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}

	if cfg.Transport.UserAgent == "" {
		cfg.Transport.UserAgent = "mouse-telemetry-rr/1.0.0"
	}
	if cfg.Transport.Breaker.FailureThreshold == 0 {
		cfg.Transport.Breaker.FailureThreshold = 5
	}
	if cfg.Transport.Breaker.Timeout == 0 {
		cfg.Transport.Breaker.Timeout = 30 * time.Second
	}
	if cfg.Transport.Breaker.MaxRequests == 0 {
		cfg.Transport.Breaker.MaxRequests = 1
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}

	if cfg.HTTP.RateLimit == 0 {
		cfg.HTTP.RateLimit = 600
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Storage.Endpoint != "" {
		if _, err := ParseEndpoint(cfg.Storage.Endpoint); err != nil {
			return fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}
	return nil
}
