package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
)

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageFile   = "file"
)

// Config holds all configuration for the storefront counter agent.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AGENT_HTTP_PORT" envDefault:"8090"`

	// Storefront backend and the page the agent is attached to
	BaseURL      string `env:"STOREFRONT_BASE_URL" envDefault:"http://localhost:8080"`
	Username     string `env:"STOREFRONT_USERNAME"`
	SessionToken string `env:"STOREFRONT_SESSION_TOKEN"`
	CSRFToken    string `env:"STOREFRONT_CSRF_TOKEN"`
	CSRFHeader   string `env:"STOREFRONT_CSRF_HEADER" envDefault:"X-CSRF-TOKEN"`
	PagePath     string `env:"STOREFRONT_PAGE_PATH" envDefault:"/"`

	// Client-side storage
	StorageBackend   string `env:"STORAGE_BACKEND" envDefault:"memory"`
	StorageNamespace string `env:"STORAGE_NAMESPACE" envDefault:"default"`
	StorageDir       string `env:"STORAGE_DIR" envDefault:"./data/storage"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Counter timings
	CacheTTL            time.Duration `env:"COUNTER_CACHE_TTL" envDefault:"5m"`
	UpdateDebounce      time.Duration `env:"COUNTER_UPDATE_DEBOUNCE" envDefault:"100ms"`
	SyncDebounce        time.Duration `env:"COUNTER_SYNC_DEBOUNCE" envDefault:"500ms"`
	InitialRefreshDelay time.Duration `env:"COUNTER_INITIAL_REFRESH_DELAY" envDefault:"1s"`
	RefreshInterval     time.Duration `env:"COUNTER_REFRESH_INTERVAL" envDefault:"60s"`

	// Outbound HTTP
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"5s"`
	MaxRetries     int           `env:"HTTP_MAX_RETRIES" envDefault:"2"`
	RetryBase      time.Duration `env:"HTTP_RETRY_BASE" envDefault:"1s"`

	// Session handling
	RedirectDelay time.Duration `env:"SESSION_REDIRECT_DELAY" envDefault:"2s"`
	LoginPath     string        `env:"LOGIN_PATH" envDefault:"/login"`

	// Mutations that fail with a 5xx or an unreadable body are reported as
	// done for add-to-cart and add-to-wishlist.
	AssumeSuccessOnServerError bool `env:"ASSUME_SUCCESS_ON_SERVER_ERROR" envDefault:"true"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"storefront-agent"`

	// Rate limiting
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load agent config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("STOREFRONT_BASE_URL must be an absolute URL, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	switch c.StorageBackend {
	case StorageMemory, StorageRedis:
	case StorageFile:
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("COUNTER_CACHE_TTL must be positive")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("COUNTER_REFRESH_INTERVAL must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES must not be negative")
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must start with /")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit must allow at least one request")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0")
	}
	return nil
}
