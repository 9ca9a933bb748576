package config

import (
	"time"

	"github.com/sodown4thecause/seobot-sub007/pkg/redis"
)

// Config holds runtime configuration for the admission-control service.
type Config struct {
	AppEnv string

	HTTP      HTTPConfig      `mapstructure:"http" validate:"required"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Redis     redis.Config    `mapstructure:"redis" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Upstreams []Upstream      `mapstructure:"upstreams" validate:"dive"`
}

// HTTPConfig configures the inbound HTTP server.
type HTTPConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig controls log level and file rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig enables error reporting when a DSN is provided.
type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RateLimitConfig declares the named limit policies enforced by the
// admission layer. Policies are read once at startup and never mutated.
type RateLimitConfig struct {
	Policies []PolicyRule `mapstructure:"policies" validate:"required,dive"`
}

// PolicyRule is one named window/limit pair, e.g. CHAT: 20 requests per minute.
type PolicyRule struct {
	Name        string        `mapstructure:"name" validate:"required"`
	Window      time.Duration `mapstructure:"window" validate:"required"`
	MaxRequests int           `mapstructure:"max_requests" validate:"required,gt=0"`
	Message     string        `mapstructure:"message"`
}

// Upstream configures one protected outbound dependency: its base URL,
// executor defaults, breaker thresholds and optional call pacing.
type Upstream struct {
	Name           string        `mapstructure:"name" validate:"required"`
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`

	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`

	PaceCapacity int           `mapstructure:"pace_capacity"`
	PaceRefill   int           `mapstructure:"pace_refill"`
	PaceInterval time.Duration `mapstructure:"pace_interval"`
}

// DefaultPolicies covers the endpoint classes shipped with the service.
// Deployments override them per environment in configs/<env>.yaml.
func DefaultPolicies() []PolicyRule {
	return []PolicyRule{
		{Name: "CHAT", Window: time.Minute, MaxRequests: 20, Message: "Too many chat requests. Please slow down."},
		{Name: "KEYWORDS", Window: time.Minute, MaxRequests: 30, Message: "Too many keyword lookups. Please slow down."},
		{Name: "EXPORT", Window: time.Hour, MaxRequests: 10, Message: "Export limit reached. Try again later."},
		{Name: "AEO_AUDIT", Window: time.Hour, MaxRequests: 5, Message: "Audit limit reached. Try again later."},
	}
}
