// Package config defines the global configuration structure for the Presto
// backend. Configuration is loaded once at process initialization (cold
// start) and is immutable thereafter. It follows 12-Factor App principles by
// strictly separating code from configuration.
//
// Values are resolved from the OS environment, with a dotenv file filling in
// gaps for local development. Any missing required value or invalid format
// fails startup immediately.
package config

import (
	"time"

	"presto/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Presto backend.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"presto-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Billing       BillingConfig
	Assistant     AssistantConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public app URL for Stripe redirects (no trailing slash).
	AppURL string `envconfig:"APP_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
//
// URL is deliberately not required: a deployment without it runs the quota
// ledger in its degraded per-IP fallback mode instead of refusing to start.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// Configured reports whether connection parameters are present at all.
func (d DatabaseConfig) Configured() bool {
	return d.URL.Unmask() != ""
}

// AuthConfig holds identity resolution secrets.
type AuthConfig struct {
	// SupabaseJWTSecret verifies the HS256 access tokens minted by the
	// product's Supabase project.
	SupabaseJWTSecret SecretString `envconfig:"SUPABASE_JWT_SECRET" validate:"required,min=16"`
	// IPHashSalt keys the BLAKE2b hash of anonymous client IPs. BLAKE2b
	// keys max out at 64 bytes.
	IPHashSalt SecretString `envconfig:"IP_HASH_SALT" validate:"required,min=16,max=64"`
}

// BillingConfig holds Stripe payment integration credentials and the
// founder price identifier.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	FounderPriceID      string       `envconfig:"STRIPE_FOUNDER_PRICE_ID" validate:"required"`
}

// AssistantConfig holds the gated AI provider credentials and tuning.
type AssistantConfig struct {
	OpenAIKey   SecretString  `envconfig:"OPENAI_API_KEY" validate:"required"`
	Model       string        `envconfig:"ASSISTANT_MODEL" default:"gpt-4o-mini"`
	CallTimeout time.Duration `envconfig:"ASSISTANT_TIMEOUT" default:"30s"`
}

// CacheConfig selects the counter cache backend. Empty RedisURL keeps the
// default in-process cache.
type CacheConfig struct {
	RedisURL      SecretString  `envconfig:"REDIS_URL"`
	SweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"10m"`
}

// ObservabilityConfig holds telemetry settings for the fire-and-forget
// CloudWatch usage metrics.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Presto"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
}
