// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/foldset/foldset-go/internal/gate"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Gating
	APIKey  string // Foldset tenant API key
	BaseURL string // control-plane base URL

	// Redis override for self-hosted deployments; when set, the
	// control-plane credential fetch is skipped
	RedisAddr     string
	RedisPassword string
	RedisTenantID string

	// Upstream to proxy protected traffic to
	UpstreamURL string

	// OTLP endpoint for traces (empty = tracing disabled)
	OTLPEndpoint string
}

const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Env:           getEnv("ENV", DefaultEnv),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:     getEnv("LOG_FORMAT", DefaultLogFormat),
		APIKey:        os.Getenv("FOLDSET_API_KEY"),
		BaseURL:       getEnv("FOLDSET_BASE_URL", gate.DefaultBaseURL),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisTenantID: os.Getenv("REDIS_TENANT_ID"),
		UpstreamURL:   os.Getenv("UPSTREAM_URL"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.APIKey == "" && c.RedisAddr == "" {
		return fmt.Errorf("FOLDSET_API_KEY or REDIS_ADDR is required")
	}
	if c.RedisAddr != "" && c.RedisTenantID == "" {
		return fmt.Errorf("REDIS_TENANT_ID is required when REDIS_ADDR is set")
	}
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
