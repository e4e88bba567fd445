// Package config loads application configuration from environment
// variables, plus an optional YAML file for prompt overrides.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`

	// Completion endpoint
	LLMBaseURL string        `envconfig:"LLM_BASE_URL"`
	LLMAPIKey  string        `envconfig:"LLM_API_KEY"`
	LLMModel   string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMTimeout time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`

	// Dialogue policy
	MinQuestions int    `envconfig:"INTAKE_MIN_QUESTIONS" default:"5"`
	PromptsPath  string `envconfig:"INTAKE_PROMPTS_PATH"` // optional YAML prompt overrides

	// Storage
	DBPath          string        `envconfig:"DB_PATH" default:"scopedeck.db"`
	SessionMaxIdle  time.Duration `envconfig:"SESSION_MAX_IDLE" default:"168h"`
	RetentionPeriod time.Duration `envconfig:"RETENTION_PERIOD" default:"1h"`

	// API auth
	AuthMode  string `envconfig:"AUTH_MODE" default:"api-key"` // "api-key", "jwt", "none"
	APIKey    string `envconfig:"API_KEY"`
	JWTSecret string `envconfig:"JWT_SECRET"`

	// HTTP hardening
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
		}
	case "none":
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.MinQuestions < 0 {
		return fmt.Errorf("INTAKE_MIN_QUESTIONS must not be negative")
	}
	return nil
}

// LLMEnabled returns true if the completion endpoint is configured. The
// service starts without it; intake operations fail with a configuration
// error until both values are set.
func (c *Config) LLMEnabled() bool {
	return c.LLMBaseURL != "" && c.LLMAPIKey != ""
}

// Development returns true in the development environment.
func (c *Config) Development() bool {
	return c.Environment == "development"
}
