package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Outreach   ProviderConfig   `yaml:"outreach"`
	Analysis   ProviderConfig   `yaml:"analysis"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	RateLimits []RateLimit      `yaml:"rate_limits"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns host:port for ListenAndServe.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the redis connection settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ProviderConfig holds settings for one external HTTP collaborator.
type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the request timeout as a duration.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatcherConfig holds the send worker pool settings.
type DispatcherConfig struct {
	NumWorkers          int     `yaml:"num_workers"`
	BatchSize           int     `yaml:"batch_size"`
	MaxRetries          int     `yaml:"max_retries"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	BackoffBaseSeconds  float64 `yaml:"backoff_base_seconds"`
	BackoffCapSeconds   float64 `yaml:"backoff_cap_seconds"`
}

// PollInterval returns the idle wait between claim attempts.
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// BackoffBase returns the first-retry delay.
func (c DispatcherConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds * float64(time.Second))
}

// BackoffCap returns the maximum retry delay.
func (c DispatcherConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds * float64(time.Second))
}

// MonitorConfig holds the response monitor settings.
type MonitorConfig struct {
	WebhookSigningSecret string `yaml:"webhook_signing_secret"`
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
	LookbackSeconds      int    `yaml:"lookback_seconds"`
}

// PollInterval returns the delay between conversation poll cycles.
func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Lookback returns the first-run poll window when no checkpoint exists.
func (c MonitorConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackSeconds) * time.Second
}

// RateLimit is one provider's request budget.
type RateLimit struct {
	Provider      string `yaml:"provider"`
	Requests      int    `yaml:"requests"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// Window returns the budget window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads the YAML config at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Outreach.TimeoutSeconds == 0 {
		cfg.Outreach.TimeoutSeconds = 30
	}
	if cfg.Outreach.MaxRetries == 0 {
		cfg.Outreach.MaxRetries = 3
	}
	if cfg.Analysis.TimeoutSeconds == 0 {
		cfg.Analysis.TimeoutSeconds = 30
	}
	if cfg.Analysis.MaxRetries == 0 {
		cfg.Analysis.MaxRetries = 3
	}
	if cfg.Dispatcher.NumWorkers == 0 {
		cfg.Dispatcher.NumWorkers = 4
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 25
	}
	if cfg.Dispatcher.MaxRetries == 0 {
		cfg.Dispatcher.MaxRetries = 3
	}
	if cfg.Dispatcher.PollIntervalSeconds == 0 {
		cfg.Dispatcher.PollIntervalSeconds = 5
	}
	if cfg.Dispatcher.BackoffBaseSeconds == 0 {
		cfg.Dispatcher.BackoffBaseSeconds = 30
	}
	if cfg.Dispatcher.BackoffCapSeconds == 0 {
		cfg.Dispatcher.BackoffCapSeconds = 3600
	}
	if cfg.Monitor.PollIntervalSeconds == 0 {
		cfg.Monitor.PollIntervalSeconds = 60
	}
	if cfg.Monitor.LookbackSeconds == 0 {
		cfg.Monitor.LookbackSeconds = 86400
	}
	if len(cfg.RateLimits) == 0 {
		cfg.RateLimits = []RateLimit{
			{Provider: "outreach", Requests: 50, WindowSeconds: 60},
			{Provider: "analysis", Requests: 100, WindowSeconds: 60},
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if apiKey := os.Getenv("OUTREACH_API_KEY"); apiKey != "" {
		cfg.Outreach.APIKey = apiKey
	}
	if baseURL := os.Getenv("OUTREACH_BASE_URL"); baseURL != "" {
		cfg.Outreach.BaseURL = baseURL
	}
	if apiKey := os.Getenv("ANALYSIS_API_KEY"); apiKey != "" {
		cfg.Analysis.APIKey = apiKey
	}
	if baseURL := os.Getenv("ANALYSIS_BASE_URL"); baseURL != "" {
		cfg.Analysis.BaseURL = baseURL
	}
	if secret := os.Getenv("WEBHOOK_SIGNING_SECRET"); secret != "" {
		cfg.Monitor.WebhookSigningSecret = secret
	}

	return cfg, nil
}
