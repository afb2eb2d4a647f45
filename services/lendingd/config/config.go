package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen         = ":8088"
	defaultNodeConfig     = "config.toml"
	defaultIdemTTL        = 24 * time.Hour
	defaultMaxConnections = 512
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress  string            `yaml:"listen"`
	NodeConfig     string            `yaml:"node_config"`
	MaxConnections int               `yaml:"max_connections"`
	Origins        []string          `yaml:"origins"`
	TLS            TLSConfig         `yaml:"tls"`
	Auth           AuthConfig        `yaml:"auth"`
	RateLimits     map[string]Limit  `yaml:"rate_limits"`
	Idempotency    IdempotencyConfig `yaml:"idempotency"`
	History        HistoryConfig     `yaml:"history"`
	Webhook        WebhookConfig     `yaml:"webhook"`
	Log            LogConfig         `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token validation. The secret may be supplied
// through the environment variable named by HMACSecretEnv.
type AuthConfig struct {
	Disabled      bool   `yaml:"disabled"`
	HMACSecret    string `yaml:"hmac_secret"`
	HMACSecretEnv string `yaml:"hmac_secret_env"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// Limit is a per-caller token bucket.
type Limit struct {
	RequestsPerMinute float64 `yaml:"rpm"`
	Burst             int     `yaml:"burst"`
}

// IdempotencyConfig locates the replay cache.
type IdempotencyConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// HistoryConfig selects the event index database. An empty driver disables
// the index.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WebhookConfig forwards selected events to an external endpoint. An empty
// URL disables forwarding.
type WebhookConfig struct {
	URL       string   `yaml:"url"`
	SecretEnv string   `yaml:"secret_env"`
	Events    []string `yaml:"events"`
}

// Secret reads the signing secret from the environment.
func (cfg WebhookConfig) Secret() string {
	if cfg.SecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(cfg.SecretEnv))
}

// LogConfig mirrors the rotating file options of the logging package.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Secret resolves the HMAC secret, preferring the environment.
func (cfg AuthConfig) Secret() string {
	if cfg.HMACSecretEnv != "" {
		if v := strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv)); v != "" {
			return v
		}
	}
	return cfg.HMACSecret
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.NodeConfig = strings.TrimSpace(cfg.NodeConfig)
	if cfg.NodeConfig == "" {
		cfg.NodeConfig = defaultNodeConfig
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	origins := make([]string, 0, len(cfg.Origins))
	for _, origin := range cfg.Origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.Origins = origins
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.HMACSecretEnv = strings.TrimSpace(cfg.Auth.HMACSecretEnv)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	limits := make(map[string]Limit, len(cfg.RateLimits))
	for class, limit := range cfg.RateLimits {
		limits[strings.ToLower(strings.TrimSpace(class))] = limit
	}
	cfg.RateLimits = limits
	cfg.Idempotency.Path = strings.TrimSpace(cfg.Idempotency.Path)
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = defaultIdemTTL
	}
	cfg.History.Driver = strings.ToLower(strings.TrimSpace(cfg.History.Driver))
	cfg.History.DSN = strings.TrimSpace(cfg.History.DSN)
	cfg.Webhook.URL = strings.TrimSpace(cfg.Webhook.URL)
	cfg.Webhook.SecretEnv = strings.TrimSpace(cfg.Webhook.SecretEnv)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if !cfg.Auth.Disabled && cfg.Auth.Secret() == "" {
		return fmt.Errorf("auth: hmac_secret or hmac_secret_env is required unless disabled")
	}
	if cfg.Auth.Disabled && !cfg.TLS.AllowInsecure {
		return fmt.Errorf("auth: disabling auth requires tls.allow_insecure (development only)")
	}
	for class, limit := range cfg.RateLimits {
		switch class {
		case "read", "write", "admin":
		default:
			return fmt.Errorf("rate_limits: unknown class %q", class)
		}
		if limit.RequestsPerMinute <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("rate_limits.%s: rpm and burst must be positive", class)
		}
	}
	switch cfg.History.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.History.DSN == "" {
			return fmt.Errorf("history: dsn required for driver %s", cfg.History.Driver)
		}
	default:
		return fmt.Errorf("history: unsupported driver %q", cfg.History.Driver)
	}
	if cfg.Webhook.URL != "" && cfg.Webhook.Secret() == "" {
		return fmt.Errorf("webhook: secret_env must name a non-empty environment variable")
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}
