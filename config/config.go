// Package config loads and validates Aegis configuration from config files
// and environment variables.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// StartupMode controls how initialization failures in optional subsystems are
// handled.
//
//	strict (default): fail fast on any error
//	graceful: start with degraded functionality, log warnings
type StartupMode string

const (
	StartupModeStrict   StartupMode = "strict"
	StartupModeGraceful StartupMode = "graceful"
)

// DataPaths holds the data directory configuration.
type DataPaths struct {
	// DataDir is the base directory for all persistent data.
	DataDir string `mapstructure:"data_dir"`

	// SQLitePath overrides the SQLite database location. Empty = derive
	// from DataDir.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// AIConfig configures the AI gateway: which providers serve generation
// requests and with what bounds.
type AIConfig struct {
	// Provider is the primary provider: "openai" or "ollama".
	Provider string `mapstructure:"provider"`

	// FallbackProvider is tried once when the primary fails with a
	// connection or timeout error. Empty disables fallback.
	FallbackProvider string `mapstructure:"fallback_provider"`

	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`

	// APIKey authenticates against OpenAI-compatible endpoints. Resolved
	// through the secrets provider; never committed to config files.
	APIKey string `mapstructure:"api_key"`

	// Endpoint overrides the OpenAI base URL (for compatible shims).
	Endpoint string `mapstructure:"endpoint"`

	// OllamaEndpoint is the local Ollama server address.
	OllamaEndpoint string `mapstructure:"ollama_endpoint"`

	// RequestTimeout bounds every generation call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ProbeTimeout bounds diagnostic connectivity checks, which tolerate a
	// much longer wait than a user-facing request.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// PromptPackPath points at a YAML file overriding the built-in prompt
	// templates. Empty or missing file = defaults.
	PromptPackPath string `mapstructure:"prompt_pack_path"`
}

// RateTier is one tier of the API rate limiter.
type RateTier struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	Burst  int           `mapstructure:"burst"`
}

// Config is the full Aegis configuration tree.
type Config struct {
	StartupMode StartupMode `mapstructure:"startup_mode"`

	DataPaths DataPaths `mapstructure:"data_paths"`

	AI AIConfig `mapstructure:"ai"`

	API struct {
		Port           int      `mapstructure:"port"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			Login     RateTier `mapstructure:"login"`
			API       RateTier `mapstructure:"api"`
			Global    RateTier `mapstructure:"global"`
			ExemptIPs []string `mapstructure:"exempt_ips"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled        bool   `mapstructure:"enabled"`
		Username       string `mapstructure:"username"`
		Password       string `mapstructure:"password"`
		HashedPassword string
		OrganizationID string        `mapstructure:"organization_id"`
		BcryptCost     int           `mapstructure:"bcrypt_cost"`
		JWTSecret      string        `mapstructure:"jwt_secret"`
		JWTExpiry      time.Duration `mapstructure:"jwt_expiry"`

		// Account lockout after repeated failed logins.
		LockoutThreshold int           `mapstructure:"lockout_threshold"`
		LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
	} `mapstructure:"auth"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`

		// ClassificationTTL is how long a cached alert classification
		// stays fresh.
		ClassificationTTL time.Duration `mapstructure:"classification_ttl"`
	} `mapstructure:"redis"`

	// MongoDB optionally backs the alert timeline for deployments that
	// want the narrative store separate from SQLite.
	MongoDB struct {
		Enabled     bool   `mapstructure:"enabled"`
		URI         string `mapstructure:"uri"`
		Database    string `mapstructure:"database"`
		MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	} `mapstructure:"mongodb"`

	// ClickHouse optionally sinks the high-volume AI activity log.
	ClickHouse struct {
		Enabled       bool   `mapstructure:"enabled"`
		Addr          string `mapstructure:"addr"`
		Database      string `mapstructure:"database"`
		Username      string `mapstructure:"username"`
		Password      string `mapstructure:"password"`
		TLS           bool   `mapstructure:"tls"`
		MaxPoolSize   int    `mapstructure:"max_pool_size"`
		BatchSize     int    `mapstructure:"batch_size"`
		FlushInterval int    `mapstructure:"flush_interval"` // seconds
		WorkerCount   int    `mapstructure:"worker_count"`
	} `mapstructure:"clickhouse"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`

	Security struct {
		JSONBodyLimit  int64         `mapstructure:"json_body_limit"`
		LoginBodyLimit int64         `mapstructure:"login_body_limit"`
		RegexTimeout   time.Duration `mapstructure:"regex_timeout"`
	} `mapstructure:"security"`

	Notifications struct {
		Enabled bool `mapstructure:"enabled"`

		// MinSeverity is the lowest alert severity that triggers a
		// notification on playbook generation.
		MinSeverity int `mapstructure:"min_severity"`

		Webhook struct {
			URL     string            `mapstructure:"url"`
			Method  string            `mapstructure:"method"`
			Headers map[string]string `mapstructure:"headers"`
			Timeout time.Duration     `mapstructure:"timeout"`
		} `mapstructure:"webhook"`

		Slack struct {
			WebhookURL string `mapstructure:"webhook_url"`
		} `mapstructure:"slack"`
	} `mapstructure:"notifications"`

	Assets struct {
		CacheSize int           `mapstructure:"cache_size"`
		CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"assets"`
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("startup_mode", string(StartupModeStrict))

	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.fallback_provider", "")
	viper.SetDefault("ai.model", "gpt-4o-mini")
	viper.SetDefault("ai.max_tokens", 2048)
	viper.SetDefault("ai.temperature", 0.2)
	viper.SetDefault("ai.ollama_endpoint", "http://localhost:11434")
	viper.SetDefault("ai.request_timeout", 30*time.Second)
	viper.SetDefault("ai.probe_timeout", 60*time.Second)
	viper.SetDefault("ai.prompt_pack_path", "config/prompts.yaml")

	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.rate_limit.login.limit", 5)
	viper.SetDefault("api.rate_limit.login.window", 1*time.Minute)
	viper.SetDefault("api.rate_limit.login.burst", 5)
	viper.SetDefault("api.rate_limit.api.limit", 100)
	viper.SetDefault("api.rate_limit.api.window", 1*time.Minute)
	viper.SetDefault("api.rate_limit.api.burst", 100)
	viper.SetDefault("api.rate_limit.global.limit", 10000)
	viper.SetDefault("api.rate_limit.global.window", 1*time.Second)
	viper.SetDefault("api.rate_limit.global.burst", 10000)
	viper.SetDefault("api.rate_limit.exempt_ips", []string{})

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.organization_id", "default")
	viper.SetDefault("auth.bcrypt_cost", 10)
	viper.SetDefault("auth.jwt_expiry", 24*time.Hour)
	viper.SetDefault("auth.lockout_threshold", 5)
	viper.SetDefault("auth.lockout_duration", 15*time.Minute)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.classification_ttl", 1*time.Hour)

	viper.SetDefault("mongodb.enabled", false)
	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "aegis")
	viper.SetDefault("mongodb.max_pool_size", 10)

	viper.SetDefault("clickhouse.enabled", false)
	viper.SetDefault("clickhouse.addr", "localhost:9000")
	viper.SetDefault("clickhouse.database", "aegis")
	viper.SetDefault("clickhouse.username", "default")
	viper.SetDefault("clickhouse.max_pool_size", 10)
	viper.SetDefault("clickhouse.batch_size", 500)
	viper.SetDefault("clickhouse.flush_interval", 5)
	viper.SetDefault("clickhouse.worker_count", 2)

	viper.SetDefault("secrets.provider", "env")

	viper.SetDefault("security.json_body_limit", 1<<20)  // 1 MiB
	viper.SetDefault("security.login_body_limit", 4096)
	viper.SetDefault("security.regex_timeout", 100*time.Millisecond)

	viper.SetDefault("notifications.enabled", false)
	viper.SetDefault("notifications.min_severity", 4)
	viper.SetDefault("notifications.webhook.method", "POST")
	viper.SetDefault("notifications.webhook.timeout", 10*time.Second)

	viper.SetDefault("assets.cache_size", 1024)
	viper.SetDefault("assets.cache_ttl", 5*time.Minute)
}

// loadFromEnv binds environment variables with the AEGIS_ prefix, so
// AEGIS_AI_API_KEY overrides ai.api_key.
func loadFromEnv() {
	viper.SetEnvPrefix("AEGIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// validateAndHash hashes the configured admin password. The plaintext is
// cleared after hashing so it never sits in memory longer than needed.
func validateAndHash(config *Config) error {
	if !config.Auth.Enabled {
		return nil
	}
	if config.Auth.Password == "" {
		return nil // bootstrap generates a password when none is set
	}

	cost := config.Auth.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.Password), cost)
	if err != nil {
		return fmt.Errorf("failed to hash auth password: %w", err)
	}
	config.Auth.HashedPassword = string(hashed)
	config.Auth.Password = ""
	return nil
}

// LoadConfig reads config.yaml from the working directory or ./config,
// applies environment overrides, and validates the result.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.ResolveDataPaths()

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	if err := validateAndHash(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ResolveDataPaths fills in derived paths from DataDir.
func (c *Config) ResolveDataPaths() {
	if c.DataPaths.DataDir == "" {
		c.DataPaths.DataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(c.DataPaths.DataDir, "aegis.db")
	}
}

// GetDataDir returns the resolved base data directory.
func (c *Config) GetDataDir() string {
	return c.DataPaths.DataDir
}

// GetSQLitePath returns the resolved SQLite database path.
func (c *Config) GetSQLitePath() string {
	return c.DataPaths.SQLitePath
}

// IsGracefulMode reports whether optional-subsystem failures should degrade
// rather than abort startup.
func (c *Config) IsGracefulMode() bool {
	return c.StartupMode == StartupModeGraceful
}

// validateConfig checks cross-field constraints the type system cannot.
func validateConfig(config *Config) error {
	switch config.StartupMode {
	case StartupModeStrict, StartupModeGraceful:
	case "":
		config.StartupMode = StartupModeStrict
	default:
		return fmt.Errorf("invalid startup_mode: %q (must be strict or graceful)", config.StartupMode)
	}

	switch config.AI.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("invalid ai.provider: %q (must be openai or ollama)", config.AI.Provider)
	}
	switch config.AI.FallbackProvider {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("invalid ai.fallback_provider: %q (must be openai or ollama)", config.AI.FallbackProvider)
	}
	if config.AI.FallbackProvider == config.AI.Provider && config.AI.FallbackProvider != "" {
		return fmt.Errorf("ai.fallback_provider must differ from ai.provider (%s)", config.AI.Provider)
	}
	if config.AI.Model == "" {
		return fmt.Errorf("ai.model cannot be empty")
	}
	if config.AI.MaxTokens <= 0 {
		return fmt.Errorf("ai.max_tokens must be positive, got %d", config.AI.MaxTokens)
	}
	if config.AI.Temperature < 0 || config.AI.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be between 0 and 2, got %v", config.AI.Temperature)
	}
	if config.AI.RequestTimeout <= 0 {
		return fmt.Errorf("ai.request_timeout must be positive, got %v", config.AI.RequestTimeout)
	}
	if config.AI.Endpoint != "" {
		if err := validateHTTPURL("ai.endpoint", config.AI.Endpoint); err != nil {
			return err
		}
	}
	if config.AI.OllamaEndpoint != "" {
		if err := validateHTTPURL("ai.ollama_endpoint", config.AI.OllamaEndpoint); err != nil {
			return err
		}
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", config.API.Port)
	}
	if config.API.TLS {
		if config.API.CertFile == "" || config.API.KeyFile == "" {
			return fmt.Errorf("api.cert_file and api.key_file are required when api.tls is enabled")
		}
	}

	if config.Auth.Enabled && config.Auth.JWTExpiry <= 0 {
		return fmt.Errorf("auth.jwt_expiry must be positive, got %v", config.Auth.JWTExpiry)
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis.addr cannot be empty when redis is enabled")
	}
	if config.Redis.ClassificationTTL <= 0 {
		config.Redis.ClassificationTTL = time.Hour
	}

	if config.Notifications.Enabled {
		if config.Notifications.Webhook.URL == "" && config.Notifications.Slack.WebhookURL == "" {
			return fmt.Errorf("notifications enabled but no webhook or slack URL configured")
		}
		if config.Notifications.Webhook.URL != "" {
			if err := validateHTTPURL("notifications.webhook.url", config.Notifications.Webhook.URL); err != nil {
				return err
			}
		}
		if config.Notifications.MinSeverity < 1 || config.Notifications.MinSeverity > 5 {
			return fmt.Errorf("notifications.min_severity must be between 1 and 5, got %d", config.Notifications.MinSeverity)
		}
	}

	switch config.Secrets.Provider {
	case "", "env", "vault", "aws":
	default:
		return fmt.Errorf("invalid secrets.provider: %q (must be env, vault, or aws)", config.Secrets.Provider)
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s: missing host", field)
	}
	return nil
}
