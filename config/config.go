package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Crawl       CrawlConfig     `mapstructure:"crawl"`
	Webhook     WebhookConfig   `mapstructure:"webhook"`
	Retention   RetentionConfig `mapstructure:"retention"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// CrawlConfig holds crawl scheduling and fetch configuration
type CrawlConfig struct {
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	MaxConcurrent      int    `mapstructure:"max_concurrent"`
	RateLimitPerDomain int    `mapstructure:"rate_limit_per_domain"`
	RetryAttempts      int    `mapstructure:"retry_attempts"`
	RetryBackoffBase   int    `mapstructure:"retry_backoff_base"`
	UserAgent          string `mapstructure:"user_agent"`
}

// WebhookConfig holds webhook delivery configuration
type WebhookConfig struct {
	TimeoutSeconds            int `mapstructure:"timeout_seconds"`
	MaxRetries                int `mapstructure:"max_retries"`
	RetryBackoffBase          int `mapstructure:"retry_backoff_base"`
	SignatureToleranceSeconds int `mapstructure:"signature_tolerance_seconds"`
}

// RetentionConfig holds history retention configuration
type RetentionConfig struct {
	DefaultDays int `mapstructure:"default_days"`
	MaxDays     int `mapstructure:"max_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := loadEnvFile(); err != nil {
		// .env is optional, log but don't fail
		log.Warn().Err(err).Msg("Warning: .env file not loaded")
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// loadEnvFile loads a .env file by parsing KEY=VALUE lines and setting them as environment variables
func loadEnvFile() error {
	envPaths := []string{".", "./config"}

	for _, path := range envPaths {
		envFile := fmt.Sprintf("%s/.env", path)
		if _, err := os.Stat(envFile); err == nil {
			if err := loadDotEnvFile(envFile); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no .env file found")
}

// loadDotEnvFile reads a .env file and sets environment variables
func loadDotEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("environment", "ENVIRONMENT")

	// Database
	v.BindEnv("database.url", "DATABASE_URL")

	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")

	// Crawling
	v.BindEnv("crawl.timeout_seconds", "DEFAULT_CRAWL_TIMEOUT")
	v.BindEnv("crawl.max_concurrent", "MAX_CONCURRENT_CRAWLS")
	v.BindEnv("crawl.rate_limit_per_domain", "CRAWL_RATE_LIMIT_PER_DOMAIN")
	v.BindEnv("crawl.retry_attempts", "CRAWL_RETRY_ATTEMPTS")
	v.BindEnv("crawl.retry_backoff_base", "CRAWL_RETRY_BACKOFF_BASE")

	// Webhooks
	v.BindEnv("webhook.timeout_seconds", "WEBHOOK_TIMEOUT")
	v.BindEnv("webhook.max_retries", "WEBHOOK_MAX_RETRIES")
	v.BindEnv("webhook.retry_backoff_base", "WEBHOOK_RETRY_BACKOFF_BASE")
	v.BindEnv("webhook.signature_tolerance_seconds", "WEBHOOK_SIGNATURE_TOLERANCE_SECONDS")

	// Retention
	v.BindEnv("retention.default_days", "DEFAULT_RETENTION_DAYS")
	v.BindEnv("retention.max_days", "MAX_RETENTION_DAYS")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")

	// Telemetry
	v.BindEnv("telemetry.enabled", "OTEL_ENABLED")
	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	// Crawl defaults
	v.SetDefault("crawl.timeout_seconds", 30)
	v.SetDefault("crawl.max_concurrent", 5)
	v.SetDefault("crawl.rate_limit_per_domain", 10)
	v.SetDefault("crawl.retry_attempts", 3)
	v.SetDefault("crawl.retry_backoff_base", 60)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (compatible; ObsrvBot/1.0; +https://obsrv.example.com/bot)")

	// Webhook defaults
	v.SetDefault("webhook.timeout_seconds", 10)
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.retry_backoff_base", 300)
	v.SetDefault("webhook.signature_tolerance_seconds", 300)

	// Retention defaults
	v.SetDefault("retention.default_days", 90)
	v.SetDefault("retention.max_days", 365)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// GetDatabaseURL returns the database URL from config or environment
func GetDatabaseURL() string {
	if cfg := Get(); cfg != nil && cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	return os.Getenv("DATABASE_URL")
}

// IsProduction reports whether the service runs in the production environment.
// In production, webhook endpoint URLs must use https.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
