package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for all services
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// UpstreamConfig describes the management API that serves revision bundles.
// Org is the only organization whose events are processed.
type UpstreamConfig struct {
	Org     string        `yaml:"org"`
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"` // static bearer token; empty means application default credentials
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Type        string `yaml:"type"` // local, gcs
	Bucket      string `yaml:"bucket"`
	LocalPath   string `yaml:"local_path"`
	Concurrency int    `yaml:"concurrency"` // max in-flight writes or moves per operation
}

// DatabaseConfig holds delivery ledger connection settings
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Driver   string `yaml:"driver"` // postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
}

// WebhookConfig holds settings for the delivery endpoint
type WebhookConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // empty disables bearer validation
	Audience  string `yaml:"audience"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Upstream: UpstreamConfig{
			Org:     getEnv("APIGEE_ORG", ""),
			BaseURL: getEnv("APIGEE_BASE_URL", "https://apigee.googleapis.com"),
			Token:   getEnv("APIGEE_TOKEN", ""),
			Timeout: getEnvDuration("APIGEE_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Type:        getEnv("STORAGE_TYPE", "gcs"),
			Bucket:      getEnv("BUCKET", ""),
			LocalPath:   getEnv("STORAGE_LOCAL_PATH", "./bundles"),
			Concurrency: getEnvInt("STORAGE_CONCURRENCY", 16),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("LEDGER_ENABLED", false),
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "revvault"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "revvault"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "revvault.db"),
		},
		Webhook: WebhookConfig{
			JWTSecret: getEnv("WEBHOOK_JWT_SECRET", ""),
			Audience:  getEnv("WEBHOOK_AUDIENCE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// LoadFile loads environment defaults and overlays the YAML document at path.
// Keys missing from the document keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := LoadFromEnv()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings every entry point depends on
func (c *Config) Validate() error {
	var errs []error
	if c.Upstream.Org == "" {
		errs = append(errs, errors.New("upstream org is required (APIGEE_ORG)"))
	}
	switch c.Storage.Type {
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage bucket is required for gcs (BUCKET)"))
		}
	case "local":
		if c.Storage.LocalPath == "" {
			errs = append(errs, errors.New("storage local path is required for local storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage type: %s", c.Storage.Type))
	}
	if c.Storage.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("storage concurrency must be positive, got %d", c.Storage.Concurrency))
	}
	return errors.Join(errs...)
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SetupLogging configures the global zerolog logger
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.Format == "console" || l.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
