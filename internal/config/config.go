package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"msgbox/internal/store"
)

const (
	DefaultDatabaseURL     = "sqlite:///./msgbox.db"
	DefaultLogLevel        = "INFO"
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
	DefaultShutdownTimeout = 30 * time.Second

	// ConfigFileName is looked up in the default search paths
	ConfigFileName = "msgbox.yaml"
)

// ErrMissingSecret is returned when no webhook secret is configured
var ErrMissingSecret = errors.New("WEBHOOK_SECRET must be set and non-empty")

// EnvFile is the dotenv file loaded before reading the environment
var EnvFile = ".env"

// Config holds all configuration for the service
type Config struct {
	DatabaseURL      string        `yaml:"database_url"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	LogLevel         string        `yaml:"log_level"`
	LogFile          string        `yaml:"log_file"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	WebhookRateLimit int           `yaml:"webhook_rate_limit"` // requests per minute per client, 0 disables
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		DatabaseURL:     DefaultDatabaseURL,
		LogLevel:        DefaultLogLevel,
		Host:            DefaultHost,
		Port:            DefaultPort,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// configPath, the dotenv file and the process environment, in that order.
// The result is not validated.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	// Existing environment variables take precedence over the dotenv file
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", EnvFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("DATABASE_URL", &c.DatabaseURL)
	setString("WEBHOOK_SECRET", &c.WebhookSecret)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_FILE", &c.LogFile)
	setString("HOST", &c.Host)

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}

	if v := os.Getenv("WEBHOOK_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBHOOK_RATE_LIMIT %q: %w", v, err)
		}
		c.WebhookRateLimit = limit
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		c.ShutdownTimeout = d
	}

	return nil
}

// Validate checks the configuration and returns all problems found.
// A missing secret matches ErrMissingSecret with errors.Is.
func (c *Config) Validate() error {
	var errs []error

	if c.WebhookSecret == "" {
		errs = append(errs, ErrMissingSecret)
	}

	if _, _, err := store.ParseURL(c.DatabaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid DATABASE_URL: %w", err))
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}

	if c.WebhookRateLimit < 0 {
		errs = append(errs, fmt.Errorf("webhook rate limit cannot be negative, got %d", c.WebhookRateLimit))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParseLevel maps a log level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (use DEBUG, INFO, WARNING or ERROR)", level)
	}
}

// DefaultConfigPaths returns the config file search order:
// ./msgbox.yaml, ./config/msgbox.yaml, /etc/msgbox/msgbox.yaml
func DefaultConfigPaths() []string {
	return []string{
		filepath.Join(".", ConfigFileName),
		filepath.Join(".", "config", ConfigFileName),
		filepath.Join("/etc/msgbox", ConfigFileName),
	}
}

// FindConfigFile returns the first existing default config path, or "" if none exists
func FindConfigFile() string {
	for _, path := range DefaultConfigPaths() {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
