package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds process-level configuration for the bridge binary. Routing
// and middleware specifics live in the bridge configuration file; the
// environment only controls where that file is and how the process runs.
type Config struct {
	// BridgeConfig is the path of the bridge configuration file.
	BridgeConfig string

	// Ops server (separate port for k8s probes and metrics scraping)
	HealthHost string
	HealthPort string

	SpinInterval    time.Duration
	ShutdownTimeout time.Duration

	LogLevel  logrus.Level
	LogFormat string // "text" or "json"

	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		BridgeConfig:    getEnv("CROSSBUS_CONFIG", "crossbus.yaml"),
		HealthHost:      getEnv("CROSSBUS_HEALTH_HOST", "0.0.0.0"),
		HealthPort:      getEnv("CROSSBUS_HEALTH_PORT", "9090"),
		SpinInterval:    getEnvDuration("CROSSBUS_SPIN_INTERVAL", time.Millisecond),
		ShutdownTimeout: getEnvDuration("CROSSBUS_SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        parseLogLevel(getEnv("CROSSBUS_LOG_LEVEL", "info")),
		LogFormat:       getEnv("CROSSBUS_LOG_FORMAT", "text"),
		MetricsEnabled:  getEnvBool("CROSSBUS_METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BridgeConfig == "" {
		return fmt.Errorf("bridge configuration path is required")
	}
	if c.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.SpinInterval <= 0 {
		return fmt.Errorf("spin interval must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger from the configured level and format.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
