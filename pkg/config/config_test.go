package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue string
		want         string
	}{
		{name: "set", key: "CROSSBUS_TEST_STR", value: "hello", defaultValue: "fallback", want: "hello"},
		{name: "unset", key: "CROSSBUS_TEST_STR_UNSET", defaultValue: "fallback", want: "fallback"},
		{name: "empty uses default", key: "CROSSBUS_TEST_STR_EMPTY", value: "", defaultValue: "fallback", want: "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{name: "true", value: "true", want: true},
		{name: "TRUE", value: "TRUE", want: true},
		{name: "one", value: "1", want: true},
		{name: "false", value: "false", defaultValue: true, want: false},
		{name: "garbage", value: "banana", defaultValue: true, want: false},
		{name: "unset keeps default", value: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "CROSSBUS_TEST_BOOL"
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}
			assert.Equal(t, tt.want, getEnvBool(key, tt.defaultValue))
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CROSSBUS_TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("CROSSBUS_TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("CROSSBUS_TEST_INT_UNSET", 7))

	t.Setenv("CROSSBUS_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, getEnvInt("CROSSBUS_TEST_INT_BAD", 7))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("CROSSBUS_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("CROSSBUS_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("CROSSBUS_TEST_DUR_UNSET", time.Second))

	t.Setenv("CROSSBUS_TEST_DUR_BAD", "soon")
	assert.Equal(t, time.Second, getEnvDuration("CROSSBUS_TEST_DUR_BAD", time.Second))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, logrus.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, logrus.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, parseLogLevel("ERROR"))
	assert.Equal(t, logrus.InfoLevel, parseLogLevel("mystery"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "crossbus.yaml", cfg.BridgeConfig)
	assert.Equal(t, "9090", cfg.HealthPort)
	assert.Equal(t, time.Millisecond, cfg.SpinInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("CROSSBUS_CONFIG", "/etc/crossbus/bridge.yaml")
	t.Setenv("CROSSBUS_HEALTH_PORT", "9999")
	t.Setenv("CROSSBUS_SPIN_INTERVAL", "5ms")
	t.Setenv("CROSSBUS_LOG_LEVEL", "debug")
	t.Setenv("CROSSBUS_LOG_FORMAT", "json")
	t.Setenv("CROSSBUS_METRICS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/etc/crossbus/bridge.yaml", cfg.BridgeConfig)
	assert.Equal(t, "9999", cfg.HealthPort)
	assert.Equal(t, 5*time.Millisecond, cfg.SpinInterval)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("CROSSBUS_LOG_FORMAT", "xml")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: logrus.DebugLevel, LogFormat: "json"}
	log := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			BridgeConfig: "crossbus.yaml",
			HealthPort:   "9090",
			SpinInterval: time.Millisecond,
			LogFormat:    "text",
		}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.BridgeConfig = ""
	assert.Error(t, c.Validate())

	c = base()
	c.HealthPort = ""
	assert.Error(t, c.Validate())

	c = base()
	c.SpinInterval = 0
	assert.Error(t, c.Validate())
}
