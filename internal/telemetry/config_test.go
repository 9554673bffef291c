package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/refacta/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "refacta", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.TelemetryConfig{
		Enabled:        true,
		Endpoint:       "otel.internal:4318",
		Protocol:       "http/protobuf",
		SampleRate:     0.25,
		MetricsEnabled: false,
	}, "v1.4.0")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "otel.internal:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, 0.25, cfg.Sampling.Rate)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "v1.4.0", cfg.ServiceVersion)
	assert.Equal(t, "refacta", cfg.ServiceName)
	require.NoError(t, cfg.Validate())

	kept := FromConfig(config.TelemetryConfig{SampleRate: 1}, "")
	assert.Equal(t, "localhost:4317", kept.Endpoint)
	assert.Equal(t, "0.1.0", kept.ServiceVersion)
}

func TestConfig_Validate(t *testing.T) {
	valid := func(mut func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mut(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{"valid default config", NewDefaultConfig(), ""},
		{"disabled config skips validation", &Config{}, ""},
		{"missing endpoint", valid(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"missing service name", valid(func(c *Config) { c.ServiceName = "" }), "service_name is required"},
		{"missing service version", valid(func(c *Config) { c.ServiceVersion = "" }), "service_version is required"},
		{"unknown protocol", valid(func(c *Config) { c.Protocol = "thrift" }), "protocol must be grpc or http/protobuf"},
		{"sampling rate too low", valid(func(c *Config) { c.Sampling.Rate = -0.1 }), "sampling.rate must be between 0 and 1"},
		{"sampling rate too high", valid(func(c *Config) { c.Sampling.Rate = 1.1 }), "sampling.rate must be between 0 and 1"},
		{"invalid metrics export interval", valid(func(c *Config) { c.Metrics.ExportInterval = 0 }), "metrics.export_interval must be positive"},
		{"metrics disabled ignores interval", valid(func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.ExportInterval = 0
		}), ""},
		{"invalid shutdown timeout", valid(func(c *Config) { c.Shutdown.Timeout = config.Duration(0) }), "shutdown.timeout must be positive"},
		{"remote endpoint with TLS", valid(func(c *Config) {
			c.Endpoint = "collector.prod:4317"
			c.Insecure = false
		}), ""},
		{"insecure not allowed for remote endpoint", valid(func(c *Config) { c.Endpoint = "collector.prod:4317" }),
			"insecure connections to remote endpoints are not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		isLocal  bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.0.1.1:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"collector.prod:4317", false},
		{"192.168.1.1:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.isLocal, cfg.isLocalEndpoint())
		})
	}
}
