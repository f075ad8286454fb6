package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Lightming99/RaSa-Metaconverse/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, ""},
		{"enabled defaults", func(c *Config) { c.Enabled = true }, ""},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, "endpoint is required"},
		{"missing service", func(c *Config) { c.Enabled = true; c.ServiceName = "" }, "service_name"},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, "unsupported protocol"},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, "loopback"},
		{"secure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "https://otel.example.com:4318"
			c.Protocol = ProtocolHTTP
			c.Insecure = false
		}, ""},
		{"insecure ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, ""},
		{"insecure 127/8", func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.2:4317" }, ""},
		{"rate above one", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, "sample_rate"},
		{"zero interval", func(c *Config) { c.Enabled = true; c.MetricInterval = 0 }, "metric_interval"},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.ShutdownAfter = config.Duration(0) }, "shutdown_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	h := tel.Health()
	assert.True(t, h.Healthy)
	assert.False(t, h.Degraded)
	assert.Nil(t, tel.LoggerProvider())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_Invalid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier-pigeon"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestNew_EnabledWithoutCollector(t *testing.T) {
	// exporters connect lazily, so construction succeeds with no collector
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:1"

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, tel.Health().Degraded)
	assert.NotNil(t, tel.LoggerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTestTelemetry(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("pipeline").Start(ctx, "pipeline.pass")
	span.SetAttributes(attribute.Int("processed", 2), attribute.String("trigger", "feedback"))
	span.End()

	counter, err := tel.Meter("pipeline").Int64Counter("learning.items")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	tel.AssertSpanExists(t, "pipeline.pass")
	tel.AssertSpanAttribute(t, "pipeline.pass", "processed", int64(2))
	tel.AssertSpanAttribute(t, "pipeline.pass", "trigger", "feedback")
	assert.Nil(t, tel.Span("pipeline.train"))

	rm, err := tel.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "learning.items", rm.ScopeMetrics[0].Metrics[0].Name)
}
