package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Lightming99/RaSa-Metaconverse/internal/config"
)

// Protocols accepted by Config.Protocol.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds the "telemetry" section.
type Config struct {
	Enabled        bool            `koanf:"enabled"`
	Endpoint       string          `koanf:"endpoint"`
	Protocol       string          `koanf:"protocol"`
	Insecure       bool            `koanf:"insecure"`
	TLSSkipVerify  bool            `koanf:"tls_skip_verify"`
	ServiceName    string          `koanf:"service_name"`
	ServiceVersion string          `koanf:"service_version"`
	SampleRate     float64         `koanf:"sample_rate"`
	MetricInterval config.Duration `koanf:"metric_interval"`
	ShutdownAfter  config.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns a disabled configuration pointing at a local
// collector. Set TELEMETRY_ENABLED=true to export.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		Insecure:       true,
		ServiceName:    "metaconverse-learnd",
		ServiceVersion: "0.1.0",
		SampleRate:     1,
		MetricInterval: config.Duration(15 * time.Second),
		ShutdownAfter:  config.Duration(5 * time.Second),
	}
}

// Validate checks an enabled configuration. Disabled configurations are
// always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	case c.ServiceName == "":
		return fmt.Errorf("service_name is required when telemetry is enabled")
	case c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP:
		return fmt.Errorf("unsupported protocol %q (expected %s or %s)", c.Protocol, ProtocolGRPC, ProtocolHTTP)
	case c.Insecure && !isLoopback(c.Endpoint):
		return fmt.Errorf("insecure export is only allowed to a loopback endpoint, got %q", c.Endpoint)
	case c.SampleRate < 0 || c.SampleRate > 1:
		return fmt.Errorf("sample_rate must be between 0 and 1, got %v", c.SampleRate)
	case c.MetricInterval.Duration() <= 0:
		return fmt.Errorf("metric_interval must be positive")
	case c.ShutdownAfter.Duration() <= 0:
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// hostPort strips an http(s) scheme; OTLP exporters take host:port.
func hostPort(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}

func isLoopback(endpoint string) bool {
	host := hostPort(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
