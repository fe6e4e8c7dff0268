package observability

import (
	"testing"

	"github.com/smallbiznis/roteiro/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "")

	cfg := LoadConfig(config.Config{Environment: "production", AppVersion: "1.2.3"})
	assert.Equal(t, "roteiro", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
	assert.Equal(t, "1.2.3", cfg.Version)
}

func TestLoadConfigTracesProtocolOverride(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP/protobuf")
	cfg := LoadConfig(config.Config{AppName: "svc", Environment: "local"})
	assert.Equal(t, "http/protobuf", cfg.OtelExporterProtocol)
	assert.True(t, cfg.Debug())
}
