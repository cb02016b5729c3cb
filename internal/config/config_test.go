package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadObservabilityFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "")
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "")

	obs := Load().Observability
	assert.Equal(t, "debug", obs.LogLevel)
	assert.Equal(t, "json", obs.LogFormat)
	assert.True(t, obs.OtelEnabled)
	assert.Equal(t, "collector:4317", obs.OtelEndpoint)
	assert.Equal(t, "http", obs.OtelProtocol)
	assert.Equal(t, 0.1, obs.OtelSamplingRatio)
}

func TestLoadPrefersTracesProtocol(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "http/protobuf")

	assert.Equal(t, "http/protobuf", Load().Observability.OtelProtocol)
}

func TestLoadNormalizesLockBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOCK_BACKEND", "Redis")
	assert.Equal(t, LockBackendRedis, Load().Lock.Backend)

	t.Setenv("LOCK_BACKEND", "etcd")
	assert.Equal(t, LockBackendMemory, Load().Lock.Backend)
}
