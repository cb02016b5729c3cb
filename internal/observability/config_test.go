package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/telemetry/internal/config"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func appConfig() config.Config {
	return config.Config{
		AppName:       " ",
		AppVersion:    "1.2.3",
		Environment:   "production",
		NodeID:        4,
		DefaultSource: "openstack",
		Lock:          config.LockConfig{Backend: config.LockBackendRedis, Wait: 2 * time.Second},
		Observability: config.ObservabilityConfig{LogLevel: "info", OtelProtocol: "http"},
	}
}

func TestNewConfigCarriesNodeSettings(t *testing.T) {
	cfg := NewConfig(appConfig(), config.NewStaticIngestPolicy(config.DefaultIngestPolicy()))

	assert.Equal(t, "telemetry", cfg.ServiceName)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, config.LockBackendRedis, cfg.LockBackend)
	assert.Equal(t, "request", cfg.LinkBase())
	assert.Empty(t, cfg.IngestPolicyFile)
	assert.False(t, cfg.Debug())
}

func TestResourceAttributesIdentifyNode(t *testing.T) {
	app := appConfig()
	app.PublicURL = "https://metering.example.com"
	cfg := NewConfig(app, nil)

	attrs := map[attribute.Key]string{}
	for _, kv := range cfg.ResourceAttributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "4", attrs["service.instance.id"])
	assert.Equal(t, "redis", attrs["telemetry.lock_backend"])
	assert.Equal(t, "https://metering.example.com", attrs["telemetry.link_base"])
	assert.Len(t, tracingConfig(cfg).Attributes, 3)
}

func TestAnnounceLogsNodeSetup(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := NewConfig(appConfig(), nil)

	announce(nil, cfg, zap.New(core))

	entries := logs.FilterMessage("telemetry node configured").All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "redis", fields["lock_backend"])
	assert.Equal(t, "defaults", fields["ingest_policy"])
	assert.Equal(t, int64(4), fields["node_id"])
}

func TestDebugInDevelopment(t *testing.T) {
	assert.True(t, Config{Environment: "local"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "debug"}.Debug())
}
