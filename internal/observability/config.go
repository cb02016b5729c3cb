package observability

import (
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/telemetry/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Config is the observability view of one telemetry node: who it is and how it
// serializes writes, stamped on every span resource and on the startup log line.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	NodeID      int64

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	LockBackend   string
	LockWait      time.Duration
	PublicURL     string
	DefaultSource string
	// IngestPolicyFile is empty when the built-in ingest limits apply.
	IngestPolicyFile string
}

func NewConfig(cfg config.Config, policy *config.IngestPolicyHolder) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "telemetry"
	}
	obs := cfg.Observability
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		NodeID:               cfg.NodeID,
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: obs.OtelEndpoint,
		OtelExporterProtocol: obs.OtelProtocol,
		OtelSamplingRatio:    obs.OtelSamplingRatio,
		LockBackend:          cfg.Lock.Backend,
		LockWait:             cfg.Lock.Wait,
		PublicURL:            cfg.PublicURL,
		DefaultSource:        cfg.DefaultSource,
		IngestPolicyFile:     policy.Source(),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// LinkBase reports where resource links point. Without PUBLIC_URL links follow
// the host of each request.
func (c Config) LinkBase() string {
	if c.PublicURL == "" {
		return "request"
	}
	return c.PublicURL
}

func (c Config) ingestPolicy() string {
	if c.IngestPolicyFile == "" {
		return "defaults"
	}
	return c.IngestPolicyFile
}

// ResourceAttributes identify the node on exported spans.
func (c Config) ResourceAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.instance.id", strconv.FormatInt(c.NodeID, 10)),
		attribute.String("telemetry.lock_backend", c.LockBackend),
		attribute.String("telemetry.link_base", c.LinkBase()),
	}
}

func (c Config) startupFields() []zap.Field {
	return []zap.Field{
		zap.Int64("node_id", c.NodeID),
		zap.String("lock_backend", c.LockBackend),
		zap.Duration("lock_wait", c.LockWait),
		zap.String("link_base", c.LinkBase()),
		zap.String("default_source", c.DefaultSource),
		zap.String("ingest_policy", c.ingestPolicy()),
		zap.Bool("tracing", c.OtelEnabled),
	}
}
