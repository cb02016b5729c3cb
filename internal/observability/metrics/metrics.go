package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	samplesIngested  metric.Int64Counter
	batchesRejected  metric.Int64Counter
	resourcesApplied metric.Int64Counter
	ingestDuration   metric.Float64Histogram
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	publishFailures  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "telemetry"
	}
	meter := provider.Meter(name)

	samplesIngested, err := meter.Int64Counter("telemetry_samples_ingested_total")
	if err != nil {
		return nil, err
	}
	batchesRejected, err := meter.Int64Counter("telemetry_batches_rejected_total")
	if err != nil {
		return nil, err
	}
	resourcesApplied, err := meter.Int64Counter("telemetry_resources_applied_total")
	if err != nil {
		return nil, err
	}
	ingestDuration, err := meter.Float64Histogram("telemetry_ingest_duration_seconds",
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("telemetry_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("telemetry_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	publishFailures, err := meter.Int64Counter("telemetry_publish_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		samplesIngested:  samplesIngested,
		batchesRejected:  batchesRejected,
		resourcesApplied: resourcesApplied,
		ingestDuration:   ingestDuration,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
		publishFailures:  publishFailures,
	}, nil
}

// RecordIngest records an accepted batch for a counter.
func (m *Metrics) RecordIngest(ctx context.Context, counterName string, samples, resources int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("counter_name", strings.TrimSpace(counterName)))...)
	m.samplesIngested.Add(ctx, int64(samples), attrs)
	m.resourcesApplied.Add(ctx, int64(resources), attrs)
	m.ingestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRejected increments rejected batch counts.
func (m *Metrics) RecordRejected(ctx context.Context, counterName, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("counter_name", strings.TrimSpace(counterName)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.batchesRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPublishFailure increments failed fan-out publishes.
func (m *Metrics) RecordPublishFailure(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("sink", strings.TrimSpace(sink)))
	m.publishFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, projectID, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("project_id", strings.TrimSpace(projectID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, projectID, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("project_id", strings.TrimSpace(projectID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"project_id":   {},
	"endpoint":     {},
	"status_code":  {},
	"counter_name": {},
	"sink":         {},
	"reason":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
