package metricsexport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/telemetry/internal/config"
	obstracing "github.com/smallbiznis/telemetry/internal/observability/tracing"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	ExporterRemoteWrite = "prometheus_remote_write"
	ExporterPushgateway = "prometheus_pushgateway"

	defaultPushTimeout = 5 * time.Second
)

// Pusher ships one snapshot of the gathered metric families.
type Pusher interface {
	Push(ctx context.Context, gatherer prometheus.Gatherer) error
}

// NewPusher returns nil when export is not configured or the configuration is unusable.
func NewPusher(cfg config.Config, log *zap.Logger) Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("metricsexport")

	exporter := cfg.Export.Exporter
	endpoint := cfg.Export.Endpoint
	if exporter == "" {
		return nil
	}
	if endpoint == "" {
		log.Warn("metrics export disabled", zap.String("exporter", exporter), zap.Error(errors.New("endpoint is required")))
		return nil
	}

	switch exporter {
	case ExporterRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			log.Warn("metrics export disabled", zap.Error(fmt.Errorf("invalid endpoint: %w", err)))
			return nil
		}
		return NewRemoteWritePusher(endpoint, cfg.Export.AuthToken)
	case ExporterPushgateway:
		return NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
			"node":        strconv.FormatInt(cfg.NodeID, 10),
		})
	default:
		log.Warn("metrics export disabled", zap.String("exporter", exporter))
		return nil
	}
}

// RemoteWritePusher sends snapshots to a Prometheus remote_write receiver.
type RemoteWritePusher struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	now        func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string) *RemoteWritePusher {
	return &RemoteWritePusher{
		endpoint:  endpoint,
		authToken: strings.TrimSpace(authToken),
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: defaultPushTimeout,
		}),
		now: time.Now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}

	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	series := BuildSeries(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	payload, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

// PushgatewayPusher replaces the job's group on a Prometheus Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: strings.TrimSpace(endpoint),
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

func (p *PushgatewayPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	if p.endpoint == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(gatherer)
	for key, value := range p.grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}

// BuildSeries flattens metric families into remote_write series. Histograms are
// expanded into _bucket, _sum and _count series the way a scrape would expose them.
func BuildSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	series := make([]prompb.TimeSeries, 0, len(families))
	for _, family := range families {
		name := family.GetName()
		for _, metric := range family.GetMetric() {
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				if metric.GetCounter() != nil {
					series = append(series, newSeries(name, metric, nil, metric.GetCounter().GetValue(), timestampMs))
				}
			case dto.MetricType_GAUGE:
				if metric.GetGauge() != nil {
					series = append(series, newSeries(name, metric, nil, metric.GetGauge().GetValue(), timestampMs))
				}
			case dto.MetricType_UNTYPED:
				if metric.GetUntyped() != nil {
					series = append(series, newSeries(name, metric, nil, metric.GetUntyped().GetValue(), timestampMs))
				}
			case dto.MetricType_HISTOGRAM:
				series = append(series, histogramSeries(name, metric, timestampMs)...)
			}
		}
	}
	return series
}

func histogramSeries(name string, metric *dto.Metric, timestampMs int64) []prompb.TimeSeries {
	h := metric.GetHistogram()
	if h == nil {
		return nil
	}
	out := make([]prompb.TimeSeries, 0, len(h.GetBucket())+3)
	for _, bucket := range h.GetBucket() {
		le := prompb.Label{Name: "le", Value: formatBound(bucket.GetUpperBound())}
		out = append(out, newSeries(name+"_bucket", metric, &le, float64(bucket.GetCumulativeCount()), timestampMs))
	}
	inf := prompb.Label{Name: "le", Value: "+Inf"}
	out = append(out,
		newSeries(name+"_bucket", metric, &inf, float64(h.GetSampleCount()), timestampMs),
		newSeries(name+"_sum", metric, nil, h.GetSampleSum(), timestampMs),
		newSeries(name+"_count", metric, nil, float64(h.GetSampleCount()), timestampMs),
	)
	return out
}

func newSeries(name string, metric *dto.Metric, extra *prompb.Label, value float64, timestampMs int64) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(metric.GetLabel())+2)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	for _, label := range metric.GetLabel() {
		labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
	}
	if extra != nil {
		labels = append(labels, *extra)
	}
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].Name < labels[j].Name
	})
	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
	}
}

func formatBound(v float64) string {
	if math.IsInf(v, +1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
