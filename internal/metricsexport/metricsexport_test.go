package metricsexport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/telemetry/internal/config"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func labelsOf(ts prompb.TimeSeries) map[string]string {
	out := make(map[string]string, len(ts.Labels))
	for _, l := range ts.Labels {
		out[l.Name] = l.Value
	}
	return out
}

func TestBuildSeriesExpandsHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ingested_total", Help: "x"}, []string{"counter_name"})
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "latency_seconds", Help: "x", Buckets: []float64{0.1, 1}})
	registry.MustRegister(counter, hist)
	counter.WithLabelValues("apples").Add(3)
	hist.Observe(0.5)

	families, err := registry.Gather()
	require.NoError(t, err)

	series := BuildSeries(families, 1000)
	byName := map[string][]prompb.TimeSeries{}
	for _, ts := range series {
		name := labelsOf(ts)["__name__"]
		byName[name] = append(byName[name], ts)
	}

	require.Len(t, byName["ingested_total"], 1)
	assert.Equal(t, "apples", labelsOf(byName["ingested_total"][0])["counter_name"])
	assert.Equal(t, float64(3), byName["ingested_total"][0].Samples[0].Value)
	assert.Equal(t, int64(1000), byName["ingested_total"][0].Samples[0].Timestamp)

	require.Len(t, byName["latency_seconds_bucket"], 3)
	bounds := map[string]float64{}
	for _, ts := range byName["latency_seconds_bucket"] {
		bounds[labelsOf(ts)["le"]] = ts.Samples[0].Value
	}
	assert.Equal(t, map[string]float64{"0.1": 0, "1": 1, "+Inf": 1}, bounds)
	require.Len(t, byName["latency_seconds_sum"], 1)
	assert.Equal(t, 0.5, byName["latency_seconds_sum"][0].Samples[0].Value)
	require.Len(t, byName["latency_seconds_count"], 1)
}

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	var (
		mu       sync.Mutex
		received prompb.WriteRequest
		headers  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		require.NoError(t, received.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "telemetry_resources", Help: "x"})
	registry.MustRegister(gauge)
	gauge.Set(7)

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(42) }
	require.NoError(t, pusher.Push(context.Background(), registry))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Len(t, received.Timeseries, 1)
	assert.Equal(t, float64(7), received.Timeseries[0].Samples[0].Value)
	assert.Equal(t, int64(42), received.Timeseries[0].Samples[0].Timestamp)
}

func TestRemoteWritePusherReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "g", Help: "x"})
	registry.MustRegister(gauge)

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPushgatewayPusherUsesJobAndGrouping(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "g", Help: "x"})
	registry.MustRegister(gauge)

	pusher := NewPushgatewayPusher(srv.URL, "telemetry", map[string]string{"environment": "test", "empty": ""})
	require.NoError(t, pusher.Push(context.Background(), registry))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/telemetry/environment/test", path)

	assert.Error(t, NewPushgatewayPusher(srv.URL, "", nil).Push(context.Background(), registry))
}

func TestNewPusherSelectsExporter(t *testing.T) {
	cfg := config.Config{AppName: "telemetry"}
	assert.Nil(t, NewPusher(cfg, nil))

	cfg.Export.Exporter = ExporterRemoteWrite
	assert.Nil(t, NewPusher(cfg, nil), "endpoint required")

	cfg.Export.Endpoint = "not a url"
	assert.Nil(t, NewPusher(cfg, nil))

	cfg.Export.Endpoint = "http://localhost:9090/api/v1/write"
	assert.IsType(t, &RemoteWritePusher{}, NewPusher(cfg, nil))

	cfg.Export.Exporter = ExporterPushgateway
	cfg.Export.Endpoint = "http://localhost:9091"
	assert.IsType(t, &PushgatewayPusher{}, NewPusher(cfg, nil))

	cfg.Export.Exporter = "statsd"
	assert.Nil(t, NewPusher(cfg, nil))
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&sampledomain.Sample{}, &resourcedomain.Resource{}, &resourcedomain.Meter{}))
	return conn
}

func TestInventoryRefreshCountsTables(t *testing.T) {
	conn := openDB(t)
	now := time.Now().UTC()
	require.NoError(t, conn.Create(&resourcedomain.Resource{
		ResourceID: "r1", ProjectID: "p", UserID: "u", Source: "openstack",
		FirstSampleTimestamp: now, LastSampleTimestamp: now, LastSampleID: 1,
	}).Error)
	require.NoError(t, conn.Create(&resourcedomain.Meter{
		ResourceID: "r1", CounterName: "apples", CounterType: "gauge", CounterUnit: "apple",
	}).Error)

	inv := NewInventory("telemetry")
	require.NoError(t, inv.Refresh(context.Background(), conn))
	assert.Equal(t, float64(1), testutil.ToFloat64(inv.resources))
	assert.Equal(t, float64(1), testutil.ToFloat64(inv.meters))
	assert.Equal(t, float64(0), testutil.ToFloat64(inv.samples))
}

type recordingPusher struct {
	mu    sync.Mutex
	calls int
}

func (p *recordingPusher) Push(_ context.Context, gatherer prometheus.Gatherer) error {
	if _, err := gatherer.Gather(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return nil
}

func TestWorkerPushesUntilCanceled(t *testing.T) {
	conn := openDB(t)
	inv := NewInventory("")
	pusher := &recordingPusher{}
	worker := NewWorker(pusher, inv, conn, inv.Registry(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx, time.Hour)
	}()

	require.Eventually(t, func() bool {
		pusher.mu.Lock()
		defer pusher.mu.Unlock()
		return pusher.calls == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
