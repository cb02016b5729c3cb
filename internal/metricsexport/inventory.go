package metricsexport

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"gorm.io/gorm"
)

// Inventory tracks table cardinalities that only make sense as pushed gauges.
type Inventory struct {
	registry  *prometheus.Registry
	resources prometheus.Gauge
	meters    prometheus.Gauge
	samples   prometheus.Gauge
}

func NewInventory(service string) *Inventory {
	constLabels := prometheus.Labels{}
	if service != "" {
		constLabels["service"] = service
	}
	inv := &Inventory{
		registry: prometheus.NewRegistry(),
		resources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "telemetry_resources",
			Help:        "Resources materialized from accepted samples.",
			ConstLabels: constLabels,
		}),
		meters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "telemetry_resource_meters",
			Help:        "Distinct (resource, meter) pairs.",
			ConstLabels: constLabels,
		}),
		samples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "telemetry_samples_stored",
			Help:        "Samples held in the sample log.",
			ConstLabels: constLabels,
		}),
	}
	inv.registry.MustRegister(inv.resources, inv.meters, inv.samples)
	return inv
}

func (i *Inventory) Registry() *prometheus.Registry {
	if i == nil {
		return nil
	}
	return i.registry
}

// Refresh recounts the tables. A failed count leaves the previous value in place.
func (i *Inventory) Refresh(ctx context.Context, db *gorm.DB) error {
	if i == nil || db == nil {
		return nil
	}
	counts := []struct {
		model any
		gauge prometheus.Gauge
	}{
		{&resourcedomain.Resource{}, i.resources},
		{&resourcedomain.Meter{}, i.meters},
		{&sampledomain.Sample{}, i.samples},
	}
	for _, c := range counts {
		var n int64
		if err := db.WithContext(ctx).Model(c.model).Count(&n).Error; err != nil {
			return err
		}
		c.gauge.Set(float64(n))
	}
	return nil
}
