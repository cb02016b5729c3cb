package metricsexport

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/telemetry/internal/config"
	"github.com/smallbiznis/telemetry/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minInterval = 10 * time.Second

var Module = fx.Module("metrics.export",
	fx.Provide(func(cfg config.Config) *Inventory {
		return NewInventory(cfg.AppName)
	}),
	fx.Provide(NewPusher),
	fx.Invoke(register),
)

type registerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Inventory *Inventory
	HTTP      *metrics.HTTPMetrics
	Pusher    Pusher `optional:"true"`
}

func register(p registerParams) {
	if p.Pusher == nil {
		return
	}
	log := p.Log.Named("metricsexport")
	gatherer := prometheus.Gatherers{p.HTTP.Gatherer(), p.Inventory.Registry()}
	worker := NewWorker(p.Pusher, p.Inventory, p.DB, gatherer, log)

	interval := p.Config.Export.Interval
	if interval < minInterval {
		interval = minInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics export", zap.String("exporter", p.Config.Export.Exporter), zap.Duration("interval", interval))
			go func() {
				defer close(done)
				worker.Run(ctx, interval)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
