package publisher

import (
	"context"

	"github.com/smallbiznis/telemetry/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("publisher",
	fx.Provide(New),
)

// New dials the broker when AMQP_URL is set and falls back to Noop otherwise.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if cfg.AMQP.URL == "" {
		return Noop{}, nil
	}
	pub, err := DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	log.Info("publishing samples to amqp", zap.String("exchange", cfg.AMQP.Exchange))
	return pub, nil
}
