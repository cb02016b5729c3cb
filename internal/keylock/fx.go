package keylock

import (
	"errors"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/telemetry/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("keylock",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
}

func New(p Params) (Locker, error) {
	switch p.Config.Lock.Backend {
	case config.LockBackendRedis:
		if p.Redis == nil {
			return nil, errors.New("redis lock backend requires REDIS_ADDR")
		}
		p.Log.Info("using redis resource locks")
		return NewRedis(p.Redis, p.Config.Lock.TTL, p.Log)
	default:
		return NewMemory(defaultStripes), nil
	}
}
