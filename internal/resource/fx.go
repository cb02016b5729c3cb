package resource

import (
	"github.com/smallbiznis/telemetry/internal/resource/aggregator"
	"github.com/smallbiznis/telemetry/internal/resource/repository"
	"github.com/smallbiznis/telemetry/internal/resource/service"
	"go.uber.org/fx"
)

var Module = fx.Module("resource",
	fx.Provide(repository.Provide),
	fx.Provide(aggregator.New),
	fx.Provide(service.New),
)
