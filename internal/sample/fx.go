package sample

import (
	"github.com/smallbiznis/telemetry/internal/sample/liveevents"
	"github.com/smallbiznis/telemetry/internal/sample/repository"
	"github.com/smallbiznis/telemetry/internal/sample/service"
	"github.com/smallbiznis/telemetry/internal/sample/validator"
	"go.uber.org/fx"
)

var Module = fx.Module("sample",
	fx.Provide(validator.New),
	fx.Provide(repository.Provide),
	fx.Provide(liveevents.NewHub),
	fx.Provide(service.NewService),
)
