package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/telemetry/internal/cache"
	"github.com/smallbiznis/telemetry/internal/clock"
	"github.com/smallbiznis/telemetry/internal/config"
	"github.com/smallbiznis/telemetry/internal/keylock"
	"github.com/smallbiznis/telemetry/internal/metricsexport"
	"github.com/smallbiznis/telemetry/internal/migration"
	"github.com/smallbiznis/telemetry/internal/observability"
	"github.com/smallbiznis/telemetry/internal/publisher"
	"github.com/smallbiznis/telemetry/internal/ratelimit"
	"github.com/smallbiznis/telemetry/internal/resource"
	"github.com/smallbiznis/telemetry/internal/sample"
	"github.com/smallbiznis/telemetry/internal/server"
	"github.com/smallbiznis/telemetry/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,
		cache.Module,
		keylock.Module,
		ratelimit.Module,
		publisher.Module,

		// Functional Domains
		resource.Module,
		sample.Module,
		metricsexport.Module,

		server.Module,
	)
	app.Run()
}

// RegisterSnowflake seeds sample ids; every replica needs its own NODE_ID.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
