package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/roteiro/internal/clock"
	"github.com/smallbiznis/roteiro/internal/config"
	"github.com/smallbiznis/roteiro/internal/migration"
	"github.com/smallbiznis/roteiro/internal/observability"
	"github.com/smallbiznis/roteiro/internal/scheduler"
	"github.com/smallbiznis/roteiro/internal/server"
	"github.com/smallbiznis/roteiro/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Ledger, webhooks, checkout and operator routes
		server.Module,

		// Background reconciliation and ledger gauges
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
