package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"convtrack/pkg/config"
	"convtrack/pkg/db"
	"convtrack/pkg/health"
	"convtrack/pkg/logger"
	"convtrack/pkg/postback"
	"convtrack/pkg/redis"
	"convtrack/pkg/server"
	"convtrack/pkg/task"
	"convtrack/services/conversion"
	"convtrack/services/registry"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		fx.Provide(
			provideSnowflakeNode,
		),
		postback.Module,
		health.Module,
		registry.Module,
		conversion.Module,
		server.Module,
		fx.Invoke(db.Otel, db.Metric),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
