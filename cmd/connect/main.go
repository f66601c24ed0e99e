package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/czue/commcare-connect/internal/httpapi"
	"github.com/czue/commcare-connect/pkg/config"
	"github.com/czue/commcare-connect/pkg/db"
	"github.com/czue/commcare-connect/pkg/logger"
	"github.com/czue/commcare-connect/pkg/redis"
	"github.com/czue/commcare-connect/pkg/server"
	"github.com/czue/commcare-connect/pkg/task"
	"github.com/czue/commcare-connect/services/imports"
	"github.com/czue/commcare-connect/services/notify"
	"github.com/czue/commcare-connect/services/opportunity"
	"github.com/czue/commcare-connect/services/receiver"
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
			provideTracerProvider,
			provideMeterProvider,
			provideSnowflakeNode,
		),
		opportunity.Module,
		opportunity.TaskModule,
		receiver.Module,
		imports.Module,
		notify.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
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

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
