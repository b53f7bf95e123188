package main

import (
	"task-execution-service/pkg/config"
	"task-execution-service/pkg/health"
	"task-execution-service/pkg/httpapi"
	"task-execution-service/pkg/logger"
	"task-execution-service/pkg/metrics"
	"task-execution-service/pkg/otelcol"
	"task-execution-service/pkg/profiling"
	"task-execution-service/pkg/redis"
	"task-execution-service/pkg/server"
	"task-execution-service/pkg/task"
	"task-execution-service/services/tasks"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		metrics.Module,
		redis.Module,
		health.Module,
		task.Client,
		httpapi.Module,
		server.ProvideHTTPServer,
		tasks.APIModule,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
