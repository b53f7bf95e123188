package main

import (
	"context"

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

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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
		task.Server,
		httpapi.Module,
		server.ProvideHTTPServer,
		tasks.WorkerModule,
		fx.Invoke(runWorker),
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

// runWorker runs the asynq server for the lifetime of the app. If it fails to
// start the whole app is shut down.
func runWorker(lc fx.Lifecycle, sd fx.Shutdowner, srv *asynq.Server, mux *asynq.ServeMux) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			g.Go(func() error {
				if err := task.Run(gctx, srv, mux); err != nil {
					_ = sd.Shutdown(fx.ExitCode(1))
					return err
				}
				return nil
			})
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return g.Wait()
		},
	})
}
