package task

import (
	"context"

	"task-execution-service/pkg/config"
	"task-execution-service/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

// registerClient shares the process-wide redis handle with asynq. The client
// is not closed on stop: the connection belongs to pkg/redis.
func registerClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClientFromRedisClient(rdb)
}

var Server = fx.Module("asynq:server",
	fx.Provide(registerServerMux, registerAsynqServer),
)

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

func registerAsynqServer(cfg *config.Config) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.OpTimeout,
			ReadTimeout:  cfg.Redis.OpTimeout,
			WriteTimeout: cfg.Redis.OpTimeout,
		},
		asynq.Config{
			Concurrency:    cfg.Worker.Concurrency,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues: map[string]int{
				taskname.QueueTasks:     6,
				taskname.QueueCallbacks: 4,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				zap.L().Error("asynq task failed", zap.String("task_type", task.Type()), zap.Error(err))
			}),
		},
	)
}

// Run starts the asynq server and blocks until ctx is done, then shuts the
// server down and waits for in-flight handlers.
func Run(ctx context.Context, server *asynq.Server, mux *asynq.ServeMux) error {
	if err := server.Start(mux); err != nil {
		zap.L().Error("[Asynq] Failed to start Asynq server", zap.Error(err))
		return err
	}
	zap.L().Info("[Asynq] Asynq server started")

	<-ctx.Done()

	zap.L().Info("[Asynq] Shutting down Asynq server...")
	server.Shutdown()
	return nil
}
