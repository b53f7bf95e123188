package tasks

import (
	"task-execution-service/pkg/config"
	"task-execution-service/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var storeModule = fx.Provide(
	fx.Annotate(NewRedisStore, fx.As(new(StatusStore))),
)

// APIModule serves task creation and status over HTTP.
var APIModule = fx.Module("tasks.api",
	storeModule,
	fx.Provide(
		fx.Annotate(NewAsynqDispatcher, fx.As(new(Dispatcher))),
		NewManager,
		NewHandler,
	),
	fx.Invoke(registerRoutes),
)

// WorkerModule executes dispatched tasks and delivers their callbacks.
var WorkerModule = fx.Module("tasks.worker",
	storeModule,
	fx.Provide(
		provideStateMachine,
		fx.Annotate(NewSimulatedWork, fx.As(new(Work))),
		NewDeliverer,
		fx.Annotate(NewAsynqCallbackScheduler, fx.As(new(CallbackScheduler))),
		NewExecutor,
	),
	fx.Invoke(registerHandlers),
)

func provideStateMachine(store StatusStore, cfg *config.Config) *StateMachine {
	return NewStateMachine(store, cfg.Redis.OpTimeout)
}

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}

func registerHandlers(mux *asynq.ServeMux, e *Executor, d *Deliverer) {
	mux.HandleFunc(taskname.TaskExecute, e.HandleExecuteTask)
	mux.HandleFunc(taskname.TaskCallback, d.HandleCallbackTask)
}
