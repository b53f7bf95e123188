package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"task-execution-service/pkg/config"
	"task-execution-service/pkg/task"
	"task-execution-service/pkg/taskname"

	"github.com/hibiken/asynq"
)

//go:generate mockgen -source=dispatcher.go -destination=mock_dispatcher_test.go -package=tasks

// Dispatcher hands an execution request to a durable queue for at-least-once
// delivery to a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req ExecutionRequest) (DispatchHandle, error)
}

type AsynqDispatcher struct {
	enqueuer      task.Enqueuer
	timeout       time.Duration
	maxRedelivery int
}

func NewAsynqDispatcher(enqueuer task.Enqueuer, cfg *config.Config) *AsynqDispatcher {
	return &AsynqDispatcher{
		enqueuer:      enqueuer,
		timeout:       cfg.Worker.TaskTimeout,
		maxRedelivery: cfg.Worker.MaxRedelivery,
	}
}

// Dispatch enqueues task:execute keyed by the task id, so a second dispatch of
// the same task is rejected by the broker instead of running twice.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, req ExecutionRequest) (DispatchHandle, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return DispatchHandle{}, fmt.Errorf("encode execution request: %w", err)
	}

	info, err := d.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.TaskExecute, payload),
		asynq.TaskID(req.TaskID),
		asynq.Queue(taskname.QueueTasks),
		asynq.MaxRetry(d.maxRedelivery),
		asynq.Timeout(d.timeout),
	)
	if err != nil {
		return DispatchHandle{}, err
	}

	return DispatchHandle{ID: info.ID, Queue: info.Queue}, nil
}

// CallbackScheduler queues delivery of a terminal result to its callback URL.
type CallbackScheduler interface {
	Schedule(ctx context.Context, callbackURL string, result TaskResult) error
}

type CallbackRequest struct {
	CallbackURL string     `json:"callback_url"`
	Result      TaskResult `json:"result"`
}

type AsynqCallbackScheduler struct {
	enqueuer task.Enqueuer
	timeout  time.Duration
}

func NewAsynqCallbackScheduler(enqueuer task.Enqueuer, deliverer *Deliverer) *AsynqCallbackScheduler {
	return &AsynqCallbackScheduler{
		enqueuer: enqueuer,
		timeout:  deliverer.Budget(),
	}
}

// Schedule enqueues task:callback without broker retries: the retry loop
// lives in Deliverer.Deliver.
func (s *AsynqCallbackScheduler) Schedule(ctx context.Context, callbackURL string, result TaskResult) error {
	payload, err := json.Marshal(CallbackRequest{CallbackURL: callbackURL, Result: result})
	if err != nil {
		return fmt.Errorf("encode callback request: %w", err)
	}

	_, err = s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.TaskCallback, payload),
		asynq.Queue(taskname.QueueCallbacks),
		asynq.MaxRetry(0),
		asynq.Timeout(s.timeout),
	)
	return err
}
