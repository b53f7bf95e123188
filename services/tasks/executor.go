package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"task-execution-service/pkg/metrics"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "task-execution-service/services/tasks"

// Executor runs dispatched tasks on the worker side.
type Executor struct {
	machine   *StateMachine
	work      Work
	callbacks CallbackScheduler
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewExecutor(machine *StateMachine, work Work, callbacks CallbackScheduler, tp trace.TracerProvider, m *metrics.Metrics) *Executor {
	return &Executor{
		machine:   machine,
		work:      work,
		callbacks: callbacks,
		tracer:    tp.Tracer(tracerName),
		metrics:   m,
		now:       time.Now,
	}
}

// HandleExecuteTask is the asynq handler for task:execute. It only fails for
// undecodable payloads; execution failures end as a FAILED record and a
// failure callback instead.
func (e *Executor) HandleExecuteTask(ctx context.Context, t *asynq.Task) error {
	var req ExecutionRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		zap.L().Error("invalid execute payload", zap.Error(err))
		return fmt.Errorf("decode execute payload: %v: %w", err, asynq.SkipRetry)
	}

	e.Execute(ctx, req)
	return nil
}

// Execute drives one task from RUNNING to a terminal status and schedules its
// callback. A crash between the terminal write and Schedule leaves the result
// undelivered; there is no outbox.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) {
	ctx, span := e.tracer.Start(ctx, "tasks.execute", trace.WithAttributes(
		attribute.String("task.id", req.TaskID),
		attribute.String("task.name", req.Name),
	))
	defer span.End()

	log := zap.L().With(zap.String("task_id", req.TaskID), zap.String("name", req.Name))
	start := e.now()

	err := e.machine.Transition(ctx, req.TaskID, Update{Status: StatusRunning, Progress: 0, Message: "Task started"})
	if errors.Is(err, ErrInvalidTransition) {
		log.Warn("task already finished, skipping redelivered execution", zap.Error(err))
		return
	}
	if err != nil {
		e.writeFailed(req.TaskID, StatusRunning, err)
	}
	log.Info("task started")

	result, runErr := e.run(ctx, req, start)

	// terminal writes must land even when the worker deadline has passed
	ctx = context.WithoutCancel(ctx)

	var tr TaskResult
	if runErr != nil {
		msg := "Task failed: " + runErr.Error()
		e.update(ctx, req.TaskID, Update{Status: StatusFailed, Progress: 0, Message: msg})
		tr = TaskResult{TaskID: req.TaskID, Status: StatusFailed, Error: msg, CompletedAt: e.now().UTC()}

		span.RecordError(runErr)
		span.SetStatus(codes.Error, msg)
		log.Error("task failed", zap.Error(runErr))
	} else {
		e.update(ctx, req.TaskID, Update{Status: StatusCompleted, Progress: 1, Message: "Task completed"})
		tr = TaskResult{TaskID: req.TaskID, Status: StatusCompleted, Result: result, CompletedAt: e.now().UTC()}

		log.Info("task completed", zap.Duration("duration", e.now().Sub(start)))
	}

	e.metrics.TasksFinished.WithLabelValues(string(tr.Status)).Inc()
	e.metrics.TaskDuration.Observe(e.now().Sub(start).Seconds())

	if err := e.callbacks.Schedule(ctx, req.CallbackURL, tr); err != nil {
		log.Error("failed to schedule callback", zap.String("callback_url", req.CallbackURL), zap.Error(err))
	}
}

func (e *Executor) run(ctx context.Context, req ExecutionRequest, start time.Time) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("task panicked", zap.String("task_id", req.TaskID), zap.Any("panic", r), zap.StackSkip("stack", 1))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	total := e.work.Steps(req)
	if total <= 0 {
		return nil, fmt.Errorf("work reported %d steps", total)
	}

	for step := 1; step <= total; step++ {
		if err := e.work.Step(ctx, req, step, total); err != nil {
			return nil, fmt.Errorf("step %d/%d: %w", step, total, err)
		}

		progress := float64(step) / float64(total)
		e.update(ctx, req.TaskID, Update{
			Status:   StatusRunning,
			Progress: progress,
			Message:  fmt.Sprintf("Processing step %d/%d (%.1f%%)", step, total, progress*100),
		})
	}

	completedAt := e.now()
	return map[string]any{
		"name":         req.Name,
		"parameters":   req.Parameters,
		"completed_at": completedAt.UTC().Format(time.RFC3339Nano),
		"result_data": map[string]any{
			"message":        "Task completed successfully",
			"total_steps":    total,
			"execution_time": completedAt.Sub(start).Seconds(),
		},
	}, nil
}

// update writes a status change in order with the caller. Store failures are
// logged and never interrupt execution.
func (e *Executor) update(ctx context.Context, taskID string, u Update) {
	if err := e.machine.Transition(ctx, taskID, u); err != nil {
		e.writeFailed(taskID, u.Status, err)
	}
}

func (e *Executor) writeFailed(taskID string, status Status, err error) {
	e.metrics.StatusWriteErrors.Inc()
	zap.L().Warn("failed to update task status",
		zap.String("task_id", taskID),
		zap.String("status", string(status)),
		zap.Error(err),
	)
}
