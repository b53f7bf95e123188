package tasks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"task-execution-service/pkg/config"
	"task-execution-service/pkg/errutil"
	"task-execution-service/pkg/metrics"
	redisx "task-execution-service/pkg/redis"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager is the api-side entry point: it creates tasks and answers status
// reads and streams. It is safe for concurrent use and shares one store handle.
type Manager struct {
	store      StatusStore
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	validate   *validator.Validate

	opTimeout       time.Duration
	pollInterval    time.Duration
	connectAttempts int
	connectBackoff  time.Duration

	connected atomic.Bool
	connect   singleflight.Group

	now   func() time.Time
	newID func() string
}

type ManagerParams struct {
	fx.In
	Config     *config.Config
	Store      StatusStore
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Tracer     trace.TracerProvider
}

func NewManager(p ManagerParams) *Manager {
	return &Manager{
		store:           p.Store,
		dispatcher:      p.Dispatcher,
		metrics:         p.Metrics,
		tracer:          p.Tracer.Tracer(tracerName),
		validate:        newValidator(),
		opTimeout:       p.Config.Redis.OpTimeout,
		pollInterval:    p.Config.Task.StatusPollInterval,
		connectAttempts: p.Config.Redis.ConnectAttempts,
		connectBackoff:  p.Config.Redis.ConnectBackoff,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Initialize verifies the status store is reachable, retrying with a fixed
// backoff. Concurrent callers share one attempt; once it succeeds later calls
// return immediately.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.connected.Load() {
		return nil
	}

	_, err, _ := m.connect.Do("connect", func() (any, error) {
		if m.connected.Load() {
			return nil, nil
		}

		ping := func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
			defer cancel()
			return m.store.Ping(ctx)
		}
		if err := redisx.WaitReady(ctx, ping, m.connectAttempts, m.connectBackoff); err != nil {
			zap.L().Error("failed to connect to status store after all retries", zap.Int("attempts", m.connectAttempts), zap.Error(err))
			return nil, err
		}

		m.connected.Store(true)
		zap.L().Info("successfully connected to status store")
		return nil, nil
	})
	if err != nil {
		return errutil.ServiceUnavailable("failed to connect to status store, please try again later", err)
	}
	return nil
}

// Create validates req, stores a PENDING record and dispatches it. The id is
// only returned once dispatch succeeded; on dispatch failure the record is
// removed again.
func (m *Manager) Create(ctx context.Context, req CreateTaskRequest) (taskID string, err error) {
	ctx, span := m.tracer.Start(ctx, "tasks.create", trace.WithAttributes(attribute.String("task.name", req.Name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("task.id", taskID))
		}
		span.End()
	}()

	req.Name = strings.TrimSpace(req.Name)
	if err := m.validateRequest(req); err != nil {
		return "", err
	}

	if err := m.Initialize(ctx); err != nil {
		return "", err
	}

	now := m.now().UTC()
	record := &Record{
		TaskID:      m.newID(),
		Name:        req.Name,
		Parameters:  req.Parameters,
		CallbackURL: req.CallbackURL,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Progress:    0,
		Message:     "Task created",
	}
	log := zap.L().With(zap.String("task_id", record.TaskID), zap.String("name", record.Name))

	storeCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	err = m.store.Create(storeCtx, record)
	cancel()
	if err != nil {
		log.Error("failed to persist task", zap.Error(err))
		return "", storeError("failed to create task", err)
	}
	log.Info("created task")

	handle, err := m.dispatcher.Dispatch(ctx, ExecutionRequest{
		TaskID:      record.TaskID,
		Name:        record.Name,
		Parameters:  record.Parameters,
		CallbackURL: record.CallbackURL,
	})
	if err != nil {
		log.Error("failed to dispatch task", zap.Error(err))
		m.discard(ctx, record.TaskID)
		return "", errutil.ServiceUnavailable("failed to dispatch task", err)
	}

	m.metrics.TasksCreated.Inc()
	log.Info("started execution of task", zap.String("dispatch_id", handle.ID), zap.String("queue", handle.Queue))
	return record.TaskID, nil
}

func (m *Manager) discard(ctx context.Context, taskID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
	defer cancel()

	if err := m.store.Delete(ctx, taskID); err != nil {
		zap.L().Warn("failed to remove undispatched task", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (m *Manager) validateRequest(req CreateTaskRequest) error {
	err := m.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errutil.ValidationFailed("invalid task request", err)
	}

	details := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errutil.Detail{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
		})
	}
	return errutil.ValidationFailed("invalid task request", nil, errutil.WithDetails(details...))
}

// GetStatus returns the current status snapshot of taskID.
func (m *Manager) GetStatus(ctx context.Context, taskID string) (StatusResponse, error) {
	if err := m.Initialize(ctx); err != nil {
		return StatusResponse{}, err
	}

	record, err := m.get(ctx, taskID)
	if err != nil {
		return StatusResponse{}, err
	}
	return record.StatusResponse(), nil
}

// StreamStatus emits a snapshot of taskID every poll interval until one with a
// terminal status has been emitted. A record missing at any poll ends the
// stream with a not-found error; cancelling ctx ends it with ctx.Err().
func (m *Manager) StreamStatus(ctx context.Context, taskID string, emit func(StatusResponse) error) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		record, err := m.get(ctx, taskID)
		if err != nil {
			return err
		}

		if err := emit(record.StatusResponse()); err != nil {
			return err
		}

		if record.Status.IsTerminal() {
			zap.L().Info("task finished", zap.String("task_id", taskID), zap.String("status", string(record.Status)))
			return nil
		}

		timer.Reset(m.pollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *Manager) get(ctx context.Context, taskID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	record, err := m.store.Get(ctx, taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, errutil.NotFound(fmt.Sprintf("Task %s not found", taskID), err)
	}
	if err != nil {
		zap.L().Error("failed to read task", zap.String("task_id", taskID), zap.Error(err))
		return nil, storeError("failed to get task status", err)
	}
	return record, nil
}

func storeError(msg string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errutil.ServiceUnavailable("status store operation timed out, please try again later", err)
	case errors.Is(err, ErrTaskExists):
		return errutil.Internal(msg, err)
	default:
		return errutil.ServiceUnavailable(msg, err)
	}
}
