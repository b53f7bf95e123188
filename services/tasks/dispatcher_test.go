package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"task-execution-service/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	f.opts = append(f.opts, opts)

	info := &asynq.TaskInfo{Type: t.Type(), Payload: t.Payload(), Queue: "default"}
	for _, o := range opts {
		switch o.Type() {
		case asynq.TaskIDOpt:
			info.ID = o.Value().(string)
		case asynq.QueueOpt:
			info.Queue = o.Value().(string)
		}
	}
	return info, nil
}

func optionValues(opts []asynq.Option) map[asynq.OptionType]any {
	out := make(map[asynq.OptionType]any, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestAsynqDispatcher_Dispatch(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewAsynqDispatcher(enq, testConfig())

	req := ExecutionRequest{
		TaskID:      "abc",
		Name:        "report",
		Parameters:  map[string]any{"k": "v"},
		CallbackURL: "http://callback.local/hook",
	}
	handle, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, DispatchHandle{ID: "abc", Queue: taskname.QueueTasks}, handle)

	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.TaskExecute, enq.tasks[0].Type())

	var decoded ExecutionRequest
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, req, decoded)

	opts := optionValues(enq.opts[0])
	require.Equal(t, "abc", opts[asynq.TaskIDOpt])
	require.Equal(t, taskname.QueueTasks, opts[asynq.QueueOpt])
	require.Equal(t, 3, opts[asynq.MaxRetryOpt])
	require.Equal(t, time.Hour, opts[asynq.TimeoutOpt])
}

func TestAsynqDispatcher_DispatchError(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	d := NewAsynqDispatcher(enq, testConfig())

	_, err := d.Dispatch(context.Background(), ExecutionRequest{TaskID: "abc"})
	require.EqualError(t, err, "redis down")
}

func TestAsynqCallbackScheduler_Schedule(t *testing.T) {
	enq := &fakeEnqueuer{}
	cfg := testConfig()
	s := NewAsynqCallbackScheduler(enq, NewDeliverer(cfg, noopTracer(), testMetrics()))

	result := TaskResult{
		TaskID:      "abc",
		Status:      StatusFailed,
		Error:       "Task failed: boom",
		CompletedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Schedule(context.Background(), "http://callback.local/hook", result))

	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.TaskCallback, enq.tasks[0].Type())

	var decoded CallbackRequest
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, "http://callback.local/hook", decoded.CallbackURL)
	require.Equal(t, result, decoded.Result)

	opts := optionValues(enq.opts[0])
	require.Equal(t, taskname.QueueCallbacks, opts[asynq.QueueOpt])
	require.Equal(t, 0, opts[asynq.MaxRetryOpt])
	require.Greater(t, opts[asynq.TimeoutOpt].(time.Duration), 3*cfg.Callback.Timeout)
}
