package tasks

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the task document kept in the status store under task:{task_id}.
type Record struct {
	TaskID      string         `json:"task_id"`
	Name        string         `json:"name"`
	Parameters  map[string]any `json:"parameters"`
	CallbackURL string         `json:"callback_url"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Progress    float64        `json:"progress"`
	Message     string         `json:"message"`
}

func (r *Record) StatusResponse() StatusResponse {
	return StatusResponse{
		TaskID:   r.TaskID,
		Status:   r.Status,
		Progress: r.Progress,
		Message:  r.Message,
	}
}

// TaskResult is posted to the callback URL once a task reaches a terminal status.
type TaskResult struct {
	TaskID      string         `json:"task_id"`
	Status      Status         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

type CreateTaskRequest struct {
	Name        string         `json:"name" validate:"required"`
	Parameters  map[string]any `json:"parameters" validate:"required"`
	CallbackURL string         `json:"callback_url" validate:"required,http_url"`
}

type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

type StatusResponse struct {
	TaskID   string  `json:"task_id"`
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// ExecutionRequest is the payload handed to a worker through the dispatcher.
type ExecutionRequest struct {
	TaskID      string         `json:"task_id"`
	Name        string         `json:"name"`
	Parameters  map[string]any `json:"parameters"`
	CallbackURL string         `json:"callback_url"`
}

// DispatchHandle identifies an accepted execution request in the broker.
type DispatchHandle struct {
	ID    string
	Queue string
}
