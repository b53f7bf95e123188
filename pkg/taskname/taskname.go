package taskname

const (
	// Task lifecycle
	TaskExecute  = "task:execute"
	TaskCallback = "task:callback"
)

// Queues
const (
	QueueTasks     = "tasks"
	QueueCallbacks = "callbacks"
)
