package rediskey

import "fmt"

// Task keys (global convention across the api and worker processes)
const (
	TaskPrefix = "task"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTaskKey returns "task:{taskID}"
func BuildTaskKey(taskID string) string {
	return NamespaceKey(TaskPrefix, taskID)
}
