package models

import "time"

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
	ExecutionBlocked ExecutionStatus = "blocked"
)

// ExecutionResult is the outcome of running one code payload.
type ExecutionResult struct {
	Success     bool                   `json:"success"`
	Status      ExecutionStatus        `json:"status"`
	Message     string                 `json:"message"`
	Violations  []string               `json:"violations,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Output      string                 `json:"output,omitempty"`
	ReturnValue interface{}            `json:"return_value,omitempty"`
	Method      string                 `json:"method,omitempty"`
	Identifier  string                 `json:"identifier,omitempty"`
	SnapshotID  string                 `json:"snapshot_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func NewErrorResult(message string) *ExecutionResult {
	return &ExecutionResult{
		Success:   false,
		Status:    ExecutionError,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewBlockedResult(message string, violations []string) *ExecutionResult {
	return &ExecutionResult{
		Success:    false,
		Status:     ExecutionBlocked,
		Message:    message,
		Violations: violations,
		Timestamp:  time.Now(),
	}
}

func NewSuccessResult(message string) *ExecutionResult {
	return &ExecutionResult{
		Success:   true,
		Status:    ExecutionSuccess,
		Message:   message,
		Timestamp: time.Now(),
	}
}
