// Package statemanager tracks long-running operations so operators can
// watch batch sweeps (send, receive, archive runs) in flight. Tracking is
// in-memory and bounded; it is an operational window, not a durable record.
// The audit log remains the system of record.
package statemanager

import "time"

// OperationState is one tracked operation.
type OperationState struct {
	ID          string                 `json:"id"`
	ServiceName string                 `json:"service_name"`
	Operation   string                 `json:"operation"` // e.g. "batch-send", "batch-receive", "audit-archive"
	Status      Status                 `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Duration    string                 `json:"duration,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Status is the state of a tracked operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// OperationStats aggregates the tracked window.
type OperationStats struct {
	TotalOperations int            `json:"total_operations"`
	ByStatus        map[Status]int `json:"by_status"`
	ByOperation     map[string]int `json:"by_operation"`
	AverageDuration string         `json:"average_duration,omitempty"`
}
