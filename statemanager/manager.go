package statemanager

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks a bounded window of operations.
type Manager struct {
	mu            sync.RWMutex
	operations    map[string]*OperationState
	maxOperations int
	serviceName   string
}

// Config configures a Manager.
type Config struct {
	ServiceName   string
	MaxOperations int // keep the last N operations, default 1000
}

// New creates a state manager.
func New(cfg Config) *Manager {
	if cfg.MaxOperations == 0 {
		cfg.MaxOperations = 1000
	}
	return &Manager{
		operations:    make(map[string]*OperationState),
		maxOperations: cfg.MaxOperations,
		serviceName:   cfg.ServiceName,
	}
}

// Track starts tracking a new operation with a minted id and returns the id.
func (m *Manager) Track(operation string, metadata map[string]interface{}) string {
	id := uuid.NewString()
	m.StartOperation(id, operation, metadata)
	return id
}

// StartOperation records an operation in running state under a caller-chosen
// id. The oldest tracked operation is evicted at capacity.
func (m *Manager) StartOperation(id, operation string, metadata map[string]interface{}) *OperationState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.operations) >= m.maxOperations {
		m.evictOldest()
	}

	op := &OperationState{
		ID:          id,
		ServiceName: m.serviceName,
		Operation:   operation,
		Status:      StatusRunning,
		StartedAt:   time.Now(),
		Metadata:    metadata,
	}
	m.operations[id] = op
	return op
}

// CompleteOperation marks an operation completed, or failed when err is
// non-nil. Unknown ids are ignored.
func (m *Manager) CompleteOperation(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, exists := m.operations[id]
	if !exists {
		return
	}
	now := time.Now()
	op.CompletedAt = &now
	op.Duration = now.Sub(op.StartedAt).String()
	if err != nil {
		op.Status = StatusFailed
		op.Error = err.Error()
	} else {
		op.Status = StatusCompleted
	}
}

// UpdateMetadata sets one metadata key on a tracked operation.
func (m *Manager) UpdateMetadata(id string, key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op, exists := m.operations[id]; exists {
		if op.Metadata == nil {
			op.Metadata = make(map[string]interface{})
		}
		op.Metadata[key] = value
	}
}

// GetOperation returns a copy of the operation, or nil when unknown.
func (m *Manager) GetOperation(id string) *OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if op, exists := m.operations[id]; exists {
		opCopy := *op
		return &opCopy
	}
	return nil
}

// ListOperations returns copies of every tracked operation.
func (m *Manager) ListOperations() []*OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]*OperationState, 0, len(m.operations))
	for _, op := range m.operations {
		opCopy := *op
		ops = append(ops, &opCopy)
	}
	return ops
}

// GetStats aggregates the tracked window.
func (m *Manager) GetStats() *OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &OperationStats{
		TotalOperations: len(m.operations),
		ByStatus:        make(map[Status]int),
		ByOperation:     make(map[string]int),
	}

	var totalDuration time.Duration
	var completedCount int
	for _, op := range m.operations {
		stats.ByStatus[op.Status]++
		stats.ByOperation[op.Operation]++
		if op.CompletedAt != nil {
			totalDuration += op.CompletedAt.Sub(op.StartedAt)
			completedCount++
		}
	}
	if completedCount > 0 {
		stats.AverageDuration = (totalDuration / time.Duration(completedCount)).String()
	}
	return stats
}

// evictOldest removes the oldest operation. Caller holds the lock.
func (m *Manager) evictOldest() {
	var oldestID string
	var oldestTime time.Time
	for id, op := range m.operations {
		if oldestID == "" || op.StartedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = op.StartedAt
		}
	}
	if oldestID != "" {
		delete(m.operations, oldestID)
	}
}
