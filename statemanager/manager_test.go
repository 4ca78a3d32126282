package statemanager

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackAndComplete(t *testing.T) {
	m := New(Config{ServiceName: "gaugecore"})

	id := m.Track("batch-send", map[string]interface{}{"batch_id": int64(7)})
	op := m.GetOperation(id)
	require.NotNil(t, op)
	assert.Equal(t, StatusRunning, op.Status)
	assert.Equal(t, "gaugecore", op.ServiceName)
	assert.Equal(t, int64(7), op.Metadata["batch_id"])

	m.CompleteOperation(id, nil)
	op = m.GetOperation(id)
	assert.Equal(t, StatusCompleted, op.Status)
	require.NotNil(t, op.CompletedAt)
	assert.NotEmpty(t, op.Duration)
}

func TestCompleteWithError(t *testing.T) {
	m := New(Config{ServiceName: "gaugecore"})

	id := m.Track("batch-receive", nil)
	m.CompleteOperation(id, fmt.Errorf("vendor unreachable"))

	op := m.GetOperation(id)
	assert.Equal(t, StatusFailed, op.Status)
	assert.Equal(t, "vendor unreachable", op.Error)

	// Unknown ids are ignored.
	m.CompleteOperation("missing", nil)
	assert.Nil(t, m.GetOperation("missing"))
}

func TestUpdateMetadata(t *testing.T) {
	m := New(Config{ServiceName: "gaugecore"})

	id := m.Track("batch-send", nil)
	m.UpdateMetadata(id, "gauges_sent", 4)

	op := m.GetOperation(id)
	assert.Equal(t, 4, op.Metadata["gauges_sent"])
}

func TestEvictionAtCapacity(t *testing.T) {
	m := New(Config{ServiceName: "gaugecore", MaxOperations: 3})

	first := m.Track("batch-send", nil)
	for i := 0; i < 3; i++ {
		m.Track("batch-send", nil)
	}

	assert.Nil(t, m.GetOperation(first))
	assert.Len(t, m.ListOperations(), 3)
}

func TestStats(t *testing.T) {
	m := New(Config{ServiceName: "gaugecore"})

	a := m.Track("batch-send", nil)
	b := m.Track("batch-receive", nil)
	m.Track("audit-archive", nil)
	m.CompleteOperation(a, nil)
	m.CompleteOperation(b, fmt.Errorf("boom"))

	stats := m.GetStats()
	assert.Equal(t, 3, stats.TotalOperations)
	assert.Equal(t, 1, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[StatusFailed])
	assert.Equal(t, 1, stats.ByStatus[StatusRunning])
	assert.Equal(t, 1, stats.ByOperation["batch-send"])
	assert.NotEmpty(t, stats.AverageDuration)
}

func TestCopiesAreReturned(t *testing.T) {
	m := New(Config{ServiceName: "gaugecore"})

	id := m.Track("batch-send", nil)
	op := m.GetOperation(id)
	op.Status = StatusFailed

	assert.Equal(t, StatusRunning, m.GetOperation(id).Status)
}
