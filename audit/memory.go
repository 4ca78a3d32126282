package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/7D-Solutions/gaugecore/db"
)

// Appender is the subset of the recorder the workflow services depend on.
// Recorder implements it against PostgreSQL; MemoryLog implements it for
// tests.
type Appender interface {
	Append(ctx context.Context, tx db.Tx, actorID, action, entityType, entityID string, before, after interface{}, severity Severity) (int64, error)
}

var (
	_ Appender = (*Recorder)(nil)
	_ Appender = (*MemoryLog)(nil)
)

// MemoryLog is an in-memory hash-chained audit log for workflow tests. It
// applies the same chaining rules as the recorder so chain verification
// works on its entries.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLog creates an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append records one entry, chaining it to the previous.
func (l *MemoryLog) Append(ctx context.Context, tx db.Tx, actorID, action, entityType, entityID string, before, after interface{}, severity Severity) (int64, error) {
	beforeJSON, err := marshalPayload(before)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal before payload: %w", err)
	}
	afterJSON, err := marshalPayload(after)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal after payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash string
	if n := len(l.entries); n > 0 {
		prevHash = l.entries[n-1].Hash
	}
	entry := Entry{
		Seq:        int64(len(l.entries)) + 1,
		Timestamp:  time.Now().UTC(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     beforeJSON,
		After:      afterJSON,
		PrevHash:   prevHash,
		Severity:   severity,
	}
	entry.Hash = ComputeHash(&entry)
	l.entries = append(l.entries, entry)
	return entry.Seq, nil
}

// Entries returns a copy of the recorded entries in sequence order.
func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ByAction returns the recorded entries carrying the given action.
func (l *MemoryLog) ByAction(action string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// LastPayloads unmarshals the most recent entry's before/after payloads.
func (l *MemoryLog) LastPayloads(before, after interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return fmt.Errorf("no entries recorded")
	}
	e := l.entries[len(l.entries)-1]
	if before != nil && len(e.Before) > 0 {
		if err := json.Unmarshal(e.Before, before); err != nil {
			return err
		}
	}
	if after != nil && len(e.After) > 0 {
		if err := json.Unmarshal(e.After, after); err != nil {
			return err
		}
	}
	return nil
}
