package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/db/bolt"
)

const archiveBucket = "audit_entries"

// Archiver moves audit entries older than the retention window into a
// local bbolt append-only store. Entries are never deleted outright; the
// archive preserves hashes so a cross-store verification can still walk the
// full chain.
type Archiver struct {
	pg            *db.PostgresDB
	archive       *bolt.DB
	retentionDays int
}

// NewArchiver opens the archive store at path. The default retention
// window is 730 days.
func NewArchiver(pg *db.PostgresDB, path string, retentionDays int) (*Archiver, error) {
	if retentionDays <= 0 {
		retentionDays = 730
	}
	store, err := bolt.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit archive: %w", err)
	}
	if err := store.CreateBucket(archiveBucket); err != nil {
		store.Close()
		return nil, err
	}
	return &Archiver{pg: pg, archive: store, retentionDays: retentionDays}, nil
}

// Close closes the archive store.
func (a *Archiver) Close() error {
	return a.archive.Close()
}

// Run archives every entry older than the retention window and removes it
// from the live table. Returns the number of entries moved. The copy into
// the archive happens before the delete so a crash between the two leaves
// duplicates, never losses.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)

	recorder := NewRecorder(a.pg)
	entries, err := recorder.Query(ctx, Filter{Until: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("failed to load archivable entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for _, e := range entries {
		key := fmt.Sprintf("%020d", e.Seq)
		if err := a.archive.PutJSON(archiveBucket, key, e); err != nil {
			return 0, fmt.Errorf("failed to archive entry %d: %w", e.Seq, err)
		}
	}

	lastSeq := entries[len(entries)-1].Seq
	if err := a.pg.Exec(ctx,
		`DELETE FROM audit_entries WHERE seq <= $1 AND timestamp <= $2`,
		lastSeq, cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to trim archived entries: %w", err)
	}

	common.Logger.WithField("count", len(entries)).
		WithField("through_seq", lastSeq).
		Info("archived audit entries")
	return len(entries), nil
}

// ArchivedEntries loads entries from the archive store in sequence order,
// for cross-store chain verification and export.
func (a *Archiver) ArchivedEntries() ([]Entry, error) {
	var entries []Entry
	err := a.archive.ForEach(archiveBucket, func(key, value []byte) error {
		var e Entry
		if err := unmarshalEntry(value, &e); err != nil {
			return fmt.Errorf("corrupt archive entry %s: %w", key, err)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

func unmarshalEntry(data []byte, e *Entry) error {
	return json.Unmarshal(data, e)
}
