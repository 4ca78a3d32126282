package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/db"
)

// Recorder appends and queries audit entries. Appends must run within the
// caller's transaction; if the transaction aborts, the entry rolls back
// with it. The single-row lock on audit_chain_tip serializes concurrent
// appenders so sequence numbers stay contiguous and the hash chain stays
// linear.
type Recorder struct {
	pg *db.PostgresDB
}

// NewRecorder creates an audit recorder over the given database.
func NewRecorder(pg *db.PostgresDB) *Recorder {
	return &Recorder{pg: pg}
}

// Append writes one entry inside tx and returns its sequence number.
// Before/after payloads are marshalled to JSON and stored byte-for-byte;
// nil payloads are stored as SQL NULL and read back as nil, so the hash
// computed here matches the hash recomputed at verification time.
func (r *Recorder) Append(ctx context.Context, tx db.Tx, actorID, action, entityType, entityID string, before, after interface{}, severity Severity) (int64, error) {
	beforeJSON, err := marshalPayload(before)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal before payload: %w", err)
	}
	afterJSON, err := marshalPayload(after)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal after payload: %w", err)
	}

	// Chain tip lock: serializes appenders across transactions. Held
	// until this transaction commits.
	var lastSeq int64
	var lastHash string
	err = tx.QueryRow(ctx,
		`SELECT last_seq, hash FROM audit_chain_tip WHERE id = 1 FOR UPDATE`,
	).Scan(&lastSeq, &lastHash)
	if err != nil {
		return 0, fmt.Errorf("failed to lock audit chain tip: %w", err)
	}

	entry := Entry{
		Seq:        lastSeq + 1,
		Timestamp:  time.Now().UTC(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     beforeJSON,
		After:      afterJSON,
		PrevHash:   lastHash,
		Severity:   severity,
	}
	entry.Hash = ComputeHash(&entry)

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_entries
		   (seq, timestamp, actor_id, action, entity_type, entity_id, before, after, prev_hash, hash, severity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.Seq, entry.Timestamp, entry.ActorID, entry.Action, entry.EntityType,
		entry.EntityID, entry.Before, entry.After, entry.PrevHash, entry.Hash, string(entry.Severity),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE audit_chain_tip SET last_seq = $1, hash = $2 WHERE id = 1`,
		entry.Seq, entry.Hash,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to advance audit chain tip: %w", err)
	}

	return entry.Seq, nil
}

// Verify recomputes hashes over the stored range [fromSeq, toSeq] and
// reports the first mismatch. A toSeq of 0 means "to latest".
func (r *Recorder) Verify(ctx context.Context, fromSeq, toSeq int64) (VerifyResult, error) {
	entries, err := r.Query(ctx, Filter{FromSeq: fromSeq, ToSeq: toSeq})
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyEntries(entries)
	if !result.Valid {
		common.Logger.WithField("first_invalid_seq", *result.FirstInvalidSeq).
			Error("audit chain verification failed")
	}
	return result, nil
}

// Query returns entries matching the filter in sequence order.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]Entry, error) {
	sql := `SELECT seq, timestamp, actor_id, action, entity_type, entity_id,
	               before, after, prev_hash, hash, severity
	          FROM audit_entries WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EntityType != "" {
		sql += " AND entity_type = " + arg(f.EntityType)
	}
	if f.EntityID != "" {
		sql += " AND entity_id = " + arg(f.EntityID)
	}
	if f.Action != "" {
		sql += " AND action = " + arg(f.Action)
	}
	if f.ActorID != "" {
		sql += " AND actor_id = " + arg(f.ActorID)
	}
	if f.FromSeq > 0 {
		sql += " AND seq >= " + arg(f.FromSeq)
	}
	if f.ToSeq > 0 {
		sql += " AND seq <= " + arg(f.ToSeq)
	}
	if f.Since != nil {
		sql += " AND timestamp >= " + arg(*f.Since)
	}
	if f.Until != nil {
		sql += " AND timestamp <= " + arg(*f.Until)
	}
	sql += " ORDER BY seq"
	if f.Limit > 0 {
		sql += " LIMIT " + arg(f.Limit)
	}

	rows, err := r.pg.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries (%s): %w", f.describe(), err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var severity string
		if err := rows.Scan(&e.Seq, &e.Timestamp, &e.ActorID, &e.Action, &e.EntityType,
			&e.EntityID, &e.Before, &e.After, &e.PrevHash, &e.Hash, &severity); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Severity = Severity(severity)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Export streams entries matching the filter to the given callback. Used
// by the data-export surface; the callback returning an error stops the
// stream.
func (r *Recorder) Export(ctx context.Context, f Filter, emit func(Entry) error) error {
	entries, err := r.Query(ctx, f)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

func marshalPayload(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
