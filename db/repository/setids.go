package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db"
)

// Exists reports whether the set id has ever been claimed. With a
// transaction open the history row is locked so two allocators cannot both
// see the id as free.
func (r *SetIDs) Exists(ctx context.Context, tx db.Tx, setID string) (bool, error) {
	query := `SELECT set_id FROM set_id_history WHERE set_id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	var got string
	err := r.q(tx).QueryRow(ctx, query, setID).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check set id %s: %w", setID, err)
	}
	return true, nil
}

// Insert claims a set id. The primary key makes the claim race-safe; a
// duplicate claim surfaces as SetIDReused.
func (r *SetIDs) Insert(ctx context.Context, tx db.Tx, setID string, firstUsed time.Time) error {
	_, err := r.q(tx).Exec(ctx,
		`INSERT INTO set_id_history (set_id, first_used) VALUES ($1, $2)`,
		setID, firstUsed,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.SetIDReused(setID)
		}
		return fmt.Errorf("failed to claim set id %s: %w", setID, err)
	}
	return nil
}

// Retire stamps the retirement time. The history row stays forever; a
// retired id is still a used id.
func (r *SetIDs) Retire(ctx context.Context, tx db.Tx, setID string, at time.Time) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE set_id_history SET retired_at = $2 WHERE set_id = $1`,
		setID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to retire set id %s: %w", setID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("set_id", setID)
	}
	return nil
}

// MaxNumericSuffix scans both the history ledger and live gauge ids for the
// highest numeric suffix under the prefix. Live gauges are included because
// legacy rows can predate the ledger.
func (r *SetIDs) MaxNumericSuffix(ctx context.Context, tx db.Tx, prefix string) (int, error) {
	var max int
	err := r.q(tx).QueryRow(ctx,
		`SELECT COALESCE(MAX(n), 0) FROM (
		   SELECT (regexp_replace(set_id, '^'||$1, ''))::int AS n
		     FROM set_id_history
		    WHERE set_id ~ ('^'||$1||'[0-9]+$')
		   UNION ALL
		   SELECT (regexp_replace(regexp_replace(gauge_id, '[A-Z]$', ''), '^'||$1, ''))::int AS n
		     FROM gauges
		    WHERE gauge_id ~ ('^'||$1||'[0-9]+[A-Z]?$')
		 ) suffixes`, prefix,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to scan max suffix for prefix %s: %w", prefix, err)
	}
	return max, nil
}

// History returns the full ledger in claim order.
func (r *SetIDs) History(ctx context.Context) ([]*SetIDRecord, error) {
	rows, err := r.q(nil).Query(ctx,
		`SELECT set_id, first_used, retired_at FROM set_id_history ORDER BY first_used, set_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list set id history: %w", err)
	}
	defer rows.Close()

	var out []*SetIDRecord
	for rows.Next() {
		rec := &SetIDRecord{}
		if err := rows.Scan(&rec.SetID, &rec.FirstUsed, &rec.RetiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan set id record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
