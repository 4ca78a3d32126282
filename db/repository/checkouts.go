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

// Insert creates the active checkout row. The unique index on gauge_id
// enforces single-active, so a conflicting concurrent insert surfaces as
// AlreadyCheckedOut rather than a raw constraint error.
func (r *Checkouts) Insert(ctx context.Context, tx db.Tx, ac *ActiveCheckout) (*ActiveCheckout, error) {
	if ac.CheckedAt.IsZero() {
		ac.CheckedAt = time.Now().UTC()
	}
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO active_checkouts (gauge_id, user_id, checked_at, notes)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		ac.GaugeID, ac.UserID, ac.CheckedAt, ac.Notes,
	).Scan(&ac.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, core.AlreadyCheckedOut(fmt.Sprintf("%d", ac.GaugeID))
		}
		return nil, fmt.Errorf("failed to insert checkout: %w", err)
	}
	return ac, nil
}

// FindByGauge returns the active checkout for a gauge, or nil when the
// gauge is not checked out.
func (r *Checkouts) FindByGauge(ctx context.Context, tx db.Tx, gaugeID int64) (*ActiveCheckout, error) {
	ac := &ActiveCheckout{}
	err := r.q(tx).QueryRow(ctx,
		`SELECT id, gauge_id, user_id, checked_at, notes
		   FROM active_checkouts WHERE gauge_id = $1`, gaugeID,
	).Scan(&ac.ID, &ac.GaugeID, &ac.UserID, &ac.CheckedAt, &ac.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkout for gauge %d: %w", gaugeID, err)
	}
	return ac, nil
}

// DeleteForGauges removes the active checkout rows for a cohort.
func (r *Checkouts) DeleteForGauges(ctx context.Context, tx db.Tx, gaugeIDs []int64) error {
	_, err := r.q(tx).Exec(ctx,
		`DELETE FROM active_checkouts WHERE gauge_id = ANY($1)`, gaugeIDs)
	if err != nil {
		return fmt.Errorf("failed to delete checkouts: %w", err)
	}
	return nil
}

// UpdateHolder transfers the active checkout to a new holder.
func (r *Checkouts) UpdateHolder(ctx context.Context, tx db.Tx, gaugeID int64, newUserID string) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE active_checkouts SET user_id = $2 WHERE gauge_id = $1`,
		gaugeID, newUserID,
	)
	if err != nil {
		return fmt.Errorf("failed to transfer checkout for gauge %d: %w", gaugeID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("active_checkout", fmt.Sprintf("%d", gaugeID))
	}
	return nil
}
