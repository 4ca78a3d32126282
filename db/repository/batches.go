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

const batchColumns = `id, batch_type, vendor, tracking_number, status, sent_at, created_by, created_at`

// Create inserts a batch in pending_send.
func (r *Batches) Create(ctx context.Context, tx db.Tx, b *Batch) (*Batch, error) {
	if b.Status == "" {
		b.Status = BatchPendingSend
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO calibration_batches (batch_type, vendor, tracking_number, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		b.Type, b.Vendor, b.TrackingNumber, b.Status, b.CreatedBy, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert batch: %w", err)
	}
	return b, nil
}

// Get returns the batch. When a transaction is open the row is locked so
// concurrent workflow steps on the same batch serialize.
func (r *Batches) Get(ctx context.Context, tx db.Tx, id int64) (*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM calibration_batches WHERE id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	b := &Batch{}
	err := r.q(tx).QueryRow(ctx, query, id).Scan(
		&b.ID, &b.Type, &b.Vendor, &b.TrackingNumber, &b.Status, &b.SentAt, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NotFound("batch", fmt.Sprintf("%d", id))
		}
		return nil, fmt.Errorf("failed to load batch %d: %w", id, err)
	}
	return b, nil
}

// List returns batches in the given statuses, newest first. An empty
// status slice returns everything.
func (r *Batches) List(ctx context.Context, statuses []BatchStatus) ([]*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM calibration_batches`
	args := []interface{}{}
	if len(statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, statuses)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.q(nil).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []*Batch
	for rows.Next() {
		b := &Batch{}
		if err := rows.Scan(&b.ID, &b.Type, &b.Vendor, &b.TrackingNumber, &b.Status, &b.SentAt, &b.CreatedBy, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateStatus moves the batch to a new status, stamping sent_at when set.
func (r *Batches) UpdateStatus(ctx context.Context, tx db.Tx, id int64, status BatchStatus, sentAt *time.Time) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE calibration_batches SET status = $2, sent_at = COALESCE($3, sent_at) WHERE id = $1`,
		id, status, sentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("batch", fmt.Sprintf("%d", id))
	}
	return nil
}

// AddMember attaches a gauge to the batch.
func (r *Batches) AddMember(ctx context.Context, tx db.Tx, batchID, gaugeID int64) error {
	_, err := r.q(tx).Exec(ctx,
		`INSERT INTO batch_gauges (batch_id, gauge_id) VALUES ($1, $2)`,
		batchID, gaugeID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.Conflict(fmt.Sprintf("gauge %d is already in batch %d", gaugeID, batchID))
		}
		return fmt.Errorf("failed to add gauge %d to batch %d: %w", gaugeID, batchID, err)
	}
	return nil
}

// RemoveMember detaches a gauge from the batch.
func (r *Batches) RemoveMember(ctx context.Context, tx db.Tx, batchID, gaugeID int64) error {
	tag, err := r.q(tx).Exec(ctx,
		`DELETE FROM batch_gauges WHERE batch_id = $1 AND gauge_id = $2`,
		batchID, gaugeID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove gauge %d from batch %d: %w", gaugeID, batchID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("batch_member", fmt.Sprintf("%d/%d", batchID, gaugeID))
	}
	return nil
}

// Members returns the batch membership in gauge id order.
func (r *Batches) Members(ctx context.Context, tx db.Tx, batchID int64) ([]*BatchMember, error) {
	rows, err := r.q(tx).Query(ctx,
		`SELECT batch_id, gauge_id, received_at, passed
		   FROM batch_gauges
		  WHERE batch_id = $1
		  ORDER BY gauge_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch %d members: %w", batchID, err)
	}
	defer rows.Close()

	var out []*BatchMember
	for rows.Next() {
		m := &BatchMember{}
		if err := rows.Scan(&m.BatchID, &m.GaugeID, &m.ReceivedAt, &m.Passed); err != nil {
			return nil, fmt.Errorf("failed to scan batch member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkReceived records receipt and outcome for one member gauge.
func (r *Batches) MarkReceived(ctx context.Context, tx db.Tx, batchID, gaugeID int64, passed bool, at time.Time) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE batch_gauges SET received_at = $3, passed = $4
		  WHERE batch_id = $1 AND gauge_id = $2`,
		batchID, gaugeID, at, passed,
	)
	if err != nil {
		return fmt.Errorf("failed to mark gauge %d received in batch %d: %w", gaugeID, batchID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("batch_member", fmt.Sprintf("%d/%d", batchID, gaugeID))
	}
	return nil
}

// ActiveBatchFor returns the non-terminal batch containing the gauge, or 0.
func (r *Batches) ActiveBatchFor(ctx context.Context, tx db.Tx, gaugeID int64) (int64, error) {
	var id int64
	err := r.q(tx).QueryRow(ctx,
		`SELECT b.id
		   FROM calibration_batches b
		   JOIN batch_gauges m ON m.batch_id = b.id
		  WHERE m.gauge_id = $1 AND b.status NOT IN ($2, $3)
		  LIMIT 1`,
		gaugeID, BatchCompleted, BatchCancelled,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find active batch for gauge %d: %w", gaugeID, err)
	}
	return id, nil
}
