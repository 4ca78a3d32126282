package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db"
)

const certColumns = `id, gauge_id, file_ref, uploaded_at, uploaded_by,
	custom_name, file_size, is_current, superseded_at, superseded_by, deleted_at`

// Insert creates a certificate row. The partial unique index on
// (gauge_id) WHERE is_current keeps the chain to a single current certificate at the schema level.
func (r *Certificates) Insert(ctx context.Context, tx db.Tx, c *Certificate) (*Certificate, error) {
	if c.UploadedAt.IsZero() {
		c.UploadedAt = time.Now().UTC()
	}
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO certificates
		   (gauge_id, file_ref, uploaded_at, uploaded_by, custom_name, file_size, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		c.GaugeID, c.FileRef, c.UploadedAt, c.UploadedBy, c.CustomName, c.FileSize, c.IsCurrent,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert certificate: %w", err)
	}
	return c, nil
}

// Get returns one certificate by id, including soft-deleted ones so the
// supersession chain stays walkable.
func (r *Certificates) Get(ctx context.Context, tx db.Tx, id int64) (*Certificate, error) {
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = $1`, id)
	c, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NotFound("certificate", fmt.Sprintf("%d", id))
		}
		return nil, err
	}
	return c, nil
}

// CurrentFor returns the current certificate for a gauge, locking the row
// when a transaction is open so supersession serializes per gauge.
func (r *Certificates) CurrentFor(ctx context.Context, tx db.Tx, gaugeID int64) (*Certificate, error) {
	sql := `SELECT ` + certColumns + ` FROM certificates
	         WHERE gauge_id = $1 AND is_current AND deleted_at IS NULL`
	if tx != nil {
		sql += " FOR UPDATE"
	}
	row := r.q(tx).QueryRow(ctx, sql, gaugeID)
	c, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load current certificate for gauge %d: %w", gaugeID, err)
	}
	return c, nil
}

// Supersede clears the current flag on the old certificate and stamps the
// supersession time. The replacement is inserted afterwards; the partial
// unique index on (gauge_id) WHERE is_current is checked per statement, so
// the old row has to stop being current before the new current row exists.
func (r *Certificates) Supersede(ctx context.Context, tx db.Tx, oldID int64, at time.Time) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE certificates
		    SET is_current = false, superseded_at = $2
		  WHERE id = $1 AND is_current`,
		oldID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to supersede certificate %d: %w", oldID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.Conflict(fmt.Sprintf("certificate %d is no longer current", oldID))
	}
	return nil
}

// LinkSuccessor records which certificate replaced a superseded one.
func (r *Certificates) LinkSuccessor(ctx context.Context, tx db.Tx, oldID, newID int64) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE certificates SET superseded_by = $2
		  WHERE id = $1 AND superseded_at IS NOT NULL`,
		oldID, newID,
	)
	if err != nil {
		return fmt.Errorf("failed to link successor of certificate %d: %w", oldID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.Conflict(fmt.Sprintf("certificate %d has not been superseded", oldID))
	}
	return nil
}

// ListFor returns the gauge's certificate chain in upload order.
func (r *Certificates) ListFor(ctx context.Context, gaugeID int64, includeDeleted bool) ([]*Certificate, error) {
	sql := `SELECT ` + certColumns + ` FROM certificates WHERE gauge_id = $1`
	if !includeDeleted {
		sql += ` AND deleted_at IS NULL`
	}
	sql += ` ORDER BY uploaded_at, id`

	rows, err := r.pg.Query(ctx, sql, gaugeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates for gauge %d: %w", gaugeID, err)
	}
	defer rows.Close()

	var certs []*Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate row: %w", err)
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

// Rename updates the certificate's custom display name.
func (r *Certificates) Rename(ctx context.Context, tx db.Tx, id int64, name string) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE certificates SET custom_name = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("failed to rename certificate %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("certificate", fmt.Sprintf("%d", id))
	}
	return nil
}

// SoftDelete marks the certificate deleted, preserving the supersession
// chain. A deleted current certificate never promotes a predecessor; the
// workflow layer decides how the gauge recovers.
func (r *Certificates) SoftDelete(ctx context.Context, tx db.Tx, id int64, at time.Time) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE certificates SET deleted_at = $2, is_current = false
		  WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to soft-delete certificate %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("certificate", fmt.Sprintf("%d", id))
	}
	return nil
}

func scanCertificate(row pgx.Row) (*Certificate, error) {
	c := &Certificate{}
	err := row.Scan(&c.ID, &c.GaugeID, &c.FileRef, &c.UploadedAt, &c.UploadedBy,
		&c.CustomName, &c.FileSize, &c.IsCurrent, &c.SupersededAt, &c.SupersededBy, &c.DeletedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
