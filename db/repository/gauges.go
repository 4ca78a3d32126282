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
	"github.com/7D-Solutions/gaugecore/gauge"
)

const gaugeColumns = `id, gauge_id, serial_number, equipment_type, category_id,
	ownership_type, owner_user_id, status, is_sealed, unseal_pending, storage_loc,
	manufacturer, model, cal_frequency, gauge_suffix, companion_id, custom_name,
	created_at, updated_at`

// Create inserts a gauge with its specification. Write invariants are
// enforced here: thread gauges require a serial number, and the partial
// unique index on (equipment_type, serial_number) rejects duplicates among
// non-retired gauges.
func (r *Gauges) Create(ctx context.Context, tx db.Tx, g *gauge.Gauge) (*gauge.Gauge, error) {
	if g.EquipmentType == gauge.EquipmentThreadGauge && g.SerialNumber == "" {
		return nil, core.Validation("serial_number", "thread gauges require a serial number")
	}
	if !gauge.ValidEquipmentType(g.EquipmentType) {
		return nil, core.Validation("equipment_type", fmt.Sprintf("unknown equipment type %q", g.EquipmentType))
	}
	if g.OwnershipType == "" {
		g.OwnershipType = gauge.OwnershipCompany
	}
	if !gauge.ValidOwnershipType(g.OwnershipType) {
		return nil, core.Validation("ownership_type", fmt.Sprintf("unknown ownership type %q", g.OwnershipType))
	}
	if len(g.SerialNumber) > gauge.MaxSerialLength {
		return nil, core.Validation("serial_number", "serial number exceeds 64 characters")
	}
	g.SerialNumber = gauge.NormalizeSerial(g.SerialNumber)
	if g.Status == "" {
		g.Status = gauge.StatusAvailable
	}

	now := time.Now().UTC()
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO gauges
		   (gauge_id, serial_number, equipment_type, category_id, ownership_type,
		    owner_user_id, status, is_sealed, unseal_pending, storage_loc,
		    manufacturer, model, cal_frequency, gauge_suffix, companion_id,
		    custom_name, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
		 RETURNING id`,
		g.GaugeID, g.SerialNumber, string(g.EquipmentType), g.CategoryID,
		string(g.OwnershipType), g.OwnerUserID, string(g.Status), g.IsSealed,
		g.UnsealPending, g.StorageLoc, g.Manufacturer, g.Model, g.CalFrequency,
		suffixString(g.Suffix), g.CompanionID, g.CustomName, now,
	).Scan(&g.ID)
	if err != nil {
		return nil, classifyGaugeWriteError(err)
	}
	g.CreatedAt = now
	g.UpdatedAt = now

	if g.Spec != nil {
		g.Spec.GaugeID = g.ID
		if err := r.insertSpec(ctx, tx, g); err != nil {
			return nil, err
		}
	}

	// One schedule row per gauge, seeded from the gauge's frequency.
	_, err = r.q(tx).Exec(ctx,
		`INSERT INTO calibration_schedules (gauge_id, frequency_days)
		 VALUES ($1, $2) ON CONFLICT (gauge_id) DO NOTHING`,
		g.ID, g.CalFrequency,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to seed calibration schedule: %w", err)
	}

	return g, nil
}

func (r *Gauges) insertSpec(ctx context.Context, tx db.Tx, g *gauge.Gauge) error {
	var err error
	switch {
	case g.Spec.Thread != nil:
		canonical, cerr := gauge.CanonicalThreadSize(g.Spec.Thread.Size)
		if cerr != nil {
			return core.Validation("thread_size", cerr.Error())
		}
		g.Spec.Thread.Size = canonical
		_, err = r.q(tx).Exec(ctx,
			`INSERT INTO thread_specifications (gauge_id, thread_size, thread_form, thread_class)
			 VALUES ($1, $2, $3, $4)`,
			g.ID, g.Spec.Thread.Size, g.Spec.Thread.Form, g.Spec.Thread.Class)
	case g.Spec.HandTool != nil:
		s := g.Spec.HandTool
		_, err = r.q(tx).Exec(ctx,
			`INSERT INTO hand_tool_specifications
			   (gauge_id, tool_format, range_min, range_max, range_unit, resolution, accuracy)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			g.ID, s.Format, s.RangeMin, s.RangeMax, s.RangeUnit, s.Resolution, s.Accuracy)
	case g.Spec.Large != nil:
		_, err = r.q(tx).Exec(ctx,
			`INSERT INTO large_equipment_specifications (gauge_id, type, capacity)
			 VALUES ($1, $2, $3)`,
			g.ID, g.Spec.Large.Type, g.Spec.Large.Capacity)
	case g.Spec.Standard != nil:
		s := g.Spec.Standard
		_, err = r.q(tx).Exec(ctx,
			`INSERT INTO calibration_standard_specifications
			   (gauge_id, standard_type, nominal_value, uncertainty_units)
			 VALUES ($1, $2, $3, $4)`,
			g.ID, s.StandardType, s.NominalValue, s.UncertaintyUnits)
	}
	if err != nil {
		return fmt.Errorf("failed to insert specification for gauge %d: %w", g.ID, err)
	}
	return nil
}

// FindByID returns the fully hydrated gauge.
func (r *Gauges) FindByID(ctx context.Context, tx db.Tx, id int64) (*gauge.Gauge, error) {
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+gaugeColumns+` FROM gauges WHERE id = $1`, id)
	g, err := scanGauge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NotFound("gauge", fmt.Sprintf("%d", id))
		}
		return nil, err
	}
	if err := r.loadSpec(ctx, tx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// FindBySerial resolves a non-retired gauge by equipment type and serial.
func (r *Gauges) FindBySerial(ctx context.Context, tx db.Tx, et gauge.EquipmentType, serial string) (*gauge.Gauge, error) {
	serial = gauge.NormalizeSerial(serial)
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+gaugeColumns+` FROM gauges
		  WHERE equipment_type = $1 AND serial_number = $2 AND status <> 'retired'`,
		string(et), serial)
	g, err := scanGauge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NotFound("gauge", serial)
		}
		return nil, err
	}
	if err := r.loadSpec(ctx, tx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// FindByPublicID returns all gauges whose public id belongs to the given
// set id, including suffixed members of a thread set.
func (r *Gauges) FindByPublicID(ctx context.Context, tx db.Tx, setID string) ([]*gauge.Gauge, error) {
	rows, err := r.q(tx).Query(ctx,
		`SELECT `+gaugeColumns+` FROM gauges
		  WHERE gauge_id = $1 OR gauge_id = $1 || 'A' OR gauge_id = $1 || 'B'
		  ORDER BY gauge_suffix NULLS FIRST`,
		setID)
	if err != nil {
		return nil, fmt.Errorf("failed to query gauges by public id: %w", err)
	}
	defer rows.Close()

	gauges, err := scanGauges(rows)
	if err != nil {
		return nil, err
	}
	for _, g := range gauges {
		if err := r.loadSpec(ctx, tx, g); err != nil {
			return nil, err
		}
	}
	return gauges, nil
}

// FindSpareThreadGauges lists available spares matching the thread filter.
// A spare is a thread gauge with no public id.
func (r *Gauges) FindSpareThreadGauges(ctx context.Context, tx db.Tx, f SpareFilter) ([]*gauge.Gauge, error) {
	sql := `SELECT ` + prefixedGaugeColumns("g") + `
	          FROM gauges g
	          JOIN thread_specifications ts ON ts.gauge_id = g.id
	         WHERE g.equipment_type = 'thread_gauge'
	           AND g.gauge_id IS NULL
	           AND g.status = 'available'`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ThreadSize != "" {
		sql += " AND ts.thread_size = " + arg(f.ThreadSize)
	}
	if f.ThreadForm != "" {
		sql += " AND ts.thread_form = " + arg(f.ThreadForm)
	}
	if f.ThreadClass != "" {
		sql += " AND ts.thread_class = " + arg(f.ThreadClass)
	}
	sql += " ORDER BY g.serial_number"

	rows, err := r.q(tx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spare thread gauges: %w", err)
	}
	defer rows.Close()

	gauges, err := scanGauges(rows)
	if err != nil {
		return nil, err
	}
	for _, g := range gauges {
		if err := r.loadSpec(ctx, tx, g); err != nil {
			return nil, err
		}
	}
	return gauges, nil
}

// List returns gauges matching the filter, without specifications.
func (r *Gauges) List(ctx context.Context, f GaugeListFilter) ([]*gauge.Gauge, error) {
	sql := `SELECT ` + gaugeColumns + ` FROM gauges WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EquipmentType != "" {
		sql += " AND equipment_type = " + arg(string(f.EquipmentType))
	}
	if f.Status != "" {
		sql += " AND status = " + arg(string(f.Status))
	}
	if f.OwnershipType != "" {
		sql += " AND ownership_type = " + arg(string(f.OwnershipType))
	}
	if f.SetID != "" {
		sql += " AND (gauge_id = " + arg(f.SetID) + " OR gauge_id LIKE " + arg(f.SetID+"_") + ")"
	}
	sql += " ORDER BY id"
	if f.Limit > 0 {
		sql += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		sql += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.pg.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gauges: %w", err)
	}
	defer rows.Close()
	return scanGauges(rows)
}

// Update persists the gauge's mutable fields.
func (r *Gauges) Update(ctx context.Context, tx db.Tx, g *gauge.Gauge) error {
	tag, err := r.q(tx).Exec(ctx,
		`UPDATE gauges SET
		   gauge_id = $2, serial_number = $3, category_id = $4,
		   ownership_type = $5, owner_user_id = $6, status = $7,
		   is_sealed = $8, unseal_pending = $9, storage_loc = $10,
		   manufacturer = $11, model = $12, cal_frequency = $13,
		   gauge_suffix = $14, companion_id = $15, custom_name = $16,
		   updated_at = now()
		 WHERE id = $1`,
		g.ID, g.GaugeID, g.SerialNumber, g.CategoryID, string(g.OwnershipType),
		g.OwnerUserID, string(g.Status), g.IsSealed, g.UnsealPending,
		g.StorageLoc, g.Manufacturer, g.Model, g.CalFrequency,
		suffixString(g.Suffix), g.CompanionID, g.CustomName,
	)
	if err != nil {
		return classifyGaugeWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("gauge", fmt.Sprintf("%d", g.ID))
	}
	return nil
}

// Lock acquires row locks on the given internal ids in ascending order.
func (r *Gauges) Lock(ctx context.Context, tx db.Tx, ids []int64) error {
	return db.LockRows(ctx, tx, "gauges", ids)
}

func (r *Gauges) loadSpec(ctx context.Context, tx db.Tx, g *gauge.Gauge) error {
	spec := &gauge.Specification{GaugeID: g.ID}
	var err error
	switch g.EquipmentType {
	case gauge.EquipmentThreadGauge:
		t := &gauge.ThreadSpec{}
		err = r.q(tx).QueryRow(ctx,
			`SELECT thread_size, thread_form, thread_class
			   FROM thread_specifications WHERE gauge_id = $1`, g.ID,
		).Scan(&t.Size, &t.Form, &t.Class)
		spec.Thread = t
	case gauge.EquipmentHandTool:
		h := &gauge.HandToolSpec{}
		err = r.q(tx).QueryRow(ctx,
			`SELECT tool_format, range_min, range_max, range_unit, resolution, accuracy
			   FROM hand_tool_specifications WHERE gauge_id = $1`, g.ID,
		).Scan(&h.Format, &h.RangeMin, &h.RangeMax, &h.RangeUnit, &h.Resolution, &h.Accuracy)
		spec.HandTool = h
	case gauge.EquipmentLargeEquipment:
		l := &gauge.LargeEquipmentSpec{}
		err = r.q(tx).QueryRow(ctx,
			`SELECT type, capacity FROM large_equipment_specifications WHERE gauge_id = $1`, g.ID,
		).Scan(&l.Type, &l.Capacity)
		spec.Large = l
	case gauge.EquipmentCalibrationStandard:
		s := &gauge.CalibrationStandardSpec{}
		err = r.q(tx).QueryRow(ctx,
			`SELECT standard_type, nominal_value, uncertainty_units
			   FROM calibration_standard_specifications WHERE gauge_id = $1`, g.ID,
		).Scan(&s.StandardType, &s.NominalValue, &s.UncertaintyUnits)
		spec.Standard = s
	default:
		return nil
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil // gauge without a specification row
		}
		return fmt.Errorf("failed to load specification for gauge %d: %w", g.ID, err)
	}
	g.Spec = spec
	return nil
}

// scanGauge normalizes one row into the canonical entity. Integer flags
// arrive as booleans from pgx; enum strings are converted to their typed
// forms here so raw row shapes never escape.
func scanGauge(row pgx.Row) (*gauge.Gauge, error) {
	g := &gauge.Gauge{}
	var equipmentType, ownershipType, status string
	var suffix *string
	err := row.Scan(&g.ID, &g.GaugeID, &g.SerialNumber, &equipmentType,
		&g.CategoryID, &ownershipType, &g.OwnerUserID, &status, &g.IsSealed,
		&g.UnsealPending, &g.StorageLoc, &g.Manufacturer, &g.Model,
		&g.CalFrequency, &suffix, &g.CompanionID, &g.CustomName,
		&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.EquipmentType = gauge.EquipmentType(equipmentType)
	g.OwnershipType = gauge.OwnershipType(ownershipType)
	g.Status = gauge.Status(status)
	if suffix != nil {
		s := gauge.Suffix(*suffix)
		g.Suffix = &s
	}
	return g, nil
}

func scanGauges(rows pgx.Rows) ([]*gauge.Gauge, error) {
	var gauges []*gauge.Gauge
	for rows.Next() {
		g, err := scanGauge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gauge row: %w", err)
		}
		gauges = append(gauges, g)
	}
	return gauges, rows.Err()
}

func suffixString(s *gauge.Suffix) *string {
	if s == nil {
		return nil
	}
	str := string(*s)
	return &str
}

func prefixedGaugeColumns(alias string) string {
	return alias + `.id, ` + alias + `.gauge_id, ` + alias + `.serial_number, ` +
		alias + `.equipment_type, ` + alias + `.category_id, ` + alias + `.ownership_type, ` +
		alias + `.owner_user_id, ` + alias + `.status, ` + alias + `.is_sealed, ` +
		alias + `.unseal_pending, ` + alias + `.storage_loc, ` + alias + `.manufacturer, ` +
		alias + `.model, ` + alias + `.cal_frequency, ` + alias + `.gauge_suffix, ` +
		alias + `.companion_id, ` + alias + `.custom_name, ` + alias + `.created_at, ` +
		alias + `.updated_at`
}

// classifyGaugeWriteError converts constraint violations into the core
// taxonomy: serial uniqueness maps to Conflict.
func classifyGaugeWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "idx_gauges_serial_active" {
			return core.Conflict("serial number already in use within equipment type")
		}
		return core.Conflict(pgErr.Detail)
	}
	return fmt.Errorf("gauge write failed: %w", err)
}
