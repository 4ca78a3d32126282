package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Schema models. GORM is used for migration only; the core's reads and
// writes go through pgx with explicit SQL (see repository package), so
// these structs carry tags but no behavior.

// GaugeModel is the gauges table.
type GaugeModel struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	GaugeID       *string `gorm:"column:gauge_id;size:32;index"`
	SerialNumber  string  `gorm:"size:64;index:idx_gauges_serial"`
	EquipmentType string  `gorm:"size:32;not null;index:idx_gauges_serial"`
	CategoryID    *int64
	OwnershipType string `gorm:"size:16;not null;default:company"`
	OwnerUserID   *string
	Status        string `gorm:"size:32;not null;default:available;index"`
	IsSealed      bool   `gorm:"not null;default:false"`
	UnsealPending bool   `gorm:"not null;default:false"`
	StorageLoc    *string
	Manufacturer  string  `gorm:"size:128"`
	Model         string  `gorm:"size:128"`
	CalFrequency  int     `gorm:"not null;default:365"`
	GaugeSuffix   *string `gorm:"size:1"`
	CompanionID   *int64  `gorm:"index"`
	CustomName    *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName overrides the GORM default.
func (GaugeModel) TableName() string { return "gauges" }

// ThreadSpecModel is the per-thread-gauge specification table.
type ThreadSpecModel struct {
	GaugeID     int64      `gorm:"primaryKey"`
	ThreadSize  string     `gorm:"size:32;not null;index"`
	ThreadForm  string     `gorm:"size:16;not null"`
	ThreadClass string     `gorm:"size:16;not null"`
	Gauge       GaugeModel `gorm:"foreignKey:GaugeID;constraint:OnDelete:CASCADE"`
}

func (ThreadSpecModel) TableName() string { return "thread_specifications" }

// HandToolSpecModel is the per-hand-tool specification table.
type HandToolSpecModel struct {
	GaugeID    int64      `gorm:"primaryKey"`
	ToolFormat string     `gorm:"size:64;not null"`
	RangeMin   float64    `gorm:"not null"`
	RangeMax   float64    `gorm:"not null"`
	RangeUnit  string     `gorm:"size:16;not null"`
	Resolution string     `gorm:"size:32"`
	Accuracy   string     `gorm:"size:32"`
	Gauge      GaugeModel `gorm:"foreignKey:GaugeID;constraint:OnDelete:CASCADE"`
}

func (HandToolSpecModel) TableName() string { return "hand_tool_specifications" }

// LargeEquipmentSpecModel is the per-large-equipment specification table.
type LargeEquipmentSpecModel struct {
	GaugeID  int64      `gorm:"primaryKey"`
	Type     string     `gorm:"size:64;not null"`
	Capacity string     `gorm:"size:64"`
	Gauge    GaugeModel `gorm:"foreignKey:GaugeID;constraint:OnDelete:CASCADE"`
}

func (LargeEquipmentSpecModel) TableName() string { return "large_equipment_specifications" }

// CalibrationStandardSpecModel is the per-standard specification table.
type CalibrationStandardSpecModel struct {
	GaugeID          int64      `gorm:"primaryKey"`
	StandardType     string     `gorm:"size:64;not null"`
	NominalValue     string     `gorm:"size:64"`
	UncertaintyUnits string     `gorm:"size:64"`
	Gauge            GaugeModel `gorm:"foreignKey:GaugeID;constraint:OnDelete:CASCADE"`
}

func (CalibrationStandardSpecModel) TableName() string { return "calibration_standard_specifications" }

// ScheduleModel is the calibration_schedules table, one row per gauge.
type ScheduleModel struct {
	GaugeID       int64 `gorm:"primaryKey"`
	NextDue       *time.Time
	FrequencyDays int `gorm:"not null;default:365"`
	LastCompleted *time.Time
	Gauge         GaugeModel `gorm:"foreignKey:GaugeID;constraint:OnDelete:CASCADE"`
}

func (ScheduleModel) TableName() string { return "calibration_schedules" }

// CertificateModel is the certificates table. The unique partial index on
// (gauge_id) WHERE is_current keeps at most one current certificate per gauge;
// it is created in Migrate because GORM tags cannot express partial
// indexes.
type CertificateModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	GaugeID      int64  `gorm:"not null;index"`
	FileRef      string `gorm:"size:512;not null"`
	UploadedAt   time.Time
	UploadedBy   string `gorm:"size:64;not null"`
	CustomName   *string
	FileSize     int64
	IsCurrent    bool `gorm:"not null;default:false"`
	SupersededAt *time.Time
	SupersededBy *int64
	DeletedAt    *time.Time `gorm:"index"`
}

func (CertificateModel) TableName() string { return "certificates" }

// ActiveCheckoutModel is the active_checkouts table. The unique index on
// gauge_id allows at most one active checkout per gauge; conflicting
// inserts surface as AlreadyCheckedOut.
type ActiveCheckoutModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	GaugeID   int64  `gorm:"uniqueIndex;not null"`
	UserID    string `gorm:"size:64;not null"`
	CheckedAt time.Time
	Notes     string
}

func (ActiveCheckoutModel) TableName() string { return "active_checkouts" }

// BatchModel is the calibration_batches table.
type BatchModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	BatchType      string `gorm:"size:16;not null"`
	Vendor         *string
	TrackingNumber *string
	Status         string `gorm:"size:32;not null;default:pending_send;index"`
	SentAt         *time.Time
	CreatedBy      string `gorm:"size:64;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchModel) TableName() string { return "calibration_batches" }

// BatchGaugeModel is the batch membership join table, unique per gauge per
// batch.
type BatchGaugeModel struct {
	BatchID    int64 `gorm:"primaryKey"`
	GaugeID    int64 `gorm:"primaryKey"`
	ReceivedAt *time.Time
	Passed     *bool
}

func (BatchGaugeModel) TableName() string { return "batch_gauges" }

// AuditEntryModel is the append-only audit log. Payloads are stored as
// bytea, not jsonb: the hash chain covers the exact payload bytes, and
// jsonb normalization (key reordering, whitespace, NULL coalescing) would
// change them between append and verification.
type AuditEntryModel struct {
	Seq        int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"not null;index"`
	ActorID    string    `gorm:"size:64;not null"`
	Action     string    `gorm:"size:64;not null;index"`
	EntityType string    `gorm:"size:32;not null;index:idx_audit_entity"`
	EntityID   string    `gorm:"size:64;not null;index:idx_audit_entity"`
	Before     []byte    `gorm:"type:bytea"`
	After      []byte    `gorm:"type:bytea"`
	PrevHash   string    `gorm:"size:64;not null"`
	Hash       string    `gorm:"size:64;not null"`
	Severity   string    `gorm:"size:16;not null;default:info"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }

// AuditChainTipModel is the single-row chain tip marker locked by every
// appender to linearize the hash chain.
type AuditChainTipModel struct {
	ID      int64  `gorm:"primaryKey"`
	LastSeq int64  `gorm:"not null"`
	Hash    string `gorm:"size:64;not null"`
}

func (AuditChainTipModel) TableName() string { return "audit_chain_tip" }

// SetIDHistoryModel records every public set id ever assigned.
type SetIDHistoryModel struct {
	SetID     string    `gorm:"primaryKey;size:32"`
	FirstUsed time.Time `gorm:"not null"`
	RetiredAt *time.Time
}

func (SetIDHistoryModel) TableName() string { return "set_id_history" }

// UserModel is a directory account.
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"size:255;uniqueIndex;not null"`
	DisplayName  string    `gorm:"size:255;not null"`
	Role         string    `gorm:"size:32;not null;index"`
	PasswordHash string    `gorm:"size:128;not null"`
	Active       bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

// Migrate runs schema migration against the given PostgreSQL URL.
func Migrate(pgURL string) error {
	gdb, err := gorm.Open(postgres.Open(pgURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database for migration: %w", err)
	}

	if err := gdb.AutoMigrate(
		&GaugeModel{},
		&ThreadSpecModel{},
		&HandToolSpecModel{},
		&LargeEquipmentSpecModel{},
		&CalibrationStandardSpecModel{},
		&ScheduleModel{},
		&CertificateModel{},
		&ActiveCheckoutModel{},
		&BatchModel{},
		&BatchGaugeModel{},
		&AuditEntryModel{},
		&AuditChainTipModel{},
		&SetIDHistoryModel{},
		&UserModel{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	// Partial unique indexes GORM tags cannot express: one current
	// certificate per gauge, and serial uniqueness among non-retired
	// gauges within an equipment type.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_current
		   ON certificates (gauge_id) WHERE is_current`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_gauges_serial_active
		   ON gauges (equipment_type, serial_number) WHERE status <> 'retired'`,
		`INSERT INTO audit_chain_tip (id, last_seq, hash)
		   VALUES (1, 0, '') ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("failed to access migration connection: %w", err)
	}
	return sqlDB.Close()
}
