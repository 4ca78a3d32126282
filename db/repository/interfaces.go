// Package repository provides typed persistence for the gauge lifecycle
// core over PostgreSQL. Each repository converts between raw row shapes and
// the canonical in-memory entities exactly once, at the read boundary; raw
// rows never leak to callers.
//
// Every method that writes takes an explicit transaction handle. Reads
// accept a nil handle and fall back to the pool, so point reads outside a
// workflow do not pay for a transaction.
package repository

import (
	"context"
	"time"

	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/gauge"
)

// Certificate records one calibration event for a gauge. At most one
// certificate per gauge is current; superseded certificates link forward to
// their replacement.
type Certificate struct {
	ID           int64      `json:"id"`
	GaugeID      int64      `json:"gauge_id"`
	FileRef      string     `json:"file_ref"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	UploadedBy   string     `json:"uploaded_by"`
	CustomName   *string    `json:"custom_name,omitempty"`
	FileSize     int64      `json:"file_size"`
	IsCurrent    bool       `json:"is_current"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	SupersededBy *int64     `json:"superseded_by,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// ActiveCheckout is the single active checkout row for a checked-out gauge.
type ActiveCheckout struct {
	ID        int64     `json:"id"`
	GaugeID   int64     `json:"gauge_id"`
	UserID    string    `json:"user_id"`
	CheckedAt time.Time `json:"checked_at"`
	Notes     string    `json:"notes"`
}

// BatchType distinguishes internal from external calibration batches.
type BatchType string

const (
	BatchInternal BatchType = "internal"
	BatchExternal BatchType = "external"
)

// BatchStatus is the calibration batch lifecycle state.
type BatchStatus string

const (
	BatchPendingSend       BatchStatus = "pending_send"
	BatchSent              BatchStatus = "sent"
	BatchPartiallyReceived BatchStatus = "partially_received"
	BatchCompleted         BatchStatus = "completed"
	BatchCancelled         BatchStatus = "cancelled"
)

// Terminal reports whether the batch can no longer change.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchCancelled
}

// Batch is a calibration batch.
type Batch struct {
	ID             int64       `json:"id"`
	Type           BatchType   `json:"type"`
	Vendor         *string     `json:"vendor,omitempty"`
	TrackingNumber *string     `json:"tracking_number,omitempty"`
	Status         BatchStatus `json:"status"`
	SentAt         *time.Time  `json:"sent_at,omitempty"`
	CreatedBy      string      `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
}

// BatchMember is one gauge's membership in a batch.
type BatchMember struct {
	BatchID    int64      `json:"batch_id"`
	GaugeID    int64      `json:"gauge_id"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	Passed     *bool      `json:"passed,omitempty"`
}

// User is a directory account referenced by checkouts, ownership and the
// audit trail.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// SetIDRecord is one row of the set-id history ledger.
type SetIDRecord struct {
	SetID     string     `json:"set_id"`
	FirstUsed time.Time  `json:"first_used"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// SpareFilter narrows spare thread gauge lookups by thread specification.
type SpareFilter struct {
	ThreadSize  string
	ThreadForm  string
	ThreadClass string
}

// GaugeListFilter narrows gauge listings.
type GaugeListFilter struct {
	EquipmentType gauge.EquipmentType
	Status        gauge.Status
	OwnershipType gauge.OwnershipType
	SetID         string
	Limit         int
	Offset        int
}

// GaugeRepository persists gauges and their specifications.
type GaugeRepository interface {
	// Create inserts a gauge with its specification, enforcing the write
	// invariants (thread gauges require a serial; serial unique among
	// non-retired gauges within an equipment type).
	Create(ctx context.Context, tx db.Tx, g *gauge.Gauge) (*gauge.Gauge, error)

	// FindByID returns the fully hydrated gauge.
	FindByID(ctx context.Context, tx db.Tx, id int64) (*gauge.Gauge, error)

	// FindBySerial resolves a gauge by equipment type and serial number
	// among non-retired gauges. Used primarily for thread-gauge spares.
	FindBySerial(ctx context.Context, tx db.Tx, et gauge.EquipmentType, serial string) (*gauge.Gauge, error)

	// FindByPublicID returns the gauges carrying the public id: one for
	// non-thread gauges, up to two (A and B) for thread sets.
	FindByPublicID(ctx context.Context, tx db.Tx, setID string) ([]*gauge.Gauge, error)

	// FindSpareThreadGauges lists available spares matching the filter.
	FindSpareThreadGauges(ctx context.Context, tx db.Tx, f SpareFilter) ([]*gauge.Gauge, error)

	// List returns gauges matching the filter.
	List(ctx context.Context, f GaugeListFilter) ([]*gauge.Gauge, error)

	// Update persists the gauge's mutable fields.
	Update(ctx context.Context, tx db.Tx, g *gauge.Gauge) error

	// Lock acquires row locks on the given internal ids, which must be in
	// ascending order.
	Lock(ctx context.Context, tx db.Tx, ids []int64) error
}

// CertificateRepository persists the per-gauge certificate chain.
type CertificateRepository interface {
	Insert(ctx context.Context, tx db.Tx, c *Certificate) (*Certificate, error)
	Get(ctx context.Context, tx db.Tx, id int64) (*Certificate, error)

	// CurrentFor returns the current certificate for a gauge, or nil.
	CurrentFor(ctx context.Context, tx db.Tx, gaugeID int64) (*Certificate, error)

	// Supersede clears the current flag on the old certificate. It must
	// run before the replacement is inserted; the partial unique index on
	// (gauge_id) WHERE is_current is checked per statement.
	Supersede(ctx context.Context, tx db.Tx, oldID int64, at time.Time) error

	// LinkSuccessor records which certificate replaced a superseded one.
	LinkSuccessor(ctx context.Context, tx db.Tx, oldID, newID int64) error

	// ListFor returns the full chain in upload order, excluding
	// soft-deleted certificates unless includeDeleted is set.
	ListFor(ctx context.Context, gaugeID int64, includeDeleted bool) ([]*Certificate, error)

	Rename(ctx context.Context, tx db.Tx, id int64, name string) error
	SoftDelete(ctx context.Context, tx db.Tx, id int64, at time.Time) error
}

// CheckoutRepository persists active checkouts.
type CheckoutRepository interface {
	// Insert creates the active checkout row. A conflicting insert on the
	// gauge's unique index surfaces as AlreadyCheckedOut.
	Insert(ctx context.Context, tx db.Tx, ac *ActiveCheckout) (*ActiveCheckout, error)

	FindByGauge(ctx context.Context, tx db.Tx, gaugeID int64) (*ActiveCheckout, error)
	DeleteForGauges(ctx context.Context, tx db.Tx, gaugeIDs []int64) error
	UpdateHolder(ctx context.Context, tx db.Tx, gaugeID int64, newUserID string) error
}

// BatchRepository persists calibration batches and their membership.
type BatchRepository interface {
	Create(ctx context.Context, tx db.Tx, b *Batch) (*Batch, error)
	Get(ctx context.Context, tx db.Tx, id int64) (*Batch, error)
	List(ctx context.Context, statuses []BatchStatus) ([]*Batch, error)
	UpdateStatus(ctx context.Context, tx db.Tx, id int64, status BatchStatus, sentAt *time.Time) error

	AddMember(ctx context.Context, tx db.Tx, batchID, gaugeID int64) error
	RemoveMember(ctx context.Context, tx db.Tx, batchID, gaugeID int64) error
	Members(ctx context.Context, tx db.Tx, batchID int64) ([]*BatchMember, error)
	MarkReceived(ctx context.Context, tx db.Tx, batchID, gaugeID int64, passed bool, at time.Time) error

	// ActiveBatchFor returns the id of the non-terminal batch containing
	// the gauge, or 0 when there is none.
	ActiveBatchFor(ctx context.Context, tx db.Tx, gaugeID int64) (int64, error)
}

// SetIDRepository persists the set-id history ledger.
type SetIDRepository interface {
	// Exists reports whether the set id has ever been used. The row, when
	// present, is locked for the transaction's duration.
	Exists(ctx context.Context, tx db.Tx, setID string) (bool, error)

	// Insert claims a set id, recording its first use.
	Insert(ctx context.Context, tx db.Tx, setID string, firstUsed time.Time) error

	// Retire stamps the retirement time on a set id.
	Retire(ctx context.Context, tx db.Tx, setID string, at time.Time) error

	// MaxNumericSuffix returns the highest numeric suffix among ids with
	// the given prefix, across both history and live gauges. The id
	// allocator starts its candidate search above it.
	MaxNumericSuffix(ctx context.Context, tx db.Tx, prefix string) (int, error)

	History(ctx context.Context) ([]*SetIDRecord, error)
}

// UserRepository persists directory accounts. It also serves as the
// authority for admin-removal checks.
type UserRepository interface {
	Create(ctx context.Context, tx db.Tx, u *User) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateRole(ctx context.Context, tx db.Tx, id, role string) error

	// IsSystemAdmin reports whether the user holds the system admin role.
	IsSystemAdmin(ctx context.Context, userID string) (bool, error)

	// CountSystemAdmins counts active system admins.
	CountSystemAdmins(ctx context.Context) (int, error)
}
