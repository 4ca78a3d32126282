// Package gauge defines the canonical in-memory shapes for measurement
// instruments and the state machine governing their lifecycle. Database row
// shapes never leak out of the store layer; every caller works with the
// normalized entities defined here.
package gauge

import (
	"strings"
	"time"
)

// EquipmentType classifies a gauge. The set is closed; inputs outside it
// are rejected before any write.
type EquipmentType string

const (
	EquipmentThreadGauge         EquipmentType = "thread_gauge"
	EquipmentHandTool            EquipmentType = "hand_tool"
	EquipmentLargeEquipment      EquipmentType = "large_equipment"
	EquipmentCalibrationStandard EquipmentType = "calibration_standard"
)

// ValidEquipmentType reports whether t is a member of the closed set.
func ValidEquipmentType(t EquipmentType) bool {
	switch t {
	case EquipmentThreadGauge, EquipmentHandTool, EquipmentLargeEquipment, EquipmentCalibrationStandard:
		return true
	}
	return false
}

// OwnershipType records who owns a gauge.
type OwnershipType string

const (
	OwnershipCompany  OwnershipType = "company"
	OwnershipEmployee OwnershipType = "employee"
	OwnershipCustomer OwnershipType = "customer"
)

// ValidOwnershipType reports whether t is a member of the closed set.
func ValidOwnershipType(t OwnershipType) bool {
	switch t {
	case OwnershipCompany, OwnershipEmployee, OwnershipCustomer:
		return true
	}
	return false
}

// Status is a gauge lifecycle state.
type Status string

const (
	StatusAvailable         Status = "available"
	StatusCheckedOut        Status = "checked_out"
	StatusOutForCalibration Status = "out_for_calibration"
	StatusPendingCert       Status = "pending_certificate"
	StatusPendingRelease    Status = "pending_release"
	StatusReturned          Status = "returned"
	StatusOutOfService      Status = "out_of_service"
	StatusRetired           Status = "retired"
	StatusPendingQC         Status = "pending_qc"
	StatusInMaintenance     Status = "in_maintenance"
)

// Suffix is the set-member letter: A for GO, B for NO-GO.
type Suffix string

const (
	SuffixGo   Suffix = "A"
	SuffixNoGo Suffix = "B"
)

// Opposite returns the other member's suffix.
func (s Suffix) Opposite() Suffix {
	if s == SuffixGo {
		return SuffixNoGo
	}
	return SuffixGo
}

// Gauge is the central entity. The internal ID is stable and never reused;
// the public GaugeID is nil for unpaired thread-gauge spares.
type Gauge struct {
	ID            int64          `json:"id"`
	GaugeID       *string        `json:"gauge_id,omitempty"`
	SerialNumber  string         `json:"serial_number"`
	EquipmentType EquipmentType  `json:"equipment_type"`
	CategoryID    *int64         `json:"category_id,omitempty"`
	OwnershipType OwnershipType  `json:"ownership_type"`
	OwnerUserID   *string        `json:"owner_user_id,omitempty"`
	Status        Status         `json:"status"`
	IsSealed      bool           `json:"is_sealed"`
	UnsealPending bool           `json:"unseal_pending"`
	StorageLoc    *string        `json:"storage_location,omitempty"`
	Manufacturer  string         `json:"manufacturer"`
	Model         string         `json:"model"`
	CalFrequency  int            `json:"calibration_frequency_days"`
	Suffix        *Suffix        `json:"gauge_suffix,omitempty"`
	CompanionID   *int64         `json:"companion_id,omitempty"`
	CustomName    *string        `json:"custom_name,omitempty"`
	Spec          *Specification `json:"specification,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SetID returns the shared public identifier of the set this gauge belongs
// to: the gauge_id with the trailing suffix letter stripped. For unpaired
// gauges it returns the public id unchanged, and "" when there is none.
func (g *Gauge) SetID() string {
	if g.GaugeID == nil {
		return ""
	}
	id := *g.GaugeID
	if g.Suffix != nil && len(id) > 0 && id[len(id)-1] == (*g.Suffix)[0] {
		return id[:len(id)-1]
	}
	return id
}

// IsPaired reports whether the gauge is a member of a thread-gauge set.
func (g *Gauge) IsPaired() bool {
	return g.CompanionID != nil
}

// IsSpare reports whether the gauge is an unpaired thread gauge identified
// only by serial number.
func (g *Gauge) IsSpare() bool {
	return g.EquipmentType == EquipmentThreadGauge && g.GaugeID == nil
}

// IsRetired reports whether the gauge has reached its terminal state.
func (g *Gauge) IsRetired() bool {
	return g.Status == StatusRetired
}

// Name returns the user-supplied custom name when present, otherwise the
// computed display name.
func (g *Gauge) Name() string {
	if g.CustomName != nil && *g.CustomName != "" {
		return *g.CustomName
	}
	return DisplayName(g)
}

// Specification is the per-equipment-type detail record, owned 1:1 by a
// gauge. Exactly one of the variant pointers is set, matching the gauge's
// equipment type.
type Specification struct {
	GaugeID  int64                    `json:"gauge_id"`
	Thread   *ThreadSpec              `json:"thread,omitempty"`
	HandTool *HandToolSpec            `json:"hand_tool,omitempty"`
	Large    *LargeEquipmentSpec      `json:"large_equipment,omitempty"`
	Standard *CalibrationStandardSpec `json:"calibration_standard,omitempty"`
}

// ThreadSpec describes a thread gauge.
type ThreadSpec struct {
	Size  string `json:"thread_size"`  // canonical decimal form, e.g. ".250-20"
	Form  string `json:"thread_form"`  // e.g. "UN", "UNJ"
	Class string `json:"thread_class"` // e.g. "2A", "3B"
}

// Matches reports whether two thread specs are interchangeable within a
// set: replacement members must agree on size, form and class.
func (s *ThreadSpec) Matches(other *ThreadSpec) bool {
	if other == nil {
		return false
	}
	return s.Size == other.Size && s.Form == other.Form && s.Class == other.Class
}

// HandToolSpec describes a hand tool with a measurement range.
type HandToolSpec struct {
	Format     string  `json:"tool_format"` // e.g. "caliper", "micrometer"
	RangeMin   float64 `json:"range_min"`
	RangeMax   float64 `json:"range_max"`
	RangeUnit  string  `json:"range_unit"` // inch, mm, deg, psi, bar, cm, ft
	Resolution string  `json:"resolution"`
	Accuracy   string  `json:"accuracy"`
}

// LargeEquipmentSpec describes large equipment.
type LargeEquipmentSpec struct {
	Type     string `json:"type"`
	Capacity string `json:"capacity,omitempty"`
}

// CalibrationStandardSpec describes a calibration standard.
type CalibrationStandardSpec struct {
	StandardType     string `json:"standard_type"`
	NominalValue     string `json:"nominal_value"`
	UncertaintyUnits string `json:"uncertainty_units"`
}

// Schedule is the per-gauge calibration schedule, derived from certificate
// uploads and the gauge's frequency.
type Schedule struct {
	GaugeID       int64      `json:"gauge_id"`
	NextDue       *time.Time `json:"next_due,omitempty"`
	FrequencyDays int        `json:"frequency_days"`
	LastCompleted *time.Time `json:"last_completed,omitempty"`
}

// Advance records a completed calibration and recomputes the next due date.
func (s *Schedule) Advance(completed time.Time) {
	s.LastCompleted = &completed
	if s.FrequencyDays > 0 {
		next := completed.AddDate(0, 0, s.FrequencyDays)
		s.NextDue = &next
	}
}

// NormalizeSerial uppercases and trims a serial number for storage. Serial
// numbers are free-form strings up to 64 characters, unique per equipment
// type among non-retired gauges.
func NormalizeSerial(serial string) string {
	return strings.ToUpper(strings.TrimSpace(serial))
}

// MaxSerialLength bounds serial number input.
const MaxSerialLength = 64
