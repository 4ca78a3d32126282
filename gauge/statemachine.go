package gauge

import (
	"github.com/7D-Solutions/gaugecore/core"
)

// The transition table governs every status change. Rows are the current
// status, columns the requested status. Entries present in the table are
// legal; most carry an additional precondition checked by Validate.
var transitions = map[Status]map[Status]bool{
	StatusAvailable: {
		StatusCheckedOut:        true,
		StatusOutForCalibration: true,
		StatusOutOfService:      true,
		StatusRetired:           true,
		StatusPendingQC:         true,
	},
	StatusCheckedOut: {
		StatusAvailable:    true,
		StatusOutOfService: true,
		StatusRetired:      true,
		StatusPendingQC:    true,
	},
	StatusOutForCalibration: {
		StatusPendingCert:  true,
		StatusOutOfService: true,
		StatusRetired:      true,
	},
	StatusPendingCert: {
		StatusPendingRelease: true,
		StatusOutOfService:   true,
		StatusRetired:        true,
	},
	StatusPendingRelease: {
		StatusAvailable:    true,
		StatusOutOfService: true,
		StatusRetired:      true,
	},
	StatusReturned: {
		StatusAvailable:    true,
		StatusOutOfService: true,
		StatusRetired:      true,
	},
	StatusPendingQC: {
		StatusAvailable:    true,
		StatusOutOfService: true,
		StatusRetired:      true,
	},
	StatusOutOfService: {
		StatusAvailable:         true,
		StatusOutForCalibration: true,
		StatusRetired:           true,
	},
	StatusInMaintenance: {
		StatusAvailable:    true,
		StatusOutOfService: true,
		StatusRetired:      true,
	},
	StatusRetired: {}, // terminal
}

// TransitionContext carries the facts a precondition needs. Callers gather
// these inside the operation's transaction so the checks observe the same
// snapshot the write will.
type TransitionContext struct {
	// ActorUserID is the verified caller performing the transition.
	ActorUserID string

	// InActiveBatch is true when the gauge is already a member of another
	// non-terminal calibration batch.
	InActiveBatch bool

	// CalibrationPassed is the batch operator's assertion when receiving a
	// gauge back from calibration.
	CalibrationPassed bool

	// HasCurrentCert is true when the gauge holds a certificate with
	// is_current = true.
	HasCurrentCert bool

	// Companion is the other set member, nil for unpaired gauges.
	Companion *Gauge

	// CompanionHasCurrentCert mirrors HasCurrentCert for the companion.
	CompanionHasCurrentCert bool

	// StorageLocation is the location supplied with a release, nil when the
	// caller retains the prior location.
	StorageLocation *string
}

// Legal reports whether from -> to appears in the transition table at all,
// ignoring preconditions.
func Legal(from, to Status) bool {
	return transitions[from][to]
}

// Validate checks that the requested transition is legal and that its
// preconditions hold. It does not mutate the gauge.
func Validate(g *Gauge, to Status, tc TransitionContext) error {
	if g.Status == to {
		return core.IllegalTransition(string(g.Status), string(to), "gauge already in requested status")
	}
	if !Legal(g.Status, to) {
		return core.IllegalTransition(string(g.Status), string(to), "transition not in table")
	}

	switch to {
	case StatusCheckedOut:
		if g.OwnershipType == OwnershipEmployee && g.OwnerUserID != nil && *g.OwnerUserID != tc.ActorUserID {
			return core.PreconditionFailed("gauge is employee-owned by another user")
		}
		if g.IsSealed && g.UnsealPending {
			return core.PreconditionFailed("gauge is sealed with a pending unseal request")
		}

	case StatusOutForCalibration:
		if tc.InActiveBatch {
			return core.PreconditionFailed("gauge is already in an active calibration batch")
		}
		if g.Status != StatusAvailable && g.Status != StatusOutOfService {
			return core.PreconditionFailed("gauge must be available or out of service to send for calibration")
		}

	case StatusPendingCert:
		if !tc.CalibrationPassed {
			return core.PreconditionFailed("calibration must be asserted as passed")
		}

	case StatusPendingRelease:
		if !tc.HasCurrentCert {
			return core.PreconditionFailed("gauge has no current certificate")
		}
		if g.IsPaired() {
			if tc.Companion == nil {
				return core.InvariantViolation("companion", "paired gauge has no companion record")
			}
			if !tc.CompanionHasCurrentCert || tc.Companion.Status != StatusPendingCert {
				return core.AwaitingCompanionCertificate(g.SerialNumber)
			}
		}

	case StatusAvailable:
		if g.Status == StatusPendingRelease {
			if tc.StorageLocation == nil && g.StorageLoc == nil {
				return core.PreconditionFailed("storage location required for release")
			}
		}
	}

	return nil
}

// Apply executes a validated transition, mutating the gauge in memory. The
// caller persists the result inside its transaction. Transition side
// effects live here so every path through the system applies them
// identically: receiving a passed calibration seals the gauge, releasing
// with a new location stores it.
func Apply(g *Gauge, to Status, tc TransitionContext) error {
	if err := Validate(g, to, tc); err != nil {
		return err
	}

	switch to {
	case StatusPendingCert:
		g.IsSealed = true
	case StatusAvailable:
		if g.Status == StatusPendingRelease && tc.StorageLocation != nil {
			g.StorageLoc = tc.StorageLocation
		}
	}

	g.Status = to
	return nil
}

// CohortFor computes the set of internal gauge ids that must transition
// together for a move to the given target status. Checkout, return, batch
// send/receive and release move the whole set; taking a single member out
// of service or retiring it moves only that member.
func CohortFor(g *Gauge, to Status) []int64 {
	switch to {
	case StatusOutOfService, StatusRetired, StatusPendingQC:
		return []int64{g.ID}
	}
	if g.CompanionID != nil {
		if *g.CompanionID < g.ID {
			// Ascending internal-id order fixes the lock acquisition order.
			return []int64{*g.CompanionID, g.ID}
		}
		return []int64{g.ID, *g.CompanionID}
	}
	return []int64{g.ID}
}

// CheckPairInvariant verifies the bidirectional pairing invariant between
// two gauges that claim to be companions. Violations indicate data
// corruption and are reported as invariant violations.
func CheckPairInvariant(a, b *Gauge) error {
	if a.CompanionID == nil || b.CompanionID == nil {
		return core.InvariantViolation("pairing", "companion pointer missing")
	}
	if *a.CompanionID != b.ID || *b.CompanionID != a.ID {
		return core.InvariantViolation("pairing", "companion pointers are not bidirectional")
	}
	if a.SetID() == "" || a.SetID() != b.SetID() {
		return core.InvariantViolation("pairing", "set members do not share a public set id")
	}
	if a.Suffix == nil || b.Suffix == nil || *a.Suffix == *b.Suffix {
		return core.InvariantViolation("pairing", "set members do not carry opposite suffixes")
	}
	return nil
}
