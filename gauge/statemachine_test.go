package gauge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7D-Solutions/gaugecore/core"
)

func int64ptr(v int64) *int64 { return &v }

func testGauge(status Status) *Gauge {
	return &Gauge{
		ID:            1,
		SerialNumber:  "ABC123",
		EquipmentType: EquipmentThreadGauge,
		OwnershipType: OwnershipCompany,
		Status:        status,
	}
}

// TestLegal_TransitionTable spot-checks the transition table against the
// lifecycle rules.
func TestLegal_TransitionTable(t *testing.T) {
	assert.True(t, Legal(StatusAvailable, StatusCheckedOut))
	assert.True(t, Legal(StatusAvailable, StatusOutForCalibration))
	assert.True(t, Legal(StatusOutForCalibration, StatusPendingCert))
	assert.True(t, Legal(StatusPendingCert, StatusPendingRelease))
	assert.True(t, Legal(StatusPendingRelease, StatusAvailable))
	assert.True(t, Legal(StatusReturned, StatusAvailable))
	assert.True(t, Legal(StatusOutOfService, StatusOutForCalibration))

	// Retired is terminal.
	assert.False(t, Legal(StatusRetired, StatusAvailable))
	assert.False(t, Legal(StatusRetired, StatusCheckedOut))

	// No shortcuts through the calibration workflow.
	assert.False(t, Legal(StatusAvailable, StatusPendingCert))
	assert.False(t, Legal(StatusOutForCalibration, StatusAvailable))
	assert.False(t, Legal(StatusCheckedOut, StatusOutForCalibration))
}

// TestValidate_SelfTransition rejects a no-op transition.
func TestValidate_SelfTransition(t *testing.T) {
	g := testGauge(StatusAvailable)
	err := Validate(g, StatusAvailable, TransitionContext{})
	require.Error(t, err)
	assert.Equal(t, core.KindIllegalTransition, core.KindOf(err))
}

// TestValidate_CheckoutPreconditions validates the checkout eligibility rules.
func TestValidate_CheckoutPreconditions(t *testing.T) {
	t.Run("EmployeeOwnedByAnother", func(t *testing.T) {
		g := testGauge(StatusAvailable)
		g.OwnershipType = OwnershipEmployee
		owner := "user-1"
		g.OwnerUserID = &owner

		err := Validate(g, StatusCheckedOut, TransitionContext{ActorUserID: "user-2"})
		require.Error(t, err)
		assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	})

	t.Run("EmployeeOwnedBySelf", func(t *testing.T) {
		g := testGauge(StatusAvailable)
		g.OwnershipType = OwnershipEmployee
		owner := "user-1"
		g.OwnerUserID = &owner

		assert.NoError(t, Validate(g, StatusCheckedOut, TransitionContext{ActorUserID: "user-1"}))
	})

	t.Run("SealedWithPendingUnseal", func(t *testing.T) {
		g := testGauge(StatusAvailable)
		g.IsSealed = true
		g.UnsealPending = true

		err := Validate(g, StatusCheckedOut, TransitionContext{ActorUserID: "user-1"})
		require.Error(t, err)
		assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	})

	t.Run("SealedWithoutPendingUnseal", func(t *testing.T) {
		g := testGauge(StatusAvailable)
		g.IsSealed = true

		assert.NoError(t, Validate(g, StatusCheckedOut, TransitionContext{ActorUserID: "user-1"}))
	})
}

// TestValidate_BatchSendPreconditions validates the out_for_calibration rules.
func TestValidate_BatchSendPreconditions(t *testing.T) {
	g := testGauge(StatusAvailable)

	err := Validate(g, StatusOutForCalibration, TransitionContext{InActiveBatch: true})
	require.Error(t, err)
	assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))

	assert.NoError(t, Validate(g, StatusOutForCalibration, TransitionContext{}))

	g.Status = StatusOutOfService
	assert.NoError(t, Validate(g, StatusOutForCalibration, TransitionContext{}))
}

// TestApply_ReceiveSealsGauge validates that a passed calibration seals the
// gauge as part of the transition to pending_certificate.
func TestApply_ReceiveSealsGauge(t *testing.T) {
	g := testGauge(StatusOutForCalibration)
	require.False(t, g.IsSealed)

	err := Apply(g, StatusPendingCert, TransitionContext{CalibrationPassed: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingCert, g.Status)
	assert.True(t, g.IsSealed)
}

// TestApply_ReceiveFailedCalibration rejects sealing without the operator's
// assertion.
func TestApply_ReceiveFailedCalibration(t *testing.T) {
	g := testGauge(StatusOutForCalibration)
	err := Apply(g, StatusPendingCert, TransitionContext{CalibrationPassed: false})
	require.Error(t, err)
	assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	assert.Equal(t, StatusOutForCalibration, g.Status)
	assert.False(t, g.IsSealed)
}

// TestValidate_PendingReleasePaired validates the companion certificate gate.
func TestValidate_PendingReleasePaired(t *testing.T) {
	g := testGauge(StatusPendingCert)
	g.GaugeID = strptr("SP0222A")
	g.CompanionID = int64ptr(2)
	companion := testGauge(StatusPendingCert)
	companion.ID = 2
	companion.GaugeID = strptr("SP0222B")
	companion.CompanionID = int64ptr(1)

	t.Run("CompanionMissingCert", func(t *testing.T) {
		err := Validate(g, StatusPendingRelease, TransitionContext{
			HasCurrentCert:          true,
			Companion:               companion,
			CompanionHasCurrentCert: false,
		})
		require.Error(t, err)
		assert.Equal(t, core.KindAwaitingCompanionCert, core.KindOf(err))
	})

	t.Run("CompanionNotPendingCert", func(t *testing.T) {
		stale := testGauge(StatusOutForCalibration)
		stale.ID = 2
		err := Validate(g, StatusPendingRelease, TransitionContext{
			HasCurrentCert:          true,
			Companion:               stale,
			CompanionHasCurrentCert: true,
		})
		require.Error(t, err)
		assert.Equal(t, core.KindAwaitingCompanionCert, core.KindOf(err))
	})

	t.Run("BothReady", func(t *testing.T) {
		assert.NoError(t, Validate(g, StatusPendingRelease, TransitionContext{
			HasCurrentCert:          true,
			Companion:               companion,
			CompanionHasCurrentCert: true,
		}))
	})
}

// TestApply_ReleaseStorageLocation validates the release location rules.
func TestApply_ReleaseStorageLocation(t *testing.T) {
	t.Run("RequiresLocation", func(t *testing.T) {
		g := testGauge(StatusPendingRelease)
		err := Apply(g, StatusAvailable, TransitionContext{})
		require.Error(t, err)
		assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	})

	t.Run("NewLocationSupplied", func(t *testing.T) {
		g := testGauge(StatusPendingRelease)
		loc := "A1"
		require.NoError(t, Apply(g, StatusAvailable, TransitionContext{StorageLocation: &loc}))
		require.NotNil(t, g.StorageLoc)
		assert.Equal(t, "A1", *g.StorageLoc)
	})

	t.Run("PriorLocationRetained", func(t *testing.T) {
		g := testGauge(StatusPendingRelease)
		prior := "B2"
		g.StorageLoc = &prior
		require.NoError(t, Apply(g, StatusAvailable, TransitionContext{}))
		assert.Equal(t, "B2", *g.StorageLoc)
	})
}

// TestCohortFor validates cohort computation and lock ordering.
func TestCohortFor(t *testing.T) {
	g := testGauge(StatusAvailable)
	g.ID = 5
	g.CompanionID = int64ptr(3)

	// Paired moves travel together, ascending by internal id.
	assert.Equal(t, []int64{3, 5}, CohortFor(g, StatusCheckedOut))
	assert.Equal(t, []int64{3, 5}, CohortFor(g, StatusOutForCalibration))

	// Out-of-service and retirement move only the requested member.
	assert.Equal(t, []int64{5}, CohortFor(g, StatusOutOfService))
	assert.Equal(t, []int64{5}, CohortFor(g, StatusRetired))

	g.CompanionID = nil
	assert.Equal(t, []int64{5}, CohortFor(g, StatusCheckedOut))
}

// TestCheckPairInvariant validates corruption detection on companion pairs.
func TestCheckPairInvariant(t *testing.T) {
	a := testGauge(StatusAvailable)
	a.ID = 1
	a.GaugeID = strptr("SP0222A")
	a.Suffix = suffixptr(SuffixGo)
	a.CompanionID = int64ptr(2)

	b := testGauge(StatusAvailable)
	b.ID = 2
	b.GaugeID = strptr("SP0222B")
	b.Suffix = suffixptr(SuffixNoGo)
	b.CompanionID = int64ptr(1)

	assert.NoError(t, CheckPairInvariant(a, b))

	t.Run("MismatchedPointers", func(t *testing.T) {
		bad := *b
		bad.CompanionID = int64ptr(9)
		err := CheckPairInvariant(a, &bad)
		require.Error(t, err)
		assert.Equal(t, core.KindInvariantViolation, core.KindOf(err))
	})

	t.Run("DifferentSetIDs", func(t *testing.T) {
		bad := *b
		bad.GaugeID = strptr("SP0223B")
		assert.Error(t, CheckPairInvariant(a, &bad))
	})

	t.Run("SameSuffix", func(t *testing.T) {
		bad := *b
		bad.GaugeID = strptr("SP0222A")
		bad.Suffix = suffixptr(SuffixGo)
		assert.Error(t, CheckPairInvariant(a, &bad))
	})
}

// TestErrorKinds_RoundTrip validates errors.Is matching on kinds.
func TestErrorKinds_RoundTrip(t *testing.T) {
	err := Validate(testGauge(StatusRetired), StatusAvailable, TransitionContext{})
	require.Error(t, err)

	var ce *core.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, core.KindIllegalTransition, ce.Kind)
}
