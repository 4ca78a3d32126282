package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db/repository"
	"github.com/7D-Solutions/gaugecore/gauge"
	"github.com/7D-Solutions/gaugecore/pairing"
)

type fixture struct {
	mem    *repository.Memory
	log    *audit.MemoryLog
	bus    *bus.Bus
	engine *Engine
	pair   *pairing.Manager
}

func newFixture(t *testing.T, policy QCPolicy) *fixture {
	t.Helper()
	mem := repository.NewMemory()
	log := audit.NewMemoryLog()
	b := bus.New(nil)
	gate := auth.NewGate(mem.Users)
	return &fixture{
		mem:    mem,
		log:    log,
		bus:    b,
		engine: NewEngine(mem.Gauges, mem.Checkouts, mem, log, b, gate, policy),
		pair:   pairing.NewManager(mem.Gauges, mem.SetIDs, mem, log, b, gate),
	}
}

func operator() *auth.Caller {
	return &auth.Caller{UserID: "u-op", Permissions: []auth.Capability{auth.CapGaugeOperate, auth.CapGaugeView, auth.CapGaugeManage}}
}

func (f *fixture) addSpare(t *testing.T, serial string) *gauge.Gauge {
	t.Helper()
	g, err := f.mem.Gauges.Create(context.Background(), nil, &gauge.Gauge{
		SerialNumber:  serial,
		EquipmentType: gauge.EquipmentThreadGauge,
		OwnershipType: gauge.OwnershipCompany,
		Status:        gauge.StatusAvailable,
		Spec:          &gauge.Specification{Thread: &gauge.ThreadSpec{Size: "1/4-20", Form: "UN", Class: "2A"}},
	})
	require.NoError(t, err)
	return g
}

func (f *fixture) pairSet(t *testing.T) *pairing.Set {
	t.Helper()
	g1 := f.addSpare(t, "ABC123")
	g2 := f.addSpare(t, "DEF456")
	set, err := f.pair.CreateSet(context.Background(), operator(), g1.ID, g2.ID, pairing.SharedFields{})
	require.NoError(t, err)
	return set
}

func (f *fixture) addHandTool(t *testing.T, serial string) *gauge.Gauge {
	t.Helper()
	g, err := f.mem.Gauges.Create(context.Background(), nil, &gauge.Gauge{
		SerialNumber:  serial,
		EquipmentType: gauge.EquipmentHandTool,
		OwnershipType: gauge.OwnershipCompany,
		Status:        gauge.StatusAvailable,
		Spec: &gauge.Specification{HandTool: &gauge.HandToolSpec{
			Format: "caliper", RangeMin: 0, RangeMax: 6, RangeUnit: "inch",
		}},
	})
	require.NoError(t, err)
	return g
}

func TestPairedCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	set := f.pairSet(t)
	f.log = audit.NewMemoryLog()
	f.engine.log = f.log

	acs, err := f.engine.Checkout(ctx, operator(), set.Go.ID, "job X")
	require.NoError(t, err)
	require.Len(t, acs, 2, "companion checks out with the gauge")

	assert.Equal(t, acs[0].CheckedAt, acs[1].CheckedAt, "one timestamp for the whole cohort")
	for _, ac := range acs {
		assert.Equal(t, "u-op", ac.UserID)
	}

	for _, id := range []int64{set.Go.ID, set.NoGo.ID} {
		g, err := f.mem.Gauges.FindByID(ctx, nil, id)
		require.NoError(t, err)
		assert.Equal(t, gauge.StatusCheckedOut, g.Status)
	}

	// Two status changes plus two checkout rows.
	assert.Len(t, f.log.ByAction(audit.ActionStatusChanged), 2)
	assert.Len(t, f.log.ByAction(audit.ActionCheckedOut), 2)
}

func TestCheckoutConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	set := f.pairSet(t)

	_, err := f.engine.Checkout(ctx, operator(), set.Go.ID, "job X")
	require.NoError(t, err)

	other := &auth.Caller{UserID: "u-other", Permissions: []auth.Capability{auth.CapGaugeOperate}}
	_, err = f.engine.Checkout(ctx, other, set.NoGo.ID, "job Y")
	require.Error(t, err)
	assert.Equal(t, core.KindAlreadyCheckedOut, core.KindOf(err))
}

func TestCheckoutIdempotence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	g := f.addHandTool(t, "HT-1")

	first, err := f.engine.Checkout(ctx, operator(), g.ID, "job X")
	require.NoError(t, err)

	repeat, err := f.engine.Checkout(ctx, operator(), g.ID, "job X")
	require.NoError(t, err, "same user, same notes is a no-op")
	require.Len(t, repeat, 1)
	assert.Equal(t, first[0].ID, repeat[0].ID, "existing checkout is returned, not duplicated")

	_, err = f.engine.Checkout(ctx, operator(), g.ID, "different notes")
	assert.Equal(t, core.KindAlreadyCheckedOut, core.KindOf(err))
}

func TestCheckoutEligibility(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("employee owned by another", func(t *testing.T) {
		owner := "u-owner"
		g, err := f.mem.Gauges.Create(ctx, nil, &gauge.Gauge{
			SerialNumber:  "EMP-1",
			EquipmentType: gauge.EquipmentHandTool,
			OwnershipType: gauge.OwnershipEmployee,
			OwnerUserID:   &owner,
			Status:        gauge.StatusAvailable,
			Spec:          &gauge.Specification{HandTool: &gauge.HandToolSpec{Format: "caliper", RangeMax: 6, RangeUnit: "inch"}},
		})
		require.NoError(t, err)

		_, err = f.engine.Checkout(ctx, operator(), g.ID, "")
		assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	})

	t.Run("sealed with pending unseal", func(t *testing.T) {
		g := f.addHandTool(t, "SEALED-1")
		g.IsSealed = true
		g.UnsealPending = true
		require.NoError(t, f.mem.Gauges.Update(ctx, nil, g))

		_, err := f.engine.Checkout(ctx, operator(), g.ID, "")
		assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	})
}

func TestReturnLeavesAvailable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	set := f.pairSet(t)

	_, err := f.engine.Checkout(ctx, operator(), set.Go.ID, "job X")
	require.NoError(t, err)
	require.NoError(t, f.engine.Return(ctx, operator(), set.Go.ID, "done"))

	for _, id := range []int64{set.Go.ID, set.NoGo.ID} {
		g, err := f.mem.Gauges.FindByID(ctx, nil, id)
		require.NoError(t, err)
		assert.Equal(t, gauge.StatusAvailable, g.Status)
		ac, err := f.mem.Checkouts.FindByGauge(ctx, nil, id)
		require.NoError(t, err)
		assert.Nil(t, ac, "active checkout rows are gone")
	}

	// Re-checkout by the same user succeeds after a return.
	_, err = f.engine.Checkout(ctx, operator(), set.Go.ID, "job X")
	assert.NoError(t, err)
}

func TestReturnWithQCPolicy(t *testing.T) {
	f := newFixture(t, QCPolicy{gauge.EquipmentHandTool: true})
	ctx := context.Background()
	g := f.addHandTool(t, "HT-2")

	_, err := f.engine.Checkout(ctx, operator(), g.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.engine.Return(ctx, operator(), g.ID, ""))

	got, err := f.mem.Gauges.FindByID(ctx, nil, g.ID)
	require.NoError(t, err)
	assert.Equal(t, gauge.StatusPendingQC, got.Status, "policy routes the return through inspection")
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	set := f.pairSet(t)

	_, err := f.engine.Checkout(ctx, operator(), set.Go.ID, "job X")
	require.NoError(t, err)
	require.NoError(t, f.engine.Transfer(ctx, operator(), set.Go.ID, "u-new", "handover"))

	for _, id := range []int64{set.Go.ID, set.NoGo.ID} {
		ac, err := f.mem.Checkouts.FindByGauge(ctx, nil, id)
		require.NoError(t, err)
		require.NotNil(t, ac)
		assert.Equal(t, "u-new", ac.UserID)
	}
	assert.Len(t, f.log.ByAction(audit.ActionTransferred), 2)
}

func TestCheckoutEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	g := f.addHandTool(t, "HT-3")

	var topics []bus.Topic
	f.bus.SubscribeAll(func(e bus.Event) { topics = append(topics, e.Topic) })

	_, err := f.engine.Checkout(ctx, operator(), g.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.engine.Return(ctx, operator(), g.ID, ""))

	assert.Equal(t, []bus.Topic{bus.TopicAssetCheckedOut, bus.TopicAssetReturned}, topics)
}
