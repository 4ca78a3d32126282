package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db/repository"
	"github.com/7D-Solutions/gaugecore/gauge"
)

type fixture struct {
	mem *repository.Memory
	log *audit.MemoryLog
	bus *bus.Bus
	mgr *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repository.NewMemory()
	log := audit.NewMemoryLog()
	b := bus.New(nil)
	gate := auth.NewGate(mem.Users)
	mgr := NewManager(mem.Gauges, mem.SetIDs, mem, log, b, gate)
	return &fixture{mem: mem, log: log, bus: b, mgr: mgr}
}

func (f *fixture) addSpare(t *testing.T, serial string) *gauge.Gauge {
	t.Helper()
	g, err := f.mem.Gauges.Create(context.Background(), nil, &gauge.Gauge{
		SerialNumber:  serial,
		EquipmentType: gauge.EquipmentThreadGauge,
		OwnershipType: gauge.OwnershipCompany,
		Status:        gauge.StatusAvailable,
		CalFrequency:  365,
		Spec: &gauge.Specification{
			Thread: &gauge.ThreadSpec{Size: "1/4-20", Form: "UN", Class: "2A"},
		},
	})
	require.NoError(t, err)
	return g
}

func (f *fixture) burn(t *testing.T, setID string) {
	t.Helper()
	require.NoError(t, f.mem.SetIDs.Insert(context.Background(), nil, setID, time.Now().UTC()))
}

func manager() *auth.Caller {
	return &auth.Caller{UserID: "u-mgr", Role: "manager", Permissions: []auth.Capability{auth.CapGaugeManage, auth.CapGaugeView}}
}

func TestPairSpares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.burn(t, "SP0221")
	g1 := f.addSpare(t, "ABC123")
	g2 := f.addSpare(t, "DEF456")

	set, err := f.mgr.PairSpares(ctx, manager(), "ABC123", "DEF456", SharedFields{Manufacturer: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "SP0222", set.SetID)
	require.NotNil(t, set.Go.GaugeID)
	require.NotNil(t, set.NoGo.GaugeID)
	assert.Equal(t, "SP0222A", *set.Go.GaugeID)
	assert.Equal(t, "SP0222B", *set.NoGo.GaugeID)
	assert.Equal(t, g1.ID, set.Go.ID, "first serial becomes the GO member")
	assert.Equal(t, "Acme", set.Go.Manufacturer)

	// Companion pointers are bidirectional.
	require.NoError(t, gauge.CheckPairInvariant(set.Go, set.NoGo))
	require.NotNil(t, set.Go.CompanionID)
	assert.Equal(t, g2.ID, *set.Go.CompanionID)

	// Ledger gained the id.
	used, err := f.mem.SetIDs.Exists(ctx, nil, "SP0222")
	require.NoError(t, err)
	assert.True(t, used)

	// Two member updates plus one set_created entry.
	assert.Len(t, f.log.Entries(), 3)
	assert.Len(t, f.log.ByAction(audit.ActionSetCreated), 1)
}

func TestPairSparesSkipsBurnedIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.burn(t, "SP0221")

	g1 := f.addSpare(t, "ABC123")
	g2 := f.addSpare(t, "DEF456")
	set, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g2.ID, SharedFields{})
	require.NoError(t, err)
	require.Equal(t, "SP0222", set.SetID)

	// Unpairing burns the id forever.
	require.NoError(t, f.mgr.Unpair(ctx, manager(), "SP0222"))

	g3 := f.addSpare(t, "GHI789")
	g4 := f.addSpare(t, "JKL012")
	next, err := f.mgr.CreateSet(ctx, manager(), g3.ID, g4.ID, SharedFields{})
	require.NoError(t, err)
	assert.Equal(t, "SP0223", next.SetID, "allocator must skip the burned SP0222")
}

func TestCreateSetWithBurnedIDRejected(t *testing.T) {
	f := newFixture(t)
	f.burn(t, "SP0100")
	g1 := f.addSpare(t, "A1")
	g2 := f.addSpare(t, "A2")

	_, err := f.mgr.CreateSetWithID(context.Background(), manager(), g1.ID, g2.ID, "SP0100", SharedFields{})
	require.Error(t, err)
	assert.Equal(t, core.KindSetIDReused, core.KindOf(err))
}

func TestCreateSetPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g1 := f.addSpare(t, "A1")
	g2 := f.addSpare(t, "A2")

	t.Run("same gauge twice", func(t *testing.T) {
		_, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g1.ID, SharedFields{})
		assert.Equal(t, core.KindValidation, core.KindOf(err))
	})

	t.Run("spec mismatch", func(t *testing.T) {
		other, err := f.mem.Gauges.Create(ctx, nil, &gauge.Gauge{
			SerialNumber:  "B9",
			EquipmentType: gauge.EquipmentThreadGauge,
			OwnershipType: gauge.OwnershipCompany,
			Status:        gauge.StatusAvailable,
			Spec:          &gauge.Specification{Thread: &gauge.ThreadSpec{Size: "10-32", Form: "UNJ", Class: "3B"}},
		})
		require.NoError(t, err)
		_, err = f.mgr.CreateSet(ctx, manager(), g1.ID, other.ID, SharedFields{})
		assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	})

	t.Run("missing capability", func(t *testing.T) {
		viewer := &auth.Caller{UserID: "u-view", Permissions: []auth.Capability{auth.CapGaugeView}}
		_, err := f.mgr.CreateSet(ctx, viewer, g1.ID, g2.ID, SharedFields{})
		assert.Equal(t, core.KindPermissionDenied, core.KindOf(err))
	})

	t.Run("already paired", func(t *testing.T) {
		set, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g2.ID, SharedFields{})
		require.NoError(t, err)
		g3 := f.addSpare(t, "C1")
		_, err = f.mgr.CreateSet(ctx, manager(), set.Go.ID, g3.ID, SharedFields{})
		assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
	})
}

func TestUnpairRestoresSpares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g1 := f.addSpare(t, "A1")
	g2 := f.addSpare(t, "A2")
	set, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g2.ID, SharedFields{})
	require.NoError(t, err)

	require.NoError(t, f.mgr.Unpair(ctx, manager(), set.SetID))

	for _, id := range []int64{g1.ID, g2.ID} {
		g, err := f.mem.Gauges.FindByID(ctx, nil, id)
		require.NoError(t, err)
		assert.True(t, g.IsSpare())
		assert.Nil(t, g.CompanionID)
		assert.Nil(t, g.Suffix)
		assert.Equal(t, gauge.StatusAvailable, g.Status)
	}

	// The ledger keeps the id with no retirement stamp.
	recs, err := f.mem.SetIDs.History(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, set.SetID, recs[0].SetID)
	assert.Nil(t, recs[0].RetiredAt)
}

func TestReplaceMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g1 := f.addSpare(t, "A1")
	g2 := f.addSpare(t, "A2")
	spare := f.addSpare(t, "A3")
	set, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g2.ID, SharedFields{})
	require.NoError(t, err)

	out, err := f.mgr.ReplaceMember(ctx, manager(), set.SetID, "A2", "A3")
	require.NoError(t, err)

	assert.Equal(t, set.SetID, out.SetID, "public set id survives the swap")
	assert.Equal(t, spare.ID, out.NoGo.ID)
	require.NoError(t, gauge.CheckPairInvariant(out.Go, out.NoGo))

	old, err := f.mem.Gauges.FindByID(ctx, nil, g2.ID)
	require.NoError(t, err)
	assert.True(t, old.IsSpare(), "departed member becomes a spare again")
	assert.Equal(t, gauge.StatusAvailable, old.Status)

	assert.Len(t, f.log.ByAction(audit.ActionSetMemberReplaced), 1)
}

func TestReplaceMemberSpecMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g1 := f.addSpare(t, "A1")
	g2 := f.addSpare(t, "A2")
	set, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g2.ID, SharedFields{})
	require.NoError(t, err)

	_, err = f.mem.Gauges.Create(ctx, nil, &gauge.Gauge{
		SerialNumber:  "X1",
		EquipmentType: gauge.EquipmentThreadGauge,
		OwnershipType: gauge.OwnershipCompany,
		Status:        gauge.StatusAvailable,
		Spec:          &gauge.Specification{Thread: &gauge.ThreadSpec{Size: "10-32", Form: "UN", Class: "2A"}},
	})
	require.NoError(t, err)

	_, err = f.mgr.ReplaceMember(ctx, manager(), set.SetID, "A2", "X1")
	assert.Equal(t, core.KindPreconditionFailed, core.KindOf(err))
}

func TestRetireSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g1 := f.addSpare(t, "A1")
	g2 := f.addSpare(t, "A2")
	set, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g2.ID, SharedFields{})
	require.NoError(t, err)

	require.NoError(t, f.mgr.RetireSet(ctx, manager(), set.SetID))

	for _, id := range []int64{g1.ID, g2.ID} {
		g, err := f.mem.Gauges.FindByID(ctx, nil, id)
		require.NoError(t, err)
		assert.Equal(t, gauge.StatusRetired, g.Status)
		assert.NotNil(t, g.CompanionID, "retired members stay paired for history")
	}

	recs, err := f.mem.SetIDs.History(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotNil(t, recs[0].RetiredAt)
}

func TestSetEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var topics []bus.Topic
	f.bus.SubscribeAll(func(e bus.Event) { topics = append(topics, e.Topic) })

	g1 := f.addSpare(t, "A1")
	g2 := f.addSpare(t, "A2")
	set, err := f.mgr.CreateSet(ctx, manager(), g1.ID, g2.ID, SharedFields{})
	require.NoError(t, err)
	require.NoError(t, f.mgr.Unpair(ctx, manager(), set.SetID))

	assert.Equal(t, []bus.Topic{bus.TopicSetCreated, bus.TopicSetUnpaired}, topics)
}
