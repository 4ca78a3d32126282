package assets

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
)

type fixture struct {
	mem *repository.Memory
	log *audit.MemoryLog
	bus *bus.Bus
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repository.NewMemory()
	log := audit.NewMemoryLog()
	b := bus.New(nil)
	return &fixture{
		mem: mem,
		log: log,
		bus: b,
		svc: NewService(mem.Gauges, mem, log, b, auth.NewGate(mem.Users)),
	}
}

func manager() *auth.Caller {
	return &auth.Caller{UserID: "u-mgr", Permissions: []auth.Capability{auth.CapGaugeManage, auth.CapGaugeView}}
}

func threadGauge(serial string) *gauge.Gauge {
	return &gauge.Gauge{
		SerialNumber:  serial,
		EquipmentType: gauge.EquipmentThreadGauge,
		OwnershipType: gauge.OwnershipCompany,
		Spec:          &gauge.Specification{Thread: &gauge.ThreadSpec{Size: ".250-20", Form: "UN", Class: "2A"}},
	}
}

func TestCreateGauge(t *testing.T) {
	f := newFixture(t)

	var topics []bus.Topic
	f.bus.SubscribeAll(func(e bus.Event) { topics = append(topics, e.Topic) })

	g, err := f.svc.Create(context.Background(), manager(), threadGauge("ABC123"))
	require.NoError(t, err)
	assert.NotZero(t, g.ID)
	assert.Equal(t, gauge.StatusAvailable, g.Status)
	assert.Equal(t, []bus.Topic{bus.TopicAssetCreated}, topics)

	entries := f.log.ByAction(audit.ActionGaugeCreated)
	require.Len(t, entries, 1)
	assert.Equal(t, "u-mgr", entries[0].ActorID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		patch func(*gauge.Gauge)
	}{
		{"unknown equipment type", func(g *gauge.Gauge) { g.EquipmentType = "widget" }},
		{"unknown ownership", func(g *gauge.Gauge) { g.OwnershipType = "borrowed" }},
		{"employee owner missing", func(g *gauge.Gauge) { g.OwnershipType = gauge.OwnershipEmployee }},
		{"missing spec", func(g *gauge.Gauge) { g.Spec = nil }},
		{"wrong spec kind", func(g *gauge.Gauge) { g.Spec = &gauge.Specification{HandTool: &gauge.HandToolSpec{}} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := threadGauge("VAL-1")
			tc.patch(g)
			_, err := f.svc.Create(ctx, manager(), g)
			require.Error(t, err)
			assert.Equal(t, core.KindValidation, core.KindOf(err))
		})
	}
}

func TestCreateDuplicateSerial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, manager(), threadGauge("DUP-1"))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, manager(), threadGauge("DUP-1"))
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))

	// Same serial on a different equipment type is fine.
	ht := &gauge.Gauge{
		SerialNumber:  "DUP-1",
		EquipmentType: gauge.EquipmentHandTool,
		OwnershipType: gauge.OwnershipCompany,
		Spec:          &gauge.Specification{HandTool: &gauge.HandToolSpec{Format: "caliper", RangeMax: 6, RangeUnit: "inch"}},
	}
	_, err = f.svc.Create(ctx, manager(), ht)
	require.NoError(t, err)
}

func TestUpdateFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.Create(ctx, manager(), threadGauge("UPD-1"))
	require.NoError(t, err)

	loc := "SHELF-4"
	name := "Bench set"
	freq := 180
	updated, err := f.svc.Update(ctx, manager(), g.ID, UpdateFields{
		StorageLocation: &loc,
		CustomName:      &name,
		CalFrequency:    &freq,
	})
	require.NoError(t, err)
	assert.Equal(t, "SHELF-4", *updated.StorageLoc)
	assert.Equal(t, "Bench set", *updated.CustomName)
	assert.Equal(t, 180, updated.CalFrequency)

	// Untouched fields survive.
	assert.Equal(t, "UPD-1", updated.SerialNumber)

	neg := -1
	_, err = f.svc.Update(ctx, manager(), g.ID, UpdateFields{CalFrequency: &neg})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	entries := f.log.ByAction(audit.ActionGaugeUpdated)
	require.Len(t, entries, 1)
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := manager()

	g, err := f.svc.Create(ctx, caller, threadGauge("LKP-1"))
	require.NoError(t, err)

	byID, err := f.svc.Get(ctx, caller, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.SerialNumber, byID.SerialNumber)

	bySerial, err := f.svc.GetBySerial(ctx, caller, gauge.EquipmentThreadGauge, "LKP-1")
	require.NoError(t, err)
	assert.Equal(t, g.ID, bySerial.ID)

	_, err = f.svc.GetBySerial(ctx, caller, "widget", "LKP-1")
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = f.svc.Get(ctx, caller, 9999)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestListSparesCanonicalizesSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := manager()

	g, err := f.svc.Create(ctx, caller, threadGauge("SPR-1"))
	require.NoError(t, err)

	// Fractional input form resolves to the stored canonical decimal form.
	spares, err := f.svc.ListSpares(ctx, caller, repository.SpareFilter{ThreadSize: "1/4-20"})
	require.NoError(t, err)
	require.Len(t, spares, 1)
	assert.Equal(t, g.ID, spares[0].ID)

	_, err = f.svc.ListSpares(ctx, caller, repository.SpareFilter{ThreadSize: "not-a-size"})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestAuthorizationRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := &auth.Caller{UserID: "u-view", Permissions: []auth.Capability{auth.CapGaugeView}}

	_, err := f.svc.Create(ctx, viewer, threadGauge("AUTH-1"))
	require.Error(t, err)
	assert.Equal(t, core.KindPermissionDenied, core.KindOf(err))
}
