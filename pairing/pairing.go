// Package pairing implements thread-gauge set management: creating a set
// from two spares, replacing one member, unpairing, and retiring the whole
// set. Every public set id ever assigned is recorded in the set-id history
// ledger and never handed to a new set again, so historical audit queries
// stay unambiguous.
package pairing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/db/repository"
	"github.com/7D-Solutions/gaugecore/gauge"
)

// SetIDPrefix starts every thread-gauge set id.
const SetIDPrefix = "SP"

// allocationWindow bounds the candidate search when drawing a new set id.
const allocationWindow = 10000

// SharedFields are written to both members when a set is created.
type SharedFields struct {
	Manufacturer    string
	Model           string
	CalFrequency    int
	StorageLocation *string
	CategoryID      *int64
}

// Set is the result of a pairing operation.
type Set struct {
	SetID string       `json:"set_id"`
	Go    *gauge.Gauge `json:"go"`
	NoGo  *gauge.Gauge `json:"nogo"`
}

// Manager coordinates pairing operations.
type Manager struct {
	gauges repository.GaugeRepository
	setIDs repository.SetIDRepository
	runner db.Runner
	log    audit.Appender
	bus    *bus.Bus
	gate   *auth.Gate
	logger *logrus.Logger
}

// NewManager creates the pairing manager.
func NewManager(gauges repository.GaugeRepository, setIDs repository.SetIDRepository, runner db.Runner, log audit.Appender, b *bus.Bus, gate *auth.Gate) *Manager {
	return &Manager{
		gauges: gauges,
		setIDs: setIDs,
		runner: runner,
		log:    log,
		bus:    b,
		gate:   gate,
		logger: common.Logger,
	}
}

// CreateSet pairs two spare thread gauges into a GO/NO-GO set under a
// freshly allocated set id. Both spares must be available, unpaired, and
// carry matching thread specifications.
func (m *Manager) CreateSet(ctx context.Context, caller *auth.Caller, goID, nogoID int64, shared SharedFields) (*Set, error) {
	return m.createSet(ctx, caller, goID, nogoID, "", shared)
}

// CreateSetWithID pairs two spares under a caller-chosen set id. An id that
// appears in the history ledger is rejected with SetIDReused, whether or
// not the original set still exists.
func (m *Manager) CreateSetWithID(ctx context.Context, caller *auth.Caller, goID, nogoID int64, setID string, shared SharedFields) (*Set, error) {
	if setID == "" {
		return nil, core.Validation("set_id", "set id must not be empty")
	}
	return m.createSet(ctx, caller, goID, nogoID, setID, shared)
}

// PairSpares is the serial-number entry point used by the operation
// surface: both spares are resolved by serial before pairing. The first
// serial becomes the GO member.
func (m *Manager) PairSpares(ctx context.Context, caller *auth.Caller, goSerial, nogoSerial string, shared SharedFields) (*Set, error) {
	goGauge, err := m.gauges.FindBySerial(ctx, nil, gauge.EquipmentThreadGauge, goSerial)
	if err != nil {
		return nil, err
	}
	noGoGauge, err := m.gauges.FindBySerial(ctx, nil, gauge.EquipmentThreadGauge, nogoSerial)
	if err != nil {
		return nil, err
	}
	return m.CreateSet(ctx, caller, goGauge.ID, noGoGauge.ID, shared)
}

func (m *Manager) createSet(ctx context.Context, caller *auth.Caller, goID, nogoID int64, explicitID string, shared SharedFields) (*Set, error) {
	if err := m.gate.Authorize(caller, auth.CapGaugeManage); err != nil {
		return nil, err
	}
	if goID == nogoID {
		return nil, core.Validation("nogo_spare_id", "a set needs two distinct spares")
	}

	var result *Set
	err := db.WithRetry(ctx, "pairing.create_set", func(ctx context.Context) error {
		return m.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			ids := []int64{goID, nogoID}
			if nogoID < goID {
				ids = []int64{nogoID, goID}
			}
			if err := m.gauges.Lock(ctx, tx, ids); err != nil {
				return err
			}

			goGauge, err := m.gauges.FindByID(ctx, tx, goID)
			if err != nil {
				return err
			}
			noGoGauge, err := m.gauges.FindByID(ctx, tx, nogoID)
			if err != nil {
				return err
			}
			for _, g := range []*gauge.Gauge{goGauge, noGoGauge} {
				if !g.IsSpare() {
					return core.PreconditionFailed(fmt.Sprintf("gauge %d is not a spare thread gauge", g.ID))
				}
				if g.Status != gauge.StatusAvailable {
					return core.PreconditionFailed(fmt.Sprintf("gauge %d is %s, not available", g.ID, g.Status))
				}
			}
			if goGauge.Spec == nil || goGauge.Spec.Thread == nil || !goGauge.Spec.Thread.Matches(noGoGauge.Spec.Thread) {
				return core.PreconditionFailed("set members must share thread size, form and class")
			}

			setID := explicitID
			if setID == "" {
				var err error
				setID, err = m.allocateSetID(ctx, tx)
				if err != nil {
					return err
				}
			} else {
				used, err := m.setIDs.Exists(ctx, tx, setID)
				if err != nil {
					return err
				}
				if used {
					return core.SetIDReused(setID)
				}
			}
			if err := m.setIDs.Insert(ctx, tx, setID, time.Now().UTC()); err != nil {
				return err
			}

			goBefore, noGoBefore := *goGauge, *noGoGauge
			assignMember(goGauge, setID, gauge.SuffixGo, noGoGauge.ID, shared)
			assignMember(noGoGauge, setID, gauge.SuffixNoGo, goGauge.ID, shared)

			if err := m.gauges.Update(ctx, tx, goGauge); err != nil {
				return err
			}
			if err := m.gauges.Update(ctx, tx, noGoGauge); err != nil {
				return err
			}

			if err := m.appendMemberAudit(ctx, tx, caller, &goBefore, goGauge); err != nil {
				return err
			}
			if err := m.appendMemberAudit(ctx, tx, caller, &noGoBefore, noGoGauge); err != nil {
				return err
			}
			if _, err := m.log.Append(ctx, tx, caller.UserID, audit.ActionSetCreated, "set", setID,
				nil, setMembers(goGauge, noGoGauge), audit.SeverityInfo); err != nil {
				return err
			}

			result = &Set{SetID: setID, Go: goGauge, NoGo: noGoGauge}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.bus.Publish(bus.TopicSetCreated, caller.UserID, bus.SetEvent{
		SetID: result.SetID, GoID: result.Go.ID, NoGoID: result.NoGo.ID,
	})
	m.logger.WithFields(logrus.Fields{
		"set_id": result.SetID,
		"go_id":  result.Go.ID,
		"nogo":   result.NoGo.ID,
	}).Info("thread gauge set created")
	return result, nil
}

// ReplaceMember swaps one set member for a spare with a matching thread
// specification. The public set id survives the swap; audit history keeps
// referring to the departed member by internal id.
func (m *Manager) ReplaceMember(ctx context.Context, caller *auth.Caller, setID, oldSerial, newSpareSerial string) (*Set, error) {
	if err := m.gate.Authorize(caller, auth.CapGaugeManage); err != nil {
		return nil, err
	}

	var result *Set
	var oldID, newID int64
	err := db.WithRetry(ctx, "pairing.replace_member", func(ctx context.Context) error {
		return m.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			members, err := m.gauges.FindByPublicID(ctx, tx, setID)
			if err != nil {
				return err
			}
			if len(members) != 2 {
				return core.PreconditionFailed(fmt.Sprintf("set %s does not have two members", setID))
			}

			old, partner := splitBySerial(members, oldSerial)
			if old == nil {
				return core.NotFound("gauge", oldSerial)
			}
			spare, err := m.gauges.FindBySerial(ctx, tx, gauge.EquipmentThreadGauge, newSpareSerial)
			if err != nil {
				return err
			}
			if !spare.IsSpare() || spare.Status != gauge.StatusAvailable {
				return core.PreconditionFailed(fmt.Sprintf("gauge %s is not an available spare", newSpareSerial))
			}
			if old.Spec == nil || old.Spec.Thread == nil || !old.Spec.Thread.Matches(spare.Spec.Thread) {
				return core.PreconditionFailed("replacement spare must match the departing member's thread specification")
			}

			if err := m.gauges.Lock(ctx, tx, ascending(old.ID, partner.ID, spare.ID)); err != nil {
				return err
			}

			suffix := *old.Suffix
			oldBefore, partnerBefore, spareBefore := *old, *partner, *spare

			clearMember(old)
			assignReplacement(spare, setID, suffix, partner.ID)
			partner.CompanionID = &spare.ID

			for _, g := range []*gauge.Gauge{old, partner, spare} {
				if err := m.gauges.Update(ctx, tx, g); err != nil {
					return err
				}
			}

			for _, pair := range [][2]*gauge.Gauge{{&oldBefore, old}, {&partnerBefore, partner}, {&spareBefore, spare}} {
				if err := m.appendMemberAudit(ctx, tx, caller, pair[0], pair[1]); err != nil {
					return err
				}
			}
			if _, err := m.log.Append(ctx, tx, caller.UserID, audit.ActionSetMemberReplaced, "set", setID,
				map[string]int64{"old_member": old.ID}, map[string]int64{"new_member": spare.ID}, audit.SeverityInfo); err != nil {
				return err
			}

			oldID, newID = old.ID, spare.ID
			goMember, noGoMember := orderBySuffix(partner, spare)
			result = &Set{SetID: setID, Go: goMember, NoGo: noGoMember}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.bus.Publish(bus.TopicSetMemberReplaced, caller.UserID, bus.SetEvent{
		SetID: setID, GoID: result.Go.ID, NoGoID: result.NoGo.ID,
		OldMember: &oldID, NewMember: &newID,
	})
	return result, nil
}

// Unpair dissolves the set. Both members become spares and return to
// available; the set id stays in the history ledger without a retirement
// stamp, so it can never identify a new set.
func (m *Manager) Unpair(ctx context.Context, caller *auth.Caller, setID string) error {
	if err := m.gate.Authorize(caller, auth.CapGaugeManage); err != nil {
		return err
	}

	var goID, noGoID int64
	err := db.WithRetry(ctx, "pairing.unpair", func(ctx context.Context) error {
		return m.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			members, err := m.gauges.FindByPublicID(ctx, tx, setID)
			if err != nil {
				return err
			}
			if len(members) != 2 {
				return core.PreconditionFailed(fmt.Sprintf("set %s does not have two members", setID))
			}
			if err := m.gauges.Lock(ctx, tx, ascending(members[0].ID, members[1].ID)); err != nil {
				return err
			}
			if err := gauge.CheckPairInvariant(members[0], members[1]); err != nil {
				return m.reportCorruption(ctx, tx, caller, setID, err)
			}

			goMember, noGoMember := orderBySuffix(members[0], members[1])
			goID, noGoID = goMember.ID, noGoMember.ID
			for _, g := range members {
				before := *g
				clearMember(g)
				if err := m.gauges.Update(ctx, tx, g); err != nil {
					return err
				}
				if err := m.appendMemberAudit(ctx, tx, caller, &before, g); err != nil {
					return err
				}
			}
			_, err = m.log.Append(ctx, tx, caller.UserID, audit.ActionSetUnpaired, "set", setID,
				setMembers(goMember, noGoMember), nil, audit.SeverityInfo)
			return err
		})
	})
	if err != nil {
		return err
	}

	m.bus.Publish(bus.TopicSetUnpaired, caller.UserID, bus.SetEvent{SetID: setID, GoID: goID, NoGoID: noGoID})
	return nil
}

// RetireSet retires both members while leaving them paired for historical
// clarity, and stamps the retirement on the set id ledger.
func (m *Manager) RetireSet(ctx context.Context, caller *auth.Caller, setID string) error {
	if err := m.gate.Authorize(caller, auth.CapGaugeManage); err != nil {
		return err
	}

	var goID, noGoID int64
	err := db.WithRetry(ctx, "pairing.retire_set", func(ctx context.Context) error {
		return m.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			members, err := m.gauges.FindByPublicID(ctx, tx, setID)
			if err != nil {
				return err
			}
			if len(members) != 2 {
				return core.PreconditionFailed(fmt.Sprintf("set %s does not have two members", setID))
			}
			if err := m.gauges.Lock(ctx, tx, ascending(members[0].ID, members[1].ID)); err != nil {
				return err
			}

			tc := gauge.TransitionContext{ActorUserID: caller.UserID}
			for _, g := range members {
				before := *g
				if err := gauge.Apply(g, gauge.StatusRetired, tc); err != nil {
					return err
				}
				if err := m.gauges.Update(ctx, tx, g); err != nil {
					return err
				}
				if err := m.appendMemberAudit(ctx, tx, caller, &before, g); err != nil {
					return err
				}
			}
			if err := m.setIDs.Retire(ctx, tx, setID, time.Now().UTC()); err != nil {
				return err
			}

			goMember, noGoMember := orderBySuffix(members[0], members[1])
			goID, noGoID = goMember.ID, noGoMember.ID
			_, err = m.log.Append(ctx, tx, caller.UserID, audit.ActionSetRetired, "set", setID,
				setMembers(goMember, noGoMember), nil, audit.SeverityInfo)
			return err
		})
	})
	if err != nil {
		return err
	}

	m.bus.Publish(bus.TopicSetRetired, caller.UserID, bus.SetEvent{SetID: setID, GoID: goID, NoGoID: noGoID})
	return nil
}

// History returns the full set-id ledger in claim order.
func (m *Manager) History(ctx context.Context, caller *auth.Caller) ([]*repository.SetIDRecord, error) {
	if err := m.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	return m.setIDs.History(ctx)
}

// allocateSetID draws the next unused set id. Candidates start above the
// highest numeric suffix ever seen and are checked against the history
// ledger; an id that has ever existed is skipped, paired or not.
func (m *Manager) allocateSetID(ctx context.Context, tx db.Tx) (string, error) {
	start, err := m.setIDs.MaxNumericSuffix(ctx, tx, SetIDPrefix)
	if err != nil {
		return "", err
	}
	for n := start + 1; n <= start+allocationWindow; n++ {
		candidate := fmt.Sprintf("%s%04d", SetIDPrefix, n)
		used, err := m.setIDs.Exists(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}
	return "", core.Conflict("set id allocation exhausted the candidate window")
}

func (m *Manager) appendMemberAudit(ctx context.Context, tx db.Tx, caller *auth.Caller, before, after *gauge.Gauge) error {
	_, err := m.log.Append(ctx, tx, caller.UserID, audit.ActionGaugeUpdated, "gauge",
		fmt.Sprintf("%d", after.ID), before, after, audit.SeverityInfo)
	return err
}

// reportCorruption logs a pairing invariant violation at critical severity
// and raises the alert event before surfacing the error.
func (m *Manager) reportCorruption(ctx context.Context, tx db.Tx, caller *auth.Caller, setID string, violation error) error {
	if _, err := m.log.Append(ctx, tx, caller.UserID, audit.ActionInvariantAlert, "set", setID,
		nil, map[string]string{"detail": violation.Error()}, audit.SeverityCritical); err != nil {
		return err
	}
	m.bus.Publish(bus.TopicInvariantAlert, caller.UserID, bus.InvariantAlert{
		Invariant: "pairing", Detail: violation.Error(), EntityID: setID,
	})
	return violation
}

func assignMember(g *gauge.Gauge, setID string, suffix gauge.Suffix, companionID int64, shared SharedFields) {
	full := setID + string(suffix)
	g.GaugeID = &full
	s := suffix
	g.Suffix = &s
	c := companionID
	g.CompanionID = &c
	g.Manufacturer = shared.Manufacturer
	g.Model = shared.Model
	g.CalFrequency = shared.CalFrequency
	if shared.StorageLocation != nil {
		g.StorageLoc = shared.StorageLocation
	}
	if shared.CategoryID != nil {
		g.CategoryID = shared.CategoryID
	}
}

func assignReplacement(g *gauge.Gauge, setID string, suffix gauge.Suffix, companionID int64) {
	full := setID + string(suffix)
	g.GaugeID = &full
	s := suffix
	g.Suffix = &s
	c := companionID
	g.CompanionID = &c
}

func clearMember(g *gauge.Gauge) {
	g.GaugeID = nil
	g.Suffix = nil
	g.CompanionID = nil
	g.Status = gauge.StatusAvailable
}

func splitBySerial(members []*gauge.Gauge, serial string) (match, other *gauge.Gauge) {
	serial = gauge.NormalizeSerial(serial)
	for i, g := range members {
		if g.SerialNumber == serial {
			return g, members[1-i]
		}
	}
	return nil, nil
}

func orderBySuffix(a, b *gauge.Gauge) (goMember, noGoMember *gauge.Gauge) {
	if a.Suffix != nil && *a.Suffix == gauge.SuffixNoGo {
		return b, a
	}
	return a, b
}

func ascending(ids ...int64) []int64 {
	out := append([]int64(nil), ids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func setMembers(goMember, noGoMember *gauge.Gauge) map[string]int64 {
	return map[string]int64{"go_id": goMember.ID, "nogo_id": noGoMember.ID}
}
