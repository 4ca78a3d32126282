// Package checkout manages active checkouts and the status transitions
// that go with them. Paired gauges always check out and return as a
// cohort: one caller, one timestamp, all or nothing.
package checkout

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

// QCPolicy decides whether a returned gauge goes to pending_qc for
// post-use inspection instead of straight back to available. The flag is
// per equipment type.
type QCPolicy map[gauge.EquipmentType]bool

// Engine coordinates checkout, return and transfer.
type Engine struct {
	gauges    repository.GaugeRepository
	checkouts repository.CheckoutRepository
	runner    db.Runner
	log       audit.Appender
	bus       *bus.Bus
	gate      *auth.Gate
	policy    QCPolicy
	logger    *logrus.Logger
}

// NewEngine creates the checkout engine. A nil policy means no equipment
// type requires post-use inspection.
func NewEngine(gauges repository.GaugeRepository, checkouts repository.CheckoutRepository, runner db.Runner, log audit.Appender, b *bus.Bus, gate *auth.Gate, policy QCPolicy) *Engine {
	return &Engine{
		gauges:    gauges,
		checkouts: checkouts,
		runner:    runner,
		log:       log,
		bus:       b,
		gate:      gate,
		policy:    policy,
		logger:    common.Logger,
	}
}

// Checkout checks out the gauge and, when paired, its companion under the
// same caller with the same timestamp. Repeating a checkout the same user
// already holds with the same notes is a no-op returning the existing
// rows; a different holder fails with AlreadyCheckedOut.
func (e *Engine) Checkout(ctx context.Context, caller *auth.Caller, gaugeID int64, notes string) ([]*repository.ActiveCheckout, error) {
	if err := e.gate.Authorize(caller, auth.CapGaugeOperate); err != nil {
		return nil, err
	}

	var result []*repository.ActiveCheckout
	var published []bus.AssetEvent
	err := db.WithRetry(ctx, "checkout.checkout", func(ctx context.Context) error {
		result, published = nil, nil
		return e.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			cohort, err := e.loadCohort(ctx, tx, gaugeID, gauge.StatusCheckedOut)
			if err != nil {
				return err
			}

			// Idempotence check runs before the status validation so a
			// repeat by the holder short-circuits cleanly.
			existing, err := e.checkouts.FindByGauge(ctx, tx, gaugeID)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.UserID == caller.UserID && existing.Notes == notes {
					for _, g := range cohort {
						ac, err := e.checkouts.FindByGauge(ctx, tx, g.ID)
						if err != nil {
							return err
						}
						if ac != nil {
							result = append(result, ac)
						}
					}
					return nil
				}
				return core.AlreadyCheckedOut(fmt.Sprintf("%d", gaugeID))
			}

			now := time.Now().UTC()
			for _, g := range cohort {
				before := *g
				tc := gauge.TransitionContext{ActorUserID: caller.UserID, Companion: companionOf(g, cohort)}
				if err := gauge.Apply(g, gauge.StatusCheckedOut, tc); err != nil {
					return err
				}
				if err := e.gauges.Update(ctx, tx, g); err != nil {
					return err
				}
				ac, err := e.checkouts.Insert(ctx, tx, &repository.ActiveCheckout{
					GaugeID:   g.ID,
					UserID:    caller.UserID,
					CheckedAt: now,
					Notes:     notes,
				})
				if err != nil {
					return err
				}
				result = append(result, ac)

				entityID := fmt.Sprintf("%d", g.ID)
				if _, err := e.log.Append(ctx, tx, caller.UserID, audit.ActionStatusChanged, "gauge", entityID,
					&before, g, audit.SeverityInfo); err != nil {
					return err
				}
				if _, err := e.log.Append(ctx, tx, caller.UserID, audit.ActionCheckedOut, "gauge", entityID,
					nil, ac, audit.SeverityInfo); err != nil {
					return err
				}
				published = append(published, assetEvent(g, caller.UserID, string(before.Status)))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range published {
		e.bus.Publish(bus.TopicAssetCheckedOut, caller.UserID, ev)
	}
	return result, nil
}

// Return ends the checkout for the whole cohort. The target state is
// available, or pending_qc when the equipment type's policy requires a
// post-use inspection.
func (e *Engine) Return(ctx context.Context, caller *auth.Caller, gaugeID int64, notes string) error {
	if err := e.gate.Authorize(caller, auth.CapGaugeOperate); err != nil {
		return err
	}

	var published []bus.AssetEvent
	err := db.WithRetry(ctx, "checkout.return", func(ctx context.Context) error {
		published = nil
		return e.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			g, err := e.gauges.FindByID(ctx, tx, gaugeID)
			if err != nil {
				return err
			}
			if g.Status != gauge.StatusCheckedOut {
				return core.PreconditionFailed(fmt.Sprintf("gauge %d is %s, not checked out", gaugeID, g.Status))
			}

			target := gauge.StatusAvailable
			if e.policy[g.EquipmentType] {
				target = gauge.StatusPendingQC
			}

			// Returns always move the whole set, even when QC policy routes
			// the members to pending_qc instead of available.
			cohort, err := e.loadCohort(ctx, tx, gaugeID, gauge.StatusAvailable)
			if err != nil {
				return err
			}

			ids := make([]int64, 0, len(cohort))
			for _, member := range cohort {
				ids = append(ids, member.ID)
			}
			if err := e.checkouts.DeleteForGauges(ctx, tx, ids); err != nil {
				return err
			}

			for _, member := range cohort {
				before := *member
				tc := gauge.TransitionContext{ActorUserID: caller.UserID, Companion: companionOf(member, cohort)}
				if err := gauge.Apply(member, target, tc); err != nil {
					return err
				}
				if err := e.gauges.Update(ctx, tx, member); err != nil {
					return err
				}

				entityID := fmt.Sprintf("%d", member.ID)
				if _, err := e.log.Append(ctx, tx, caller.UserID, audit.ActionStatusChanged, "gauge", entityID,
					&before, member, audit.SeverityInfo); err != nil {
					return err
				}
				if _, err := e.log.Append(ctx, tx, caller.UserID, audit.ActionReturned, "gauge", entityID,
					nil, map[string]string{"notes": notes}, audit.SeverityInfo); err != nil {
					return err
				}
				published = append(published, assetEvent(member, caller.UserID, string(before.Status)))
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, ev := range published {
		e.bus.Publish(bus.TopicAssetReturned, caller.UserID, ev)
	}
	return nil
}

// Transfer moves the active checkout to a new holder without a status
// change. Paired gauges transfer together.
func (e *Engine) Transfer(ctx context.Context, caller *auth.Caller, gaugeID int64, newHolder, notes string) error {
	if err := e.gate.Authorize(caller, auth.CapGaugeOperate); err != nil {
		return err
	}

	var published []bus.AssetEvent
	err := db.WithRetry(ctx, "checkout.transfer", func(ctx context.Context) error {
		published = nil
		return e.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			cohort, err := e.loadCohort(ctx, tx, gaugeID, gauge.StatusCheckedOut)
			if err != nil {
				return err
			}
			for _, member := range cohort {
				ac, err := e.checkouts.FindByGauge(ctx, tx, member.ID)
				if err != nil {
					return err
				}
				if ac == nil {
					return core.PreconditionFailed(fmt.Sprintf("gauge %d has no active checkout", member.ID))
				}
				if err := e.checkouts.UpdateHolder(ctx, tx, member.ID, newHolder); err != nil {
					return err
				}
				if _, err := e.log.Append(ctx, tx, caller.UserID, audit.ActionTransferred, "gauge",
					fmt.Sprintf("%d", member.ID),
					map[string]string{"holder": ac.UserID},
					map[string]string{"holder": newHolder, "notes": notes},
					audit.SeverityInfo); err != nil {
					return err
				}
				published = append(published, assetEvent(member, newHolder, string(member.Status)))
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, ev := range published {
		e.bus.Publish(bus.TopicAssetTransferred, caller.UserID, ev)
	}
	return nil
}

// GetActive returns the active checkout for a gauge, or nil when the gauge
// is not checked out.
func (e *Engine) GetActive(ctx context.Context, caller *auth.Caller, gaugeID int64) (*repository.ActiveCheckout, error) {
	if err := e.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	return e.checkouts.FindByGauge(ctx, nil, gaugeID)
}

// loadCohort resolves the gauge, computes the cohort for the target
// status, locks the rows in ascending id order and loads every member. A
// corrupted pairing surfaces as an invariant violation.
func (e *Engine) loadCohort(ctx context.Context, tx db.Tx, gaugeID int64, target gauge.Status) ([]*gauge.Gauge, error) {
	g, err := e.gauges.FindByID(ctx, tx, gaugeID)
	if err != nil {
		return nil, err
	}
	ids := gauge.CohortFor(g, target)
	if err := e.gauges.Lock(ctx, tx, ids); err != nil {
		return nil, err
	}
	cohort := make([]*gauge.Gauge, 0, len(ids))
	for _, id := range ids {
		member, err := e.gauges.FindByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		cohort = append(cohort, member)
	}
	if len(cohort) == 2 {
		if err := gauge.CheckPairInvariant(cohort[0], cohort[1]); err != nil {
			e.bus.Publish(bus.TopicInvariantAlert, "", bus.InvariantAlert{
				Invariant: "pairing", Detail: err.Error(), EntityID: fmt.Sprintf("%d", gaugeID),
			})
			return nil, err
		}
	}
	return cohort, nil
}

func companionOf(g *gauge.Gauge, cohort []*gauge.Gauge) *gauge.Gauge {
	for _, member := range cohort {
		if member.ID != g.ID {
			return member
		}
	}
	return nil
}

func assetEvent(g *gauge.Gauge, userID, fromStatus string) bus.AssetEvent {
	return bus.AssetEvent{
		GaugeID:      g.ID,
		PublicID:     g.GaugeID,
		SerialNumber: g.SerialNumber,
		FromStatus:   fromStatus,
		ToStatus:     string(g.Status),
		UserID:       userID,
	}
}
