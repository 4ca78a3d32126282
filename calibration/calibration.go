// Package calibration coordinates the batch workflow that moves gauges
// through an internal or external calibration cycle: create, fill, send,
// receive, verify certificates, and release. Paired gauges travel through
// the workflow together; certificate verification gates release on both
// members being certified.
package calibration

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

// Coordinator drives the calibration batch workflow.
type Coordinator struct {
	gauges    repository.GaugeRepository
	batches   repository.BatchRepository
	certs     repository.CertificateRepository
	checkouts repository.CheckoutRepository
	runner    db.Runner
	log       audit.Appender
	bus       *bus.Bus
	gate      *auth.Gate
	logger    *logrus.Logger
}

// NewCoordinator creates the calibration coordinator.
func NewCoordinator(gauges repository.GaugeRepository, batches repository.BatchRepository, certs repository.CertificateRepository, checkouts repository.CheckoutRepository, runner db.Runner, log audit.Appender, b *bus.Bus, gate *auth.Gate) *Coordinator {
	return &Coordinator{
		gauges:    gauges,
		batches:   batches,
		certs:     certs,
		checkouts: checkouts,
		runner:    runner,
		log:       log,
		bus:       b,
		gate:      gate,
		logger:    common.Logger,
	}
}

// CreateBatch opens a new batch in pending_send. External batches carry a
// vendor name.
func (c *Coordinator) CreateBatch(ctx context.Context, caller *auth.Caller, batchType repository.BatchType, vendor *string) (*repository.Batch, error) {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return nil, err
	}
	if batchType != repository.BatchInternal && batchType != repository.BatchExternal {
		return nil, core.Validation("type", "batch type must be internal or external")
	}
	if batchType == repository.BatchExternal && (vendor == nil || *vendor == "") {
		return nil, core.Validation("vendor", "external batches require a vendor")
	}

	var batch *repository.Batch
	err := db.WithRetry(ctx, "calibration.create_batch", func(ctx context.Context) error {
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			var err error
			batch, err = c.batches.Create(ctx, tx, &repository.Batch{
				Type:      batchType,
				Vendor:    vendor,
				CreatedBy: caller.UserID,
			})
			if err != nil {
				return err
			}
			_, err = c.log.Append(ctx, tx, caller.UserID, audit.ActionBatchCreated, "batch",
				fmt.Sprintf("%d", batch.ID), nil, batch, audit.SeverityInfo)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	c.bus.Publish(bus.TopicBatchCreated, caller.UserID, bus.BatchEvent{
		BatchID: batch.ID, Type: string(batch.Type), Vendor: batch.Vendor,
	})
	return batch, nil
}

// AddGauge puts a gauge, and its companion when paired, into a pending
// batch. Checked-out gauges and gauges already in another live batch are
// rejected.
func (c *Coordinator) AddGauge(ctx context.Context, caller *auth.Caller, batchID, gaugeID int64) error {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	return db.WithRetry(ctx, "calibration.add_gauge", func(ctx context.Context) error {
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			batch, err := c.batches.Get(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if batch.Status != repository.BatchPendingSend {
				return core.PreconditionFailed(fmt.Sprintf("batch %d is %s, gauges can only be added before send", batchID, batch.Status))
			}

			cohort, err := c.loadCohort(ctx, tx, gaugeID)
			if err != nil {
				return err
			}
			for _, g := range cohort {
				if g.Status == gauge.StatusCheckedOut {
					return core.PreconditionFailed(fmt.Sprintf("gauge %d is checked out", g.ID))
				}
				other, err := c.batches.ActiveBatchFor(ctx, tx, g.ID)
				if err != nil {
					return err
				}
				if other != 0 && other != batchID {
					return core.PreconditionFailed(fmt.Sprintf("gauge %d is already in batch %d", g.ID, other))
				}
				if other == batchID {
					continue
				}
				if err := c.batches.AddMember(ctx, tx, batchID, g.ID); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// RemoveGauge takes a gauge, and its companion when paired, back out of a
// pending batch.
func (c *Coordinator) RemoveGauge(ctx context.Context, caller *auth.Caller, batchID, gaugeID int64) error {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	return db.WithRetry(ctx, "calibration.remove_gauge", func(ctx context.Context) error {
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			batch, err := c.batches.Get(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if batch.Status != repository.BatchPendingSend {
				return core.PreconditionFailed(fmt.Sprintf("batch %d is %s, gauges can only be removed before send", batchID, batch.Status))
			}
			cohort, err := c.loadCohort(ctx, tx, gaugeID)
			if err != nil {
				return err
			}
			for _, g := range cohort {
				if err := c.batches.RemoveMember(ctx, tx, batchID, g.ID); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Send dispatches a non-empty pending batch: every member transitions to
// out_for_calibration and the batch is stamped sent.
func (c *Coordinator) Send(ctx context.Context, caller *auth.Caller, batchID int64) error {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	var memberIDs []int64
	err := db.WithRetry(ctx, "calibration.send", func(ctx context.Context) error {
		memberIDs = nil
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			batch, err := c.batches.Get(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if batch.Status != repository.BatchPendingSend {
				return core.PreconditionFailed(fmt.Sprintf("batch %d is %s, only pending batches can be sent", batchID, batch.Status))
			}
			members, err := c.batches.Members(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				return core.PreconditionFailed(fmt.Sprintf("batch %d is empty", batchID))
			}

			ids := make([]int64, 0, len(members))
			for _, m := range members {
				ids = append(ids, m.GaugeID)
			}
			if err := c.gauges.Lock(ctx, tx, ids); err != nil {
				return err
			}

			for _, m := range members {
				g, err := c.gauges.FindByID(ctx, tx, m.GaugeID)
				if err != nil {
					return err
				}
				before := *g
				tc := gauge.TransitionContext{ActorUserID: caller.UserID}
				if err := gauge.Apply(g, gauge.StatusOutForCalibration, tc); err != nil {
					return err
				}
				if err := c.gauges.Update(ctx, tx, g); err != nil {
					return err
				}
				if _, err := c.log.Append(ctx, tx, caller.UserID, audit.ActionStatusChanged, "gauge",
					fmt.Sprintf("%d", g.ID), &before, g, audit.SeverityInfo); err != nil {
					return err
				}
			}

			now := time.Now().UTC()
			if err := c.batches.UpdateStatus(ctx, tx, batchID, repository.BatchSent, &now); err != nil {
				return err
			}
			if _, err := c.log.Append(ctx, tx, caller.UserID, audit.ActionBatchSent, "batch",
				fmt.Sprintf("%d", batchID), nil, map[string]int{"members": len(members)}, audit.SeverityInfo); err != nil {
				return err
			}
			memberIDs = ids
			return nil
		})
	})
	if err != nil {
		return err
	}

	c.bus.Publish(bus.TopicBatchSent, caller.UserID, bus.BatchEvent{BatchID: batchID, GaugeIDs: memberIDs})
	return nil
}

// ReceiveGauge records one gauge coming back from calibration. A failed
// calibration retires the gauge; a passed one moves it to
// pending_certificate and seals it. When the last member is received the
// batch completes; until then it sits in partially_received.
func (c *Coordinator) ReceiveGauge(ctx context.Context, caller *auth.Caller, batchID, gaugeID int64, passed bool) error {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	var batchDone bool
	err := db.WithRetry(ctx, "calibration.receive_gauge", func(ctx context.Context) error {
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			batch, err := c.batches.Get(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if batch.Status != repository.BatchSent && batch.Status != repository.BatchPartiallyReceived {
				return core.PreconditionFailed(fmt.Sprintf("batch %d is %s, not receivable", batchID, batch.Status))
			}

			if err := c.gauges.Lock(ctx, tx, []int64{gaugeID}); err != nil {
				return err
			}
			g, err := c.gauges.FindByID(ctx, tx, gaugeID)
			if err != nil {
				return err
			}

			before := *g
			target := gauge.StatusPendingCert
			if !passed {
				target = gauge.StatusRetired
			}
			tc := gauge.TransitionContext{ActorUserID: caller.UserID, CalibrationPassed: passed}
			if err := gauge.Apply(g, target, tc); err != nil {
				return err
			}
			if err := c.gauges.Update(ctx, tx, g); err != nil {
				return err
			}

			now := time.Now().UTC()
			if err := c.batches.MarkReceived(ctx, tx, batchID, gaugeID, passed, now); err != nil {
				return err
			}

			if _, err := c.log.Append(ctx, tx, caller.UserID, audit.ActionStatusChanged, "gauge",
				fmt.Sprintf("%d", gaugeID), &before, g, audit.SeverityInfo); err != nil {
				return err
			}
			reason := "calibration_passed"
			if !passed {
				reason = "calibration_failed"
			}
			if _, err := c.log.Append(ctx, tx, caller.UserID, audit.ActionBatchReceived, "batch",
				fmt.Sprintf("%d", batchID),
				nil, map[string]interface{}{"gauge_id": gaugeID, "reason": reason}, audit.SeverityInfo); err != nil {
				return err
			}

			members, err := c.batches.Members(ctx, tx, batchID)
			if err != nil {
				return err
			}
			outstanding := 0
			for _, m := range members {
				if m.ReceivedAt == nil {
					outstanding++
				}
			}
			status := repository.BatchPartiallyReceived
			if outstanding == 0 {
				status = repository.BatchCompleted
				batchDone = true
			}
			return c.batches.UpdateStatus(ctx, tx, batchID, status, nil)
		})
	})
	if err != nil {
		return err
	}

	c.bus.Publish(bus.TopicBatchReceived, caller.UserID, bus.BatchEvent{BatchID: batchID, GaugeIDs: []int64{gaugeID}})
	if batchDone {
		c.bus.Publish(bus.TopicBatchCompleted, caller.UserID, bus.BatchEvent{BatchID: batchID})
	}
	return nil
}

// VerifyCertificates checks that the gauge in pending_certificate holds a
// current certificate and moves it to pending_release. For a paired gauge
// both members must be certified and in pending_certificate; then both
// move together. Until the companion is ready the caller gets
// AwaitingCompanionCertificate and nothing changes.
func (c *Coordinator) VerifyCertificates(ctx context.Context, caller *auth.Caller, gaugeID int64) error {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	var published []bus.AssetEvent
	err := db.WithRetry(ctx, "calibration.verify_certificates", func(ctx context.Context) error {
		published = nil
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			cohort, err := c.loadCohort(ctx, tx, gaugeID)
			if err != nil {
				return err
			}
			// Validate the named gauge first so a not-yet-ready companion
			// surfaces as AwaitingCompanionCertificate, not as the
			// companion's own illegal transition.
			if len(cohort) == 2 && cohort[0].ID != gaugeID {
				cohort[0], cohort[1] = cohort[1], cohort[0]
			}

			// Gather certificate facts for every member before mutating
			// anything, so the second member's validation still sees the
			// first in pending_certificate.
			snapshots := make([]gauge.Gauge, len(cohort))
			hasCert := make([]bool, len(cohort))
			for i, g := range cohort {
				snapshots[i] = *g
				cert, err := c.certs.CurrentFor(ctx, tx, g.ID)
				if err != nil {
					return err
				}
				hasCert[i] = cert != nil
			}

			for i, g := range cohort {
				before := snapshots[i]
				tc := gauge.TransitionContext{
					ActorUserID:    caller.UserID,
					HasCurrentCert: hasCert[i],
				}
				if j := otherIndex(cohort, i); j >= 0 {
					tc.Companion = &snapshots[j]
					tc.CompanionHasCurrentCert = hasCert[j]
				}
				if err := gauge.Apply(g, gauge.StatusPendingRelease, tc); err != nil {
					return err
				}
				if err := c.gauges.Update(ctx, tx, g); err != nil {
					return err
				}
				if _, err := c.log.Append(ctx, tx, caller.UserID, audit.ActionStatusChanged, "gauge",
					fmt.Sprintf("%d", g.ID), &before, g, audit.SeverityInfo); err != nil {
					return err
				}
				published = append(published, bus.AssetEvent{
					GaugeID: g.ID, PublicID: g.GaugeID, SerialNumber: g.SerialNumber,
					FromStatus: string(before.Status), ToStatus: string(g.Status), UserID: caller.UserID,
				})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, ev := range published {
		c.bus.Publish(bus.TopicAssetStatusChanged, caller.UserID, ev)
	}
	return nil
}

// ReleaseGauge completes the workflow: the gauge moves from
// pending_release to available, optionally at a newly supplied storage
// location. Paired gauges release together, but the new location applies
// only to the named gauge; the companion keeps its prior location.
func (c *Coordinator) ReleaseGauge(ctx context.Context, caller *auth.Caller, gaugeID int64, storageLocation *string) error {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	var published []bus.AssetEvent
	err := db.WithRetry(ctx, "calibration.release_gauge", func(ctx context.Context) error {
		published = nil
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			cohort, err := c.loadCohort(ctx, tx, gaugeID)
			if err != nil {
				return err
			}
			for _, g := range cohort {
				before := *g
				tc := gauge.TransitionContext{ActorUserID: caller.UserID}
				if g.ID == gaugeID {
					tc.StorageLocation = storageLocation
				}
				if err := gauge.Apply(g, gauge.StatusAvailable, tc); err != nil {
					return err
				}
				if err := c.gauges.Update(ctx, tx, g); err != nil {
					return err
				}
				if _, err := c.log.Append(ctx, tx, caller.UserID, audit.ActionStatusChanged, "gauge",
					fmt.Sprintf("%d", g.ID), &before, g, audit.SeverityInfo); err != nil {
					return err
				}
				published = append(published, bus.AssetEvent{
					GaugeID: g.ID, PublicID: g.GaugeID, SerialNumber: g.SerialNumber,
					FromStatus: string(before.Status), ToStatus: string(g.Status), UserID: caller.UserID,
				})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, ev := range published {
		c.bus.Publish(bus.TopicAssetStatusChanged, caller.UserID, ev)
	}
	return nil
}

// Cancel abandons a batch that has not been sent. Members are left
// untouched; sent or received batches cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, caller *auth.Caller, batchID int64) error {
	if err := c.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	return db.WithRetry(ctx, "calibration.cancel", func(ctx context.Context) error {
		return c.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			batch, err := c.batches.Get(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if batch.Status != repository.BatchPendingSend {
				return core.PreconditionFailed(fmt.Sprintf("batch %d is %s, only pending batches can be cancelled", batchID, batch.Status))
			}
			if err := c.batches.UpdateStatus(ctx, tx, batchID, repository.BatchCancelled, nil); err != nil {
				return err
			}
			_, err = c.log.Append(ctx, tx, caller.UserID, audit.ActionBatchCancelled, "batch",
				fmt.Sprintf("%d", batchID), nil, nil, audit.SeverityInfo)
			return err
		})
	})
}

// GetBatch returns a batch with its members.
func (c *Coordinator) GetBatch(ctx context.Context, caller *auth.Caller, batchID int64) (*repository.Batch, []*repository.BatchMember, error) {
	if err := c.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, nil, err
	}
	batch, err := c.batches.Get(ctx, nil, batchID)
	if err != nil {
		return nil, nil, err
	}
	members, err := c.batches.Members(ctx, nil, batchID)
	if err != nil {
		return nil, nil, err
	}
	return batch, members, nil
}

// ListBatches returns batches in the given statuses, newest first.
func (c *Coordinator) ListBatches(ctx context.Context, caller *auth.Caller, statuses []repository.BatchStatus) ([]*repository.Batch, error) {
	if err := c.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	return c.batches.List(ctx, statuses)
}

// loadCohort locks and loads the gauge and its companion.
func (c *Coordinator) loadCohort(ctx context.Context, tx db.Tx, gaugeID int64) ([]*gauge.Gauge, error) {
	g, err := c.gauges.FindByID(ctx, tx, gaugeID)
	if err != nil {
		return nil, err
	}
	ids := []int64{g.ID}
	if g.CompanionID != nil {
		if *g.CompanionID < g.ID {
			ids = []int64{*g.CompanionID, g.ID}
		} else {
			ids = []int64{g.ID, *g.CompanionID}
		}
	}
	if err := c.gauges.Lock(ctx, tx, ids); err != nil {
		return nil, err
	}
	cohort := make([]*gauge.Gauge, 0, len(ids))
	for _, id := range ids {
		member, err := c.gauges.FindByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		cohort = append(cohort, member)
	}
	if len(cohort) == 2 {
		if err := gauge.CheckPairInvariant(cohort[0], cohort[1]); err != nil {
			return nil, err
		}
	}
	return cohort, nil
}

func otherIndex(cohort []*gauge.Gauge, i int) int {
	if len(cohort) != 2 {
		return -1
	}
	return 1 - i
}
