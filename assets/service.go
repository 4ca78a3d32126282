// Package assets exposes the gauge CRUD surface: creation with
// specification, field updates, typed lookups and spare listings. All
// writes are authorized, audited and announced on the event bus; reads are
// served straight from the store.
package assets

import (
	"context"
	"fmt"

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

// Service coordinates gauge CRUD.
type Service struct {
	gauges repository.GaugeRepository
	runner db.Runner
	log    audit.Appender
	bus    *bus.Bus
	gate   *auth.Gate
	logger *logrus.Logger
}

// NewService creates the gauge service.
func NewService(gauges repository.GaugeRepository, runner db.Runner, log audit.Appender, b *bus.Bus, gate *auth.Gate) *Service {
	return &Service{
		gauges: gauges,
		runner: runner,
		log:    log,
		bus:    b,
		gate:   gate,
		logger: common.Logger,
	}
}

// Create registers a gauge with its specification. Validation failures are
// rejected before any write.
func (s *Service) Create(ctx context.Context, caller *auth.Caller, g *gauge.Gauge) (*gauge.Gauge, error) {
	if err := s.gate.Authorize(caller, auth.CapGaugeManage); err != nil {
		return nil, err
	}
	if err := validate(g); err != nil {
		return nil, err
	}

	var created *gauge.Gauge
	err := db.WithRetry(ctx, "assets.create", func(ctx context.Context) error {
		return s.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			var err error
			created, err = s.gauges.Create(ctx, tx, g)
			if err != nil {
				return err
			}
			_, err = s.log.Append(ctx, tx, caller.UserID, audit.ActionGaugeCreated, "gauge",
				fmt.Sprintf("%d", created.ID), nil, created, audit.SeverityInfo)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(bus.TopicAssetCreated, caller.UserID, bus.AssetEvent{
		GaugeID: created.ID, PublicID: created.GaugeID, SerialNumber: created.SerialNumber,
		ToStatus: string(created.Status), UserID: caller.UserID,
	})
	return created, nil
}

// UpdateFields is the patch applied by Update. Nil pointers leave the
// field unchanged.
type UpdateFields struct {
	Manufacturer    *string
	Model           *string
	CalFrequency    *int
	StorageLocation *string
	CustomName      *string
	CategoryID      *int64
}

// Update patches a gauge's mutable fields. The display name is computed on
// read, so no stored name needs recomputation here.
func (s *Service) Update(ctx context.Context, caller *auth.Caller, gaugeID int64, patch UpdateFields) (*gauge.Gauge, error) {
	if err := s.gate.Authorize(caller, auth.CapGaugeManage); err != nil {
		return nil, err
	}

	var updated *gauge.Gauge
	err := db.WithRetry(ctx, "assets.update", func(ctx context.Context) error {
		return s.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			if err := s.gauges.Lock(ctx, tx, []int64{gaugeID}); err != nil {
				return err
			}
			g, err := s.gauges.FindByID(ctx, tx, gaugeID)
			if err != nil {
				return err
			}
			before := *g

			if patch.Manufacturer != nil {
				g.Manufacturer = *patch.Manufacturer
			}
			if patch.Model != nil {
				g.Model = *patch.Model
			}
			if patch.CalFrequency != nil {
				if *patch.CalFrequency < 0 {
					return core.Validation("calibration_frequency_days", "frequency must not be negative")
				}
				g.CalFrequency = *patch.CalFrequency
			}
			if patch.StorageLocation != nil {
				g.StorageLoc = patch.StorageLocation
			}
			if patch.CustomName != nil {
				g.CustomName = patch.CustomName
			}
			if patch.CategoryID != nil {
				g.CategoryID = patch.CategoryID
			}

			if err := s.gauges.Update(ctx, tx, g); err != nil {
				return err
			}
			if _, err := s.log.Append(ctx, tx, caller.UserID, audit.ActionGaugeUpdated, "gauge",
				fmt.Sprintf("%d", g.ID), &before, g, audit.SeverityInfo); err != nil {
				return err
			}
			updated = g
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(bus.TopicAssetUpdated, caller.UserID, bus.AssetEvent{
		GaugeID: updated.ID, PublicID: updated.GaugeID, SerialNumber: updated.SerialNumber,
		UserID: caller.UserID,
	})
	return updated, nil
}

// Get returns the gauge by internal id.
func (s *Service) Get(ctx context.Context, caller *auth.Caller, gaugeID int64) (*gauge.Gauge, error) {
	if err := s.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	return s.gauges.FindByID(ctx, nil, gaugeID)
}

// GetBySerial returns the non-retired gauge carrying the serial within the
// equipment type.
func (s *Service) GetBySerial(ctx context.Context, caller *auth.Caller, et gauge.EquipmentType, serial string) (*gauge.Gauge, error) {
	if err := s.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	if !gauge.ValidEquipmentType(et) {
		return nil, core.Validation("equipment_type", fmt.Sprintf("unknown equipment type %q", et))
	}
	return s.gauges.FindBySerial(ctx, nil, et, serial)
}

// GetByPublicID returns the gauges carrying the public id: one for
// non-thread gauges, the pair for thread sets.
func (s *Service) GetByPublicID(ctx context.Context, caller *auth.Caller, publicID string) ([]*gauge.Gauge, error) {
	if err := s.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	return s.gauges.FindByPublicID(ctx, nil, publicID)
}

// List returns gauges matching the filter.
func (s *Service) List(ctx context.Context, caller *auth.Caller, f repository.GaugeListFilter) ([]*gauge.Gauge, error) {
	if err := s.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	return s.gauges.List(ctx, f)
}

// ListSpares returns available spare thread gauges matching the thread
// specification filter.
func (s *Service) ListSpares(ctx context.Context, caller *auth.Caller, f repository.SpareFilter) ([]*gauge.Gauge, error) {
	if err := s.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	if f.ThreadSize != "" {
		size, err := gauge.CanonicalThreadSize(f.ThreadSize)
		if err != nil {
			return nil, core.Validation("thread_size", err.Error())
		}
		f.ThreadSize = size
	}
	return s.gauges.FindSpareThreadGauges(ctx, nil, f)
}

func validate(g *gauge.Gauge) error {
	if !gauge.ValidEquipmentType(g.EquipmentType) {
		return core.Validation("equipment_type", fmt.Sprintf("unknown equipment type %q", g.EquipmentType))
	}
	if !gauge.ValidOwnershipType(g.OwnershipType) {
		return core.Validation("ownership_type", fmt.Sprintf("unknown ownership type %q", g.OwnershipType))
	}
	if g.OwnershipType == gauge.OwnershipEmployee && g.OwnerUserID == nil {
		return core.Validation("owner_user_id", "employee-owned gauges need an owner")
	}
	if len(g.SerialNumber) > gauge.MaxSerialLength {
		return core.Validation("serial_number", fmt.Sprintf("serial exceeds %d characters", gauge.MaxSerialLength))
	}
	if g.Spec == nil {
		return core.Validation("specification", "a specification is required")
	}
	switch g.EquipmentType {
	case gauge.EquipmentThreadGauge:
		if g.Spec.Thread == nil {
			return core.Validation("specification", "thread gauges need a thread specification")
		}
	case gauge.EquipmentHandTool:
		if g.Spec.HandTool == nil {
			return core.Validation("specification", "hand tools need a hand tool specification")
		}
	case gauge.EquipmentLargeEquipment:
		if g.Spec.Large == nil {
			return core.Validation("specification", "large equipment needs a specification")
		}
	case gauge.EquipmentCalibrationStandard:
		if g.Spec.Standard == nil {
			return core.Validation("specification", "calibration standards need a specification")
		}
	}
	if g.Status == "" {
		g.Status = gauge.StatusAvailable
	}
	return nil
}
