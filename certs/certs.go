// Package certs manages the per-gauge chain of calibration certificates.
// At most one certificate per gauge is current; uploading a new one
// supersedes the old, and superseded certificates link forward to their
// replacement so the chain can be walked in either direction.
package certs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/db/repository"
)

// Entry is a certificate with its computed display fields.
type Entry struct {
	*repository.Certificate
	DisplayName string `json:"display_name"`
	DisplaySize string `json:"display_size"`
}

// Registry coordinates certificate uploads and chain maintenance.
type Registry struct {
	gauges repository.GaugeRepository
	certs  repository.CertificateRepository
	runner db.Runner
	log    audit.Appender
	bus    *bus.Bus
	gate   *auth.Gate
	logger *logrus.Logger
}

// NewRegistry creates the certificate registry.
func NewRegistry(gauges repository.GaugeRepository, certs repository.CertificateRepository, runner db.Runner, log audit.Appender, b *bus.Bus, gate *auth.Gate) *Registry {
	return &Registry{
		gauges: gauges,
		certs:  certs,
		runner: runner,
		log:    log,
		bus:    b,
		gate:   gate,
		logger: common.Logger,
	}
}

// Upload attaches a new current certificate to the gauge, superseding any
// prior current one. The file itself lives in object storage; the registry
// stores the reference.
func (r *Registry) Upload(ctx context.Context, caller *auth.Caller, gaugeID int64, fileRef string, fileSize int64) (*repository.Certificate, error) {
	if err := r.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return nil, err
	}
	if fileRef == "" {
		return nil, core.Validation("file_ref", "file reference must not be empty")
	}

	var cert *repository.Certificate
	var supersededID *int64
	err := db.WithRetry(ctx, "certs.upload", func(ctx context.Context) error {
		supersededID = nil
		return r.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			// Per-gauge lock held through the supersession.
			if err := r.gauges.Lock(ctx, tx, []int64{gaugeID}); err != nil {
				return err
			}

			prior, err := r.certs.CurrentFor(ctx, tx, gaugeID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			// The prior certificate loses its current flag before the new
			// row is inserted. The partial unique index on (gauge_id)
			// WHERE is_current is checked per statement, so two current
			// rows must never coexist even inside the transaction.
			if prior != nil {
				if err := r.certs.Supersede(ctx, tx, prior.ID, now); err != nil {
					return err
				}
			}

			cert, err = r.certs.Insert(ctx, tx, &repository.Certificate{
				GaugeID:    gaugeID,
				FileRef:    fileRef,
				FileSize:   fileSize,
				UploadedAt: now,
				UploadedBy: caller.UserID,
				IsCurrent:  true,
			})
			if err != nil {
				return err
			}

			if prior != nil {
				if err := r.certs.LinkSuccessor(ctx, tx, prior.ID, cert.ID); err != nil {
					return err
				}
				supersededID = &prior.ID
				if _, err := r.log.Append(ctx, tx, caller.UserID, audit.ActionCertUploaded, "certificate",
					fmt.Sprintf("%d", cert.ID), prior, cert, audit.SeverityInfo); err != nil {
					return err
				}
				return nil
			}
			_, err = r.log.Append(ctx, tx, caller.UserID, audit.ActionCertUploaded, "certificate",
				fmt.Sprintf("%d", cert.ID), nil, cert, audit.SeverityInfo)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	r.bus.Publish(bus.TopicCertUploaded, caller.UserID, bus.CertificateEvent{
		CertificateID: cert.ID, GaugeID: gaugeID, FileRef: fileRef, SupersededID: supersededID,
	})
	if supersededID != nil {
		r.bus.Publish(bus.TopicCertSuperseded, caller.UserID, bus.CertificateEvent{
			CertificateID: *supersededID, GaugeID: gaugeID, SupersededID: &cert.ID,
		})
	}
	r.bus.Publish(bus.TopicAssetCalibrationChanged, caller.UserID, bus.AssetEvent{GaugeID: gaugeID, UserID: caller.UserID})
	return cert, nil
}

// Get returns one certificate. Soft-deleted certificates are hidden.
func (r *Registry) Get(ctx context.Context, caller *auth.Caller, certID int64) (*repository.Certificate, error) {
	if err := r.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	cert, err := r.certs.Get(ctx, nil, certID)
	if err != nil {
		return nil, err
	}
	if cert.DeletedAt != nil {
		return nil, core.NotFound("certificate", fmt.Sprintf("%d", certID))
	}
	return cert, nil
}

// List returns the gauge's certificate chain in upload order, with display
// names resolved and file sizes humanized.
func (r *Registry) List(ctx context.Context, caller *auth.Caller, gaugeID int64) ([]*Entry, error) {
	if err := r.gate.Authorize(caller, auth.CapGaugeView); err != nil {
		return nil, err
	}
	chain, err := r.certs.ListFor(ctx, gaugeID, false)
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(chain))
	seen := map[string]int{}
	for _, c := range chain {
		name := displayName(c)
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		entries = append(entries, &Entry{
			Certificate: c,
			DisplayName: name,
			DisplaySize: humanize.Bytes(uint64(c.FileSize)),
		})
	}
	return entries, nil
}

// Rename sets the caller-visible name on a certificate.
func (r *Registry) Rename(ctx context.Context, caller *auth.Caller, certID int64, name string) error {
	if err := r.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return core.Validation("custom_name", "name must not be empty")
	}

	return db.WithRetry(ctx, "certs.rename", func(ctx context.Context) error {
		return r.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			before, err := r.certs.Get(ctx, tx, certID)
			if err != nil {
				return err
			}
			if err := r.certs.Rename(ctx, tx, certID, name); err != nil {
				return err
			}
			_, err = r.log.Append(ctx, tx, caller.UserID, audit.ActionCertRenamed, "certificate",
				fmt.Sprintf("%d", certID),
				map[string]interface{}{"custom_name": before.CustomName},
				map[string]string{"custom_name": name},
				audit.SeverityInfo)
			return err
		})
	})
}

// SoftDelete hides a certificate without removing the row. Deleting the
// current certificate does not promote a superseded predecessor; the gauge
// may need re-verification, which is the workflow layer's call.
func (r *Registry) SoftDelete(ctx context.Context, caller *auth.Caller, certID int64) error {
	if err := r.gate.Authorize(caller, auth.CapCalibrationManage); err != nil {
		return err
	}

	return db.WithRetry(ctx, "certs.soft_delete", func(ctx context.Context) error {
		return r.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
			before, err := r.certs.Get(ctx, tx, certID)
			if err != nil {
				return err
			}
			if before.DeletedAt != nil {
				return core.NotFound("certificate", fmt.Sprintf("%d", certID))
			}
			if err := r.certs.SoftDelete(ctx, tx, certID, time.Now().UTC()); err != nil {
				return err
			}
			severity := audit.SeverityInfo
			if before.IsCurrent {
				// Removing the current certificate leaves the gauge
				// uncertified.
				severity = audit.SeverityWarning
			}
			_, err = r.log.Append(ctx, tx, caller.UserID, audit.ActionCertDeleted, "certificate",
				fmt.Sprintf("%d", certID), before, nil, severity)
			return err
		})
	})
}

// displayName computes the default name for a certificate without a
// custom one: the file extension, the word Certificate, and the upload
// date.
func displayName(c *repository.Certificate) string {
	if c.CustomName != nil && *c.CustomName != "" {
		return *c.CustomName
	}
	ext := strings.TrimPrefix(path.Ext(c.FileRef), ".")
	if ext == "" {
		ext = "file"
	}
	return fmt.Sprintf("%s_Certificate_%s", ext, c.UploadedAt.Format("2006.01.02"))
}
