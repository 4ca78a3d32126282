// Package auth implements the identity and authorization gate. The HTTP
// boundary verifies credentials and hands the core a Caller record; this
// package enforces capability checks on every core operation and the
// admin-management rules that keep at least one system administrator in
// place.
package auth

import (
	"context"

	"github.com/7D-Solutions/gaugecore/core"
)

// Capability is a named permission drawn from a closed set.
type Capability string

const (
	CapGaugeView         Capability = "gauge.view"
	CapGaugeOperate      Capability = "gauge.operate"
	CapGaugeManage       Capability = "gauge.manage"
	CapCalibrationManage Capability = "calibration.manage"
	CapUserManage        Capability = "user.manage"
	CapSystemAdmin       Capability = "system.admin"
	CapAuditView         Capability = "audit.view"
	CapDataExport        Capability = "data.export"
)

// Caller is the verified identity crossing the boundary into the core.
type Caller struct {
	UserID      string       `json:"user_id"`
	Role        string       `json:"role"`
	Permissions []Capability `json:"permissions"`
}

// Has reports whether the caller holds the given capability. system.admin
// implies every other capability.
func (c *Caller) Has(cap Capability) bool {
	for _, p := range c.Permissions {
		if p == cap || p == CapSystemAdmin {
			return true
		}
	}
	return false
}

// IsSystemAdmin reports whether the caller holds system.admin itself.
func (c *Caller) IsSystemAdmin() bool {
	for _, p := range c.Permissions {
		if p == CapSystemAdmin {
			return true
		}
	}
	return false
}

// Directory answers questions about the user population that the
// admin-management rules need. The store layer implements it.
type Directory interface {
	// CountSystemAdmins returns the number of users currently holding
	// system.admin.
	CountSystemAdmins(ctx context.Context) (int, error)

	// IsSystemAdmin reports whether the given user holds system.admin.
	IsSystemAdmin(ctx context.Context, userID string) (bool, error)
}

// Gate enforces authorization on core operations. Denials are never
// silent: every failed check returns PermissionDenied carrying the missing
// capability, and callers audit it at critical severity.
type Gate struct {
	dir Directory
}

// NewGate creates an authorization gate backed by the given directory.
func NewGate(dir Directory) *Gate {
	return &Gate{dir: dir}
}

// Authorize checks that the caller holds the capability.
func (g *Gate) Authorize(caller *Caller, cap Capability) error {
	if caller == nil {
		return core.PermissionDenied(string(cap))
	}
	if !caller.Has(cap) {
		return core.PermissionDenied(string(cap))
	}
	return nil
}

// CanManageTarget decides whether the caller may manage the target user.
// An admin may manage any user without system.admin; only a system.admin
// may manage another system.admin.
func (g *Gate) CanManageTarget(ctx context.Context, caller *Caller, targetUserID string) error {
	if err := g.Authorize(caller, CapUserManage); err != nil {
		return err
	}

	targetIsAdmin, err := g.dir.IsSystemAdmin(ctx, targetUserID)
	if err != nil {
		return err
	}
	if targetIsAdmin && !caller.IsSystemAdmin() {
		return core.PermissionDenied(string(CapSystemAdmin))
	}
	return nil
}

// CheckAdminRemoval rejects any change that would leave zero system.admin
// holders. Self-demotion by the last admin is refused outright.
func (g *Gate) CheckAdminRemoval(ctx context.Context, caller *Caller, targetUserID string) error {
	targetIsAdmin, err := g.dir.IsSystemAdmin(ctx, targetUserID)
	if err != nil {
		return err
	}
	if !targetIsAdmin {
		return nil
	}

	count, err := g.dir.CountSystemAdmins(ctx)
	if err != nil {
		return err
	}
	if count <= 1 {
		return core.PreconditionFailed("cannot remove the last system administrator")
	}
	return nil
}
