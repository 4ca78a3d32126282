// Package users manages the user population and the login path. Role
// changes are governed by the admin-management rules: only a system admin
// may touch another system admin, and the last system admin can never be
// demoted or deactivated.
package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/db/repository"
	"github.com/7D-Solutions/gaugecore/security"
)

// Service coordinates user management and credential verification.
type Service struct {
	users    repository.UserRepository
	runner   db.Runner
	log      audit.Appender
	gate     *auth.Gate
	jwt      *security.JWTService
	tokenTTL time.Duration
	logger   *logrus.Logger
}

// NewService creates the user service. tokenTTL bounds issued tokens.
func NewService(users repository.UserRepository, runner db.Runner, log audit.Appender, gate *auth.Gate, jwt *security.JWTService, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		users:    users,
		runner:   runner,
		log:      log,
		gate:     gate,
		jwt:      jwt,
		tokenTTL: tokenTTL,
		logger:   common.Logger,
	}
}

// Create registers a user with a hashed password. Creating a system admin
// requires the caller to be one.
func (s *Service) Create(ctx context.Context, caller *auth.Caller, email, displayName, role, password string) (*repository.User, error) {
	if err := s.gate.Authorize(caller, auth.CapUserManage); err != nil {
		return nil, err
	}
	if role == auth.RoleSystemAdmin && (caller == nil || !caller.IsSystemAdmin()) {
		return nil, core.PermissionDenied(string(auth.CapSystemAdmin))
	}
	if !auth.ValidRole(role) {
		return nil, core.Validation("role", "unknown role "+role)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, core.Validation("email", "email is required")
	}
	if len(password) < 8 {
		return nil, core.Validation("password", "password must be at least 8 characters")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}

	var created *repository.User
	err = s.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
		created, err = s.users.Create(ctx, tx, &repository.User{
			ID:           uuid.NewString(),
			Email:        email,
			DisplayName:  displayName,
			Role:         role,
			PasswordHash: hash,
			Active:       true,
		})
		if err != nil {
			return err
		}
		_, err = s.log.Append(ctx, tx, caller.UserID, audit.ActionUserCreated, "user",
			created.ID, nil, created, audit.SeverityInfo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ChangeRole moves a user to a new role under the admin-management rules.
func (s *Service) ChangeRole(ctx context.Context, caller *auth.Caller, targetUserID, newRole string) error {
	if !auth.ValidRole(newRole) {
		return core.Validation("role", "unknown role "+newRole)
	}
	if err := s.gate.CanManageTarget(ctx, caller, targetUserID); err != nil {
		return err
	}
	if newRole == auth.RoleSystemAdmin && !caller.IsSystemAdmin() {
		return core.PermissionDenied(string(auth.CapSystemAdmin))
	}
	if newRole != auth.RoleSystemAdmin {
		// Demotions out of system_admin must leave at least one.
		if err := s.gate.CheckAdminRemoval(ctx, caller, targetUserID); err != nil {
			return err
		}
	}

	return s.runner.WithTx(ctx, func(ctx context.Context, tx db.Tx) error {
		target, err := s.users.Get(ctx, targetUserID)
		if err != nil {
			return err
		}
		if target.Role == newRole {
			return nil
		}
		if err := s.users.UpdateRole(ctx, tx, targetUserID, newRole); err != nil {
			return err
		}
		_, err = s.log.Append(ctx, tx, caller.UserID, audit.ActionUserRoleChanged, "user",
			targetUserID,
			map[string]string{"role": target.Role},
			map[string]string{"role": newRole},
			audit.SeverityCritical)
		return err
	})
}

// Get returns a user record.
func (s *Service) Get(ctx context.Context, caller *auth.Caller, userID string) (*repository.User, error) {
	if err := s.gate.Authorize(caller, auth.CapUserManage); err != nil {
		return nil, err
	}
	return s.users.Get(ctx, userID)
}

// Login verifies credentials and issues a signed token. Failures are
// deliberately indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, *auth.Caller, error) {
	denied := &core.Error{Kind: core.KindPermissionDenied, Message: "invalid credentials"}

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", nil, denied
	}
	if !user.Active {
		return "", nil, denied
	}
	if err := security.VerifyPassword(user.PasswordHash, password); err != nil {
		s.logger.WithField("user_id", user.ID).Warn("failed login attempt")
		return "", nil, denied
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Role, s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	return token, auth.CallerFor(user.ID, user.Role), nil
}
