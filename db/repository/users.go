package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db"
)

const userColumns = `id, email, display_name, role, password_hash, active, created_at`

// Create inserts a directory account.
func (r *Users) Create(ctx context.Context, tx db.Tx, u *User) (*User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.q(tx).Exec(ctx,
		`INSERT INTO users (id, email, display_name, role, password_hash, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.DisplayName, u.Role, u.PasswordHash, u.Active, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, core.Conflict(fmt.Sprintf("user %s already exists", u.Email))
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

// Get returns the account by id.
func (r *Users) Get(ctx context.Context, id string) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the account by email.
func (r *Users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *Users) one(ctx context.Context, query, key string) (*User, error) {
	u := &User{}
	err := r.q(nil).QueryRow(ctx, query, key).Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NotFound("user", key)
		}
		return nil, fmt.Errorf("failed to load user %s: %w", key, err)
	}
	return u, nil
}

// UpdateRole changes the account's role.
func (r *Users) UpdateRole(ctx context.Context, tx db.Tx, id, role string) error {
	tag, err := r.q(tx).Exec(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("failed to update role for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("user", id)
	}
	return nil
}

// IsSystemAdmin reports whether the user holds the system admin role.
func (r *Users) IsSystemAdmin(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := r.q(nil).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND role = 'system_admin' AND active)`,
		userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check admin role for %s: %w", userID, err)
	}
	return ok, nil
}

// CountSystemAdmins counts active system admins.
func (r *Users) CountSystemAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.q(nil).QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE role = 'system_admin' AND active`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count system admins: %w", err)
	}
	return n, nil
}
