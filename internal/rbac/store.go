package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscandco/platform/internal/platform/db"
)

// Store persists role defaults, user overrides and role assignments.
type Store interface {
	RolePermissions(ctx context.Context, role Role) ([]string, error)
	UserGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error)
	ListRoles(ctx context.Context) ([]RoleInfo, error)
	ListPermissions(ctx context.Context) ([]PermissionInfo, error)
	SetRolePermissions(ctx context.Context, role Role, perms []string) error
	UpsertUserGrant(ctx context.Context, userID uuid.UUID, grant Grant) error
	DeleteUserGrant(ctx context.Context, userID uuid.UUID, permission string) error
	UserRole(ctx context.Context, userID uuid.UUID) (Role, error)
	SetUserRole(ctx context.Context, userID uuid.UUID, role Role) error
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// RolePermissions returns the permission names assigned to role.
func (s *PGStore) RolePermissions(ctx context.Context, role Role) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT permission FROM role_permissions WHERE role = $1 ORDER BY permission`, string(role))
	if err != nil {
		return nil, fmt.Errorf("rbac: role permissions: %w", err)
	}
	perms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("rbac: role permissions: %w", err)
	}
	return perms, nil
}

// UserGrants returns the per-user overrides.
func (s *PGStore) UserGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error) {
	rows, err := s.pool.Query(ctx, `SELECT permission, denied FROM user_permissions WHERE user_id = $1 ORDER BY permission`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user grants: %w", err)
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.Permission, &g.Denied); err != nil {
			return nil, fmt.Errorf("rbac: scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: user grants: %w", err)
	}
	return grants, nil
}

// ListRoles returns every role with its assigned permissions.
func (s *PGStore) ListRoles(ctx context.Context) ([]RoleInfo, error) {
	rows, err := s.pool.Query(ctx, `
SELECT r.name, r.description, COALESCE(array_agg(rp.permission ORDER BY rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role = r.name
GROUP BY r.name, r.description
ORDER BY r.name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []RoleInfo
	for rows.Next() {
		var (
			info RoleInfo
			name string
		)
		if err := rows.Scan(&name, &info.Description, &info.Permissions); err != nil {
			return nil, fmt.Errorf("rbac: scan role: %w", err)
		}
		info.Name = Role(name)
		roles = append(roles, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	return roles, nil
}

// ListPermissions returns the permission catalogue.
func (s *PGStore) ListPermissions(ctx context.Context) ([]PermissionInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []PermissionInfo
	for rows.Next() {
		var p PermissionInfo
		if err := rows.Scan(&p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("rbac: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	return perms, nil
}

// SetRolePermissions replaces the permissions of role atomically. Unknown
// permission names are added to the catalogue.
func (s *PGStore) SetRolePermissions(ctx context.Context, role Role, perms []string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, string(role), role.Description()); err != nil {
			return fmt.Errorf("rbac: ensure role: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1`, string(role)); err != nil {
			return fmt.Errorf("rbac: clear role permissions: %w", err)
		}
		batch := &pgx.Batch{}
		for _, p := range perms {
			batch.Queue(`INSERT INTO permissions (name, description) VALUES ($1, '') ON CONFLICT (name) DO NOTHING`, p)
			batch.Queue(`INSERT INTO role_permissions (role, permission) VALUES ($1, $2)`, string(role), p)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("rbac: attach role permissions: %w", err)
		}
		return nil
	})
}

// UpsertUserGrant stores or replaces a user override.
func (s *PGStore) UpsertUserGrant(ctx context.Context, userID uuid.UUID, grant Grant) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_permissions (user_id, permission, denied, granted_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id, permission) DO UPDATE SET denied = EXCLUDED.denied, granted_at = NOW()`,
		userID, grant.Permission, grant.Denied)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("rbac: upsert grant: %w", err)
	}
	return nil
}

// DeleteUserGrant removes a user override. Returns ErrNotFound when absent.
func (s *PGStore) DeleteUserGrant(ctx context.Context, userID uuid.UUID, permission string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission = $2`, userID, permission)
	if err != nil {
		return fmt.Errorf("rbac: delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UserRole returns the role assigned to the user.
func (s *PGStore) UserRole(ctx context.Context, userID uuid.UUID) (Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("rbac: user role: %w", err)
	}
	return Role(role), nil
}

// SetUserRole assigns role to the user.
func (s *PGStore) SetUserRole(ctx context.Context, userID uuid.UUID, role Role) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, userID, string(role))
	if err != nil {
		return fmt.Errorf("rbac: set user role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
