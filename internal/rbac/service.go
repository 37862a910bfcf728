package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/shared"
)

// AuditPort records administrative changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SessionRevoker ends every session a user opened at or before a point in
// time.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Service orchestrates permission evaluation and administration.
type Service struct {
	store    Store
	cache    *Cache
	audit    AuditPort
	logger   *slog.Logger
	sessions SessionRevoker
	now      func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithSessionRevoker ends a user's sessions whenever their role changes.
func WithSessionRevoker(r SessionRevoker) ServiceOption {
	return func(s *Service) { s.sessions = r }
}

// NewService constructs a Service. cache and audit may be nil.
func NewService(store Store, cache *Cache, audit AuditPort, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, cache: cache, audit: audit, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectivePermissions returns role defaults ∪ user grants − user denials for
// the principal, served from the cache when fresh.
func (s *Service) EffectivePermissions(ctx context.Context, p Principal) (PermissionSet, error) {
	return s.cache.Load(ctx, p, func(ctx context.Context) (PermissionSet, error) {
		rolePerms, err := s.store.RolePermissions(ctx, p.Role)
		if err != nil {
			return nil, storeError(err)
		}
		grants, err := s.store.UserGrants(ctx, p.ID)
		if err != nil {
			return nil, storeError(err)
		}
		return Effective(rolePerms, grants), nil
	})
}

// Authorize succeeds when the principal holds at least one of required.
func (s *Service) Authorize(ctx context.Context, p Principal, required ...string) error {
	set, err := s.EffectivePermissions(ctx, p)
	if err != nil {
		return err
	}
	if set.HasAny(required...) {
		return nil
	}
	return &ForbiddenError{Required: normalizePermissions(required), Role: p.Role}
}

// ListRoles returns every role with its current permissions.
func (s *Service) ListRoles(ctx context.Context) ([]RoleInfo, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return roles, nil
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]PermissionInfo, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return perms, nil
}

// SetRolePermissions replaces the permissions of role and invalidates every
// cached principal.
func (s *Service) SetRolePermissions(ctx context.Context, actor Principal, role Role, perms []string) ([]string, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	for _, p := range perms {
		if err := ValidatePermission(p); err != nil {
			return nil, err
		}
	}
	normalized := NewPermissionSet(perms...).List()
	if err := s.requireRoleAuthority(ctx, actor, role); err != nil {
		return nil, err
	}
	if err := s.requireHeld(ctx, actor, normalized...); err != nil {
		return nil, err
	}
	if err := s.store.SetRolePermissions(ctx, role, normalized); err != nil {
		return nil, storeError(err)
	}
	s.cache.InvalidateAll(ctx)
	s.record(ctx, actor, "rbac.role.permissions_set", "role", string(role), map[string]any{"permissions": normalized})
	return normalized, nil
}

// ResetRoleToDefault restores the seeded permissions of role.
func (s *Service) ResetRoleToDefault(ctx context.Context, actor Principal, role Role) ([]string, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := s.requireRoleAuthority(ctx, actor, role); err != nil {
		return nil, err
	}
	defaults := DefaultsFor(role)
	if err := s.store.SetRolePermissions(ctx, role, defaults); err != nil {
		return nil, storeError(err)
	}
	s.cache.InvalidateAll(ctx)
	s.record(ctx, actor, "rbac.role.reset_default", "role", string(role), map[string]any{"permissions": defaults})
	return defaults, nil
}

// UserPermissions describes the role, overrides and effective set of a user.
func (s *Service) UserPermissions(ctx context.Context, userID uuid.UUID) (UserPermissions, error) {
	role, err := s.store.UserRole(ctx, userID)
	if err != nil {
		return UserPermissions{}, storeError(err)
	}
	rolePerms, err := s.store.RolePermissions(ctx, role)
	if err != nil {
		return UserPermissions{}, storeError(err)
	}
	grants, err := s.store.UserGrants(ctx, userID)
	if err != nil {
		return UserPermissions{}, storeError(err)
	}
	if grants == nil {
		grants = []Grant{}
	}
	return UserPermissions{
		UserID:    userID,
		Role:      role,
		Grants:    grants,
		Effective: Effective(rolePerms, grants).List(),
	}, nil
}

// GrantUserPermission adds a user override. A denied grant removes the exact
// permission from the user's role defaults.
func (s *Service) GrantUserPermission(ctx context.Context, actor Principal, userID uuid.UUID, permission string, denied bool) error {
	if err := ValidatePermission(permission); err != nil {
		return err
	}
	target, err := s.store.UserRole(ctx, userID)
	if err != nil {
		return storeError(err)
	}
	if err := s.requireRoleAuthority(ctx, actor, target); err != nil {
		return err
	}
	if err := s.requireHeld(ctx, actor, permission); err != nil {
		return err
	}
	if err := s.store.UpsertUserGrant(ctx, userID, Grant{Permission: permission, Denied: denied}); err != nil {
		return storeError(err)
	}
	s.cache.Invalidate(ctx, userID)
	s.record(ctx, actor, "rbac.user.permission_granted", "user", userID.String(), map[string]any{"permission": permission, "denied": denied})
	return nil
}

// RevokeUserPermission removes a user override.
func (s *Service) RevokeUserPermission(ctx context.Context, actor Principal, userID uuid.UUID, permission string) error {
	permission = normalizePermission(permission)
	target, err := s.store.UserRole(ctx, userID)
	if err != nil {
		return storeError(err)
	}
	if err := s.requireRoleAuthority(ctx, actor, target); err != nil {
		return err
	}
	if err := s.requireHeld(ctx, actor, permission); err != nil {
		return err
	}
	if err := s.store.DeleteUserGrant(ctx, userID, permission); err != nil {
		return storeError(err)
	}
	s.cache.Invalidate(ctx, userID)
	s.record(ctx, actor, "rbac.user.permission_revoked", "user", userID.String(), map[string]any{"permission": permission})
	return nil
}

// ChangeUserRole assigns a new role to the user and ends the sessions they
// opened under the previous role.
func (s *Service) ChangeUserRole(ctx context.Context, actor Principal, userID uuid.UUID, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	previous, err := s.store.UserRole(ctx, userID)
	if err != nil {
		return storeError(err)
	}
	if err := s.requireRoleAuthority(ctx, actor, previous); err != nil {
		return err
	}
	if err := s.requireRoleAuthority(ctx, actor, role); err != nil {
		return err
	}
	at := s.now()
	if err := s.store.SetUserRole(ctx, userID, role); err != nil {
		return storeError(err)
	}
	s.cache.Invalidate(ctx, userID)
	if s.sessions != nil && previous != role {
		if err := s.sessions.RevokeUser(ctx, userID, at); err != nil {
			return httpx.Upstream(fmt.Errorf("rbac: end sessions of %s: %w", userID, err))
		}
	}
	s.record(ctx, actor, "rbac.user.role_changed", "user", userID.String(), map[string]any{"from": string(previous), "to": string(role)})
	return nil
}

// requireHeld fails unless the actor's own effective set covers every
// permission in perms. Admins cannot hand out or take away more than they hold.
func (s *Service) requireHeld(ctx context.Context, actor Principal, perms ...string) error {
	set, err := s.EffectivePermissions(ctx, actor)
	if err != nil {
		return err
	}
	var missing []string
	for _, p := range perms {
		if !set.Has(p) {
			missing = append(missing, normalizePermission(p))
		}
	}
	if len(missing) > 0 {
		return &ForbiddenError{Required: missing, Role: actor.Role}
	}
	return nil
}

// requireRoleAuthority guards the super_admin role and its members: only a
// holder of *:*:* may edit, assign or remove it.
func (s *Service) requireRoleAuthority(ctx context.Context, actor Principal, role Role) error {
	if role != RoleSuperAdmin {
		return nil
	}
	return s.requireHeld(ctx, actor, SuperAdminPermission)
}

func (s *Service) record(ctx context.Context, actor Principal, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
	if err != nil {
		s.logger.Error("rbac audit", slog.String("action", action), slog.Any("error", err))
	}
}

func storeError(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, httpx.ErrValidation) {
		return err
	}
	return httpx.Upstream(err)
}
