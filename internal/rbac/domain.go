package rbac

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the fixed role assigned to every user account.
type Role string

const (
	RoleArtist              Role = "artist"
	RoleLabelAdmin          Role = "label_admin"
	RoleDistributionPartner Role = "distribution_partner"
	RoleCompanyAdmin        Role = "company_admin"
	RoleSuperAdmin          Role = "super_admin"
	RoleAnalyticsAdmin      Role = "analytics_admin"
	RoleFinancialAdmin      Role = "financial_admin"
	RoleContentModerator    Role = "content_moderator"
	RoleRosterAdmin         Role = "roster_admin"
	RoleRequestsAdmin       Role = "requests_admin"
	RoleMarketingAdmin      Role = "marketing_admin"
	RoleSupportAdmin        Role = "support_admin"
	RoleCustomAdmin         Role = "custom_admin"
)

var knownRoles = []Role{
	RoleArtist,
	RoleLabelAdmin,
	RoleDistributionPartner,
	RoleCompanyAdmin,
	RoleSuperAdmin,
	RoleAnalyticsAdmin,
	RoleFinancialAdmin,
	RoleContentModerator,
	RoleRosterAdmin,
	RoleRequestsAdmin,
	RoleMarketingAdmin,
	RoleSupportAdmin,
	RoleCustomAdmin,
}

// Roles returns every known role.
func Roles() []Role {
	out := make([]Role, len(knownRoles))
	copy(out, knownRoles)
	return out
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range knownRoles {
		if r == known {
			return true
		}
	}
	return false
}

// IsPlatformAdmin reports whether r administers the whole platform.
func (r Role) IsPlatformAdmin() bool {
	return r == RoleCompanyAdmin || r == RoleSuperAdmin
}

// ParseRole converts s into a known Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Principal describes the authenticated actor. Role is resolved once at
// authentication time and never re-derived from other attributes.
type Principal struct {
	ID    uuid.UUID
	Email string
	Role  Role
}

// Grant is a user-level permission override. Denied grants remove the exact
// permission name from the role defaults.
type Grant struct {
	Permission string `json:"permission"`
	Denied     bool   `json:"denied"`
}

// RoleInfo describes a role and its assigned permissions.
type RoleInfo struct {
	Name        Role
	Description string
	Permissions []string
}

// PermissionInfo describes a catalogued permission.
type PermissionInfo struct {
	Name        string
	Description string
}

// UserPermissions is the admin view of a single user's access.
type UserPermissions struct {
	UserID    uuid.UUID
	Role      Role
	Grants    []Grant
	Effective []string
}

// Effective computes role defaults ∪ granted overrides − denied overrides.
func Effective(rolePermissions []string, grants []Grant) PermissionSet {
	set := NewPermissionSet(rolePermissions...)
	var denied []string
	for _, g := range grants {
		if g.Denied {
			denied = append(denied, g.Permission)
			continue
		}
		if p := normalizePermission(g.Permission); p != "" {
			set[p] = struct{}{}
		}
	}
	if len(denied) == 0 {
		return set
	}
	return set.Without(denied...)
}
