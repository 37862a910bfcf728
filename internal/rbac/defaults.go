package rbac

import "sort"

// Release permissions.
const (
	PermReleaseViewOwn          = "release:view:own"
	PermReleaseViewAny          = "release:view:any"
	PermReleaseCreateOwn        = "release:create:own"
	PermReleaseUpdateOwn        = "release:update:own"
	PermReleaseUpdateAny        = "release:update:any"
	PermReleaseSubmitOwn        = "release:submit:own"
	PermReleaseWithdrawOwn      = "release:withdraw:own"
	PermReleaseWithdrawAny      = "release:withdraw:any"
	PermReleaseReviewAny        = "release:review:any"
	PermReleaseApproveAny       = "release:approve:any"
	PermReleaseDenyAny          = "release:deny:any"
	PermReleasePublishAny       = "release:publish:any"
	PermReleaseRequestUpdateOwn = "release:request_update:own"
	PermReleasePushBackAny      = "release:push_back:any"
)

// Administration permissions.
const (
	PermRoleReadAny       = "role:read:any"
	PermRoleUpdateAny     = "role:update:any"
	PermPermissionReadAny = "permission:read:any"
	PermUserReadAny       = "user:read:any"
	PermUserUpdateAny     = "user:update:any"
)

var catalogue = []PermissionInfo{
	{Name: PermReleaseViewOwn, Description: "View releases the user owns"},
	{Name: PermReleaseViewAny, Description: "View every release"},
	{Name: PermReleaseCreateOwn, Description: "Create releases"},
	{Name: PermReleaseUpdateOwn, Description: "Edit metadata of owned releases"},
	{Name: PermReleaseUpdateAny, Description: "Edit metadata of any release"},
	{Name: PermReleaseSubmitOwn, Description: "Submit owned drafts for distribution"},
	{Name: PermReleaseWithdrawOwn, Description: "Withdraw owned submissions back to draft"},
	{Name: PermReleaseWithdrawAny, Description: "Return any submission to draft"},
	{Name: PermReleaseReviewAny, Description: "Start review of submitted releases"},
	{Name: PermReleaseApproveAny, Description: "Approve releases under review or revision"},
	{Name: PermReleaseDenyAny, Description: "Send releases back for revision"},
	{Name: PermReleasePublishAny, Description: "Mark completed releases live"},
	{Name: PermReleaseRequestUpdateOwn, Description: "Request changes to owned live releases"},
	{Name: PermReleasePushBackAny, Description: "Push releases in revision back to draft"},
	{Name: PermRoleReadAny, Description: "List roles and their permissions"},
	{Name: PermRoleUpdateAny, Description: "Change or reset role permissions"},
	{Name: PermPermissionReadAny, Description: "List the permission catalogue"},
	{Name: PermUserReadAny, Description: "Inspect user permissions"},
	{Name: PermUserUpdateAny, Description: "Change user roles and permission overrides"},
	{Name: "analytics:view:any", Description: "View platform analytics"},
	{Name: "analytics:manage:any", Description: "Manage analytics data"},
	{Name: "earnings:view:own", Description: "View own earnings"},
	{Name: "earnings:view:any", Description: "View all earnings"},
	{Name: "earnings:update:any", Description: "Manage wallets and splits"},
	{Name: "roster:view:own", Description: "View own roster"},
	{Name: "roster:manage:any", Description: "Manage artist rosters"},
	{Name: "request:view:any", Description: "View support and change requests"},
	{Name: "request:update:any", Description: "Resolve support and change requests"},
	{Name: "content:moderate:any", Description: "Moderate release content"},
	{Name: "marketing:manage:any", Description: "Manage marketing campaigns"},
	{Name: SuperAdminPermission, Description: "Unrestricted access"},
}

var releaseOwnerDefaults = []string{
	PermReleaseViewOwn,
	PermReleaseCreateOwn,
	PermReleaseUpdateOwn,
	PermReleaseSubmitOwn,
	PermReleaseWithdrawOwn,
}

var adminDefaults = []string{
	PermRoleReadAny,
	PermRoleUpdateAny,
	PermPermissionReadAny,
	PermUserReadAny,
	PermUserUpdateAny,
}

// DefaultRolePermissions lists the seeded permissions for every role. Reset to
// default restores exactly these entries.
var DefaultRolePermissions = map[Role][]string{
	RoleArtist: append(append([]string{}, releaseOwnerDefaults...),
		PermReleaseRequestUpdateOwn,
		"earnings:view:own",
		"roster:view:own",
	),
	RoleLabelAdmin: append(append([]string{}, releaseOwnerDefaults...),
		"earnings:view:own",
		"roster:view:own",
	),
	RoleDistributionPartner: {
		PermReleaseViewAny,
		PermReleaseUpdateAny,
		PermReleaseWithdrawAny,
		PermReleaseReviewAny,
		PermReleaseApproveAny,
		PermReleaseDenyAny,
		PermReleasePublishAny,
		PermReleasePushBackAny,
	},
	RoleCompanyAdmin: append([]string{"release:*:*"}, adminDefaults...),
	RoleSuperAdmin:   {SuperAdminPermission},
	RoleAnalyticsAdmin: {
		PermReleaseViewAny,
		"analytics:view:any",
		"analytics:manage:any",
		"request:view:any",
	},
	RoleFinancialAdmin: {
		"earnings:view:any",
		"earnings:update:any",
	},
	RoleContentModerator: {
		PermReleaseViewAny,
		"content:moderate:any",
	},
	RoleRosterAdmin: {
		"roster:manage:any",
		PermReleaseViewAny,
	},
	RoleRequestsAdmin: {
		"request:view:any",
		"request:update:any",
	},
	RoleMarketingAdmin: {
		PermReleaseViewAny,
		"marketing:manage:any",
	},
	RoleSupportAdmin: {
		"request:view:any",
		"request:update:any",
		PermUserReadAny,
	},
	RoleCustomAdmin: {},
}

// DefaultsFor returns a copy of the seeded permissions for role.
func DefaultsFor(role Role) []string {
	perms := DefaultRolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	sort.Strings(out)
	return out
}

// Catalogue returns the known permissions sorted by name.
func Catalogue() []PermissionInfo {
	out := make([]PermissionInfo, len(catalogue))
	copy(out, catalogue)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var roleDescriptions = map[Role]string{
	RoleArtist:              "Independent artist managing their own releases",
	RoleLabelAdmin:          "Label administrator acting for signed artists",
	RoleDistributionPartner: "Distribution partner reviewing and publishing releases",
	RoleCompanyAdmin:        "Company administrator",
	RoleSuperAdmin:          "Platform super administrator",
	RoleAnalyticsAdmin:      "Analytics administrator",
	RoleFinancialAdmin:      "Finance administrator",
	RoleContentModerator:    "Content moderator",
	RoleRosterAdmin:         "Roster administrator",
	RoleRequestsAdmin:       "Requests administrator",
	RoleMarketingAdmin:      "Marketing administrator",
	RoleSupportAdmin:        "Support administrator",
	RoleCustomAdmin:         "Administrator with a custom permission set",
}

// Description returns the human readable summary of r.
func (r Role) Description() string {
	return roleDescriptions[r]
}
