package releases

import (
	"strings"

	"github.com/mscandco/platform/internal/rbac"
)

// Edge is one permitted status transition.
type Edge struct {
	From           Status
	To             Status
	Kind           string
	Initiators     []rbac.Role
	ReasonRequired bool
	Permission     string
}

// workflow is the complete list of edges; anything absent is invalid.
var workflow = []Edge{
	{From: StatusDraft, To: StatusSubmitted, Kind: "submitted",
		Initiators: []rbac.Role{rbac.RoleArtist, rbac.RoleLabelAdmin}, Permission: rbac.PermReleaseSubmitOwn},
	{From: StatusSubmitted, To: StatusInReview, Kind: "review_started",
		Initiators: []rbac.Role{rbac.RoleDistributionPartner}, Permission: rbac.PermReleaseReviewAny},
	{From: StatusSubmitted, To: StatusDraft, Kind: "withdrawn",
		Initiators: []rbac.Role{rbac.RoleArtist, rbac.RoleLabelAdmin, rbac.RoleDistributionPartner}, Permission: rbac.PermReleaseWithdrawOwn},
	{From: StatusInReview, To: StatusCompleted, Kind: "approved",
		Initiators: []rbac.Role{rbac.RoleDistributionPartner}, Permission: rbac.PermReleaseApproveAny},
	{From: StatusInReview, To: StatusRevision, Kind: "denied", ReasonRequired: true,
		Initiators: []rbac.Role{rbac.RoleDistributionPartner}, Permission: rbac.PermReleaseDenyAny},
	{From: StatusCompleted, To: StatusLive, Kind: "published",
		Initiators: []rbac.Role{rbac.RoleDistributionPartner}, Permission: rbac.PermReleasePublishAny},
	{From: StatusLive, To: StatusRevision, Kind: "update_requested", ReasonRequired: true,
		Initiators: []rbac.Role{rbac.RoleArtist}, Permission: rbac.PermReleaseRequestUpdateOwn},
	{From: StatusRevision, To: StatusInReview, Kind: "revision_accepted",
		Initiators: []rbac.Role{rbac.RoleDistributionPartner}, Permission: rbac.PermReleaseApproveAny},
	{From: StatusRevision, To: StatusDraft, Kind: "pushed_back", ReasonRequired: true,
		Initiators: []rbac.Role{rbac.RoleDistributionPartner}, Permission: rbac.PermReleasePushBackAny},
}

// FindEdge returns the edge from -> to when the workflow lists it.
func FindEdge(from, to Status) (Edge, bool) {
	for _, e := range workflow {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// Edges returns a copy of the workflow.
func Edges() []Edge {
	out := make([]Edge, len(workflow))
	copy(out, workflow)
	return out
}

// AllowsRole reports whether role may initiate the edge. Platform admins may
// take any listed edge.
func (e Edge) AllowsRole(role rbac.Role) bool {
	if role.IsPlatformAdmin() {
		return true
	}
	for _, r := range e.Initiators {
		if r == role {
			return true
		}
	}
	return false
}

// ownScoped reports whether the edge is limited to releases the actor owns.
func (e Edge) ownScoped() bool {
	return strings.HasSuffix(e.Permission, ":own")
}

// AvailableTransitions lists the edges role may take from status.
func AvailableTransitions(from Status, role rbac.Role) []Edge {
	var out []Edge
	for _, e := range workflow {
		if e.From == from && e.AllowsRole(role) {
			out = append(out, e)
		}
	}
	return out
}

// TransitionPermissions lists every edge permission, used to guard the status endpoint.
func TransitionPermissions() []string {
	seen := make(map[string]struct{}, len(workflow))
	out := make([]string, 0, len(workflow)+1)
	for _, e := range workflow {
		if _, ok := seen[e.Permission]; ok {
			continue
		}
		seen[e.Permission] = struct{}{}
		out = append(out, e.Permission)
	}
	return append(out, rbac.PermReleaseWithdrawAny)
}
