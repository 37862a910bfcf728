package releases

import (
	"time"

	"github.com/google/uuid"

	"github.com/mscandco/platform/internal/rbac"
)

const dateLayout = "2006-01-02"

type createRequest struct {
	Title        string   `json:"title" validate:"required,max=200"`
	Genre        string   `json:"genre" validate:"max=100"`
	ReleaseDate  string   `json:"release_date" validate:"omitempty,datetime=2006-01-02"`
	ArtistID     string   `json:"artist_id" validate:"omitempty,uuid"`
	LabelAdminID string   `json:"label_admin_id" validate:"omitempty,uuid"`
	Metadata     Metadata `json:"metadata"`
}

func (r createRequest) input() CreateInput {
	return CreateInput{
		Title:        r.Title,
		Genre:        r.Genre,
		ReleaseDate:  parseDate(r.ReleaseDate),
		Metadata:     r.Metadata,
		ArtistID:     parseOptionalUUID(r.ArtistID),
		LabelAdminID: parseOptionalUUID(r.LabelAdminID),
	}
}

type patchRequest struct {
	Title       *string  `json:"title" validate:"omitempty,max=200"`
	Genre       *string  `json:"genre" validate:"omitempty,max=100"`
	ReleaseDate *string  `json:"release_date" validate:"omitempty,datetime=2006-01-02"`
	Metadata    Metadata `json:"metadata"`
}

func (r patchRequest) patch() MetadataPatch {
	p := MetadataPatch{Title: r.Title, Genre: r.Genre, Metadata: r.Metadata}
	if r.ReleaseDate != nil {
		p.ReleaseDate = parseDate(*r.ReleaseDate)
	}
	return p
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=2000"`
}

type transitionResponse struct {
	To             Status `json:"to"`
	Kind           string `json:"kind"`
	ReasonRequired bool   `json:"reason_required"`
}

type releaseResponse struct {
	ID                    string               `json:"id"`
	Status                Status               `json:"status"`
	Title                 string               `json:"title"`
	Genre                 string               `json:"genre,omitempty"`
	ReleaseDate           string               `json:"release_date,omitempty"`
	ArtistID              string               `json:"artist_id"`
	LabelAdminID          string               `json:"label_admin_id,omitempty"`
	DistributionPartnerID string               `json:"distribution_partner_id,omitempty"`
	Metadata              Metadata             `json:"metadata"`
	CreatedBy             string               `json:"created_by"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
	SubmittedAt           *time.Time           `json:"submitted_at,omitempty"`
	AvailableTransitions  []transitionResponse `json:"available_transitions,omitempty"`
}

type historyResponse struct {
	ID        string    `json:"id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actor_id"`
	ActorRole rbac.Role `json:"actor_role"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type listResponse struct {
	Items   []releaseResponse `json:"items"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	Total   int               `json:"total"`
	HasMore bool              `json:"has_more"`
}

func toReleaseResponse(rel Release) releaseResponse {
	out := releaseResponse{
		ID:          rel.ID.String(),
		Status:      rel.Status,
		Title:       rel.Title,
		Genre:       rel.Genre,
		ArtistID:    rel.ArtistID.String(),
		Metadata:    rel.Metadata,
		CreatedBy:   rel.CreatedBy.String(),
		CreatedAt:   rel.CreatedAt,
		UpdatedAt:   rel.UpdatedAt,
		SubmittedAt: rel.SubmittedAt,
	}
	if out.Metadata == nil {
		out.Metadata = Metadata{}
	}
	if rel.ReleaseDate != nil {
		out.ReleaseDate = rel.ReleaseDate.Format(dateLayout)
	}
	if rel.LabelAdminID != nil {
		out.LabelAdminID = rel.LabelAdminID.String()
	}
	if rel.DistributionPartnerID != nil {
		out.DistributionPartnerID = rel.DistributionPartnerID.String()
	}
	return out
}

func withTransitions(out releaseResponse, role rbac.Role) releaseResponse {
	for _, e := range AvailableTransitions(out.Status, role) {
		out.AvailableTransitions = append(out.AvailableTransitions, transitionResponse{
			To:             e.To,
			Kind:           e.Kind,
			ReasonRequired: e.ReasonRequired,
		})
	}
	return out
}

func toHistoryResponse(e HistoryEntry) historyResponse {
	return historyResponse{
		ID:        e.ID.String(),
		From:      e.From,
		To:        e.To,
		Kind:      e.Kind,
		ActorID:   e.ActorID.String(),
		ActorRole: e.ActorRole,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func parseOptionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
