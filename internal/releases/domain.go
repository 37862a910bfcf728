package releases

import (
	"time"

	"github.com/google/uuid"

	"github.com/mscandco/platform/internal/rbac"
)

// Status enumerates release workflow states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusInReview  Status = "in_review"
	StatusCompleted Status = "completed"
	StatusLive      Status = "live"
	StatusRevision  Status = "revision"
)

var allStatuses = []Status{StatusDraft, StatusSubmitted, StatusInReview, StatusCompleted, StatusLive, StatusRevision}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Editable reports whether metadata may change while in s.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusSubmitted
}

var editableStatuses = []Status{StatusDraft, StatusSubmitted}

var statusMessages = map[Status]string{
	StatusDraft:     "Your release is back in draft and can be edited.",
	StatusSubmitted: "Your release has been submitted for review.",
	StatusInReview:  "Your release is currently under review by our distribution team.",
	StatusCompleted: "Your release has been distributed to all platforms and will go live soon.",
	StatusLive:      "Your release is now live on all streaming platforms.",
	StatusRevision:  "Your release needs changes. Please check the notes.",
}

// Message returns the notification text for entering s.
func (s Status) Message() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return "Release status has been updated."
}

// Metadata holds free-form release attributes (tracks, credits, artwork refs).
type Metadata map[string]any

// Release is the aggregate moved through the distribution workflow.
type Release struct {
	ID                    uuid.UUID
	Status                Status
	ArtistID              uuid.UUID
	LabelAdminID          *uuid.UUID
	DistributionPartnerID *uuid.UUID
	Title                 string
	Genre                 string
	ReleaseDate           *time.Time
	Metadata              Metadata
	CreatedBy             uuid.UUID
	CreatedAt             time.Time
	UpdatedAt             time.Time
	SubmittedAt           *time.Time
}

// OwnedBy reports whether userID is the artist, label admin or creator.
func (r Release) OwnedBy(userID uuid.UUID) bool {
	if userID == uuid.Nil {
		return false
	}
	if r.ArtistID == userID || r.CreatedBy == userID {
		return true
	}
	return r.LabelAdminID != nil && *r.LabelAdminID == userID
}

// HistoryEntry records one applied status transition.
type HistoryEntry struct {
	ID        uuid.UUID
	ReleaseID uuid.UUID
	From      Status
	To        Status
	Kind      string
	ActorID   uuid.UUID
	ActorRole rbac.Role
	Reason    string
	CreatedAt time.Time
}

// StatusChange describes a conditional status write.
type StatusChange struct {
	From           Status
	To             Status
	At             time.Time
	SetSubmittedAt bool
}

// ListFilter narrows release listings.
type ListFilter struct {
	OwnerID *uuid.UUID
	Status  *Status
	Limit   int
	Offset  int
}

// CreateInput describes a new draft release.
type CreateInput struct {
	Title        string
	Genre        string
	ReleaseDate  *time.Time
	Metadata     Metadata
	ArtistID     *uuid.UUID
	LabelAdminID *uuid.UUID
}

// MetadataPatch lists the editable fields; nil fields are left untouched.
// Metadata keys are merged and a null value removes the key.
type MetadataPatch struct {
	Title       *string
	Genre       *string
	ReleaseDate *time.Time
	Metadata    Metadata
}

// StatusChangedEvent is published after a transition commits.
type StatusChangedEvent struct {
	ReleaseID uuid.UUID `json:"release_id"`
	Title     string    `json:"title"`
	ArtistID  uuid.UUID `json:"artist_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Kind      string    `json:"kind"`
	ActorID   uuid.UUID `json:"actor_id"`
	ActorRole rbac.Role `json:"actor_role"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}
