package releases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
	"github.com/mscandco/platform/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	notifyTimeout   = 5 * time.Second
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Release, error)
	List(ctx context.Context, filter ListFilter) ([]Release, int, error)
	Insert(ctx context.Context, rel Release) error
	UpdateMetadata(ctx context.Context, rel Release, editable []Status) (Release, error)
	History(ctx context.Context, releaseID uuid.UUID) ([]HistoryEntry, error)
}

// Notifier receives committed status changes.
type Notifier interface {
	ReleaseStatusChanged(ctx context.Context, event StatusChangedEvent) error
}

// IdempotencyPort guards release creation against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates the release entity store and status workflow.
type Service struct {
	repo        RepositoryPort
	permissions rbac.PermissionSource
	notifier    Notifier
	idempotency IdempotencyPort
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithNotifier sets the post-commit notification sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithIdempotency enables Idempotency-Key handling on create.
func WithIdempotency(store IdempotencyPort) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the release service.
func NewService(repo RepositoryPort, permissions rbac.PermissionSource, opts ...Option) *Service {
	s := &Service{repo: repo, permissions: permissions, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Create stores a new draft release owned by the actor. A non-empty
// idempotencyKey makes replays fail with httpx.ErrDuplicate.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, input CreateInput, idempotencyKey string) (Release, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Release{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	set, err := s.permissionsOf(ctx, actor)
	if err != nil {
		return Release{}, err
	}
	if !set.Has(rbac.PermReleaseCreateOwn) {
		return Release{}, &rbac.ForbiddenError{Required: []string{rbac.PermReleaseCreateOwn}, Role: actor.Role}
	}

	artistID := actor.ID
	if input.ArtistID != nil && *input.ArtistID != actor.ID {
		if actor.Role != rbac.RoleLabelAdmin && !actor.Role.IsPlatformAdmin() {
			return Release{}, fmt.Errorf("%w: only label admins may create releases for another artist", ErrInvalidInput)
		}
		artistID = *input.ArtistID
	}
	labelAdminID := input.LabelAdminID
	if actor.Role == rbac.RoleLabelAdmin {
		id := actor.ID
		labelAdminID = &id
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "releases.create"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Release{}, fmt.Errorf("releases: %w: idempotency key already used", httpx.ErrDuplicate)
			}
			return Release{}, httpx.Upstream(err)
		}
	}

	now := s.now().UTC()
	metadata := input.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	rel := Release{
		ID:           uuid.New(),
		Status:       StatusDraft,
		ArtistID:     artistID,
		LabelAdminID: labelAdminID,
		Title:        title,
		Genre:        strings.TrimSpace(input.Genre),
		ReleaseDate:  input.ReleaseDate,
		Metadata:     metadata,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, rel); err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(ctx, idempotencyKey); delErr != nil {
				s.logger.Warn("releases idempotency rollback", slog.Any("error", delErr))
			}
		}
		return Release{}, repoError(err)
	}
	return rel, nil
}

// Get returns a release visible to the actor.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id uuid.UUID) (Release, error) {
	rel, err := s.repo.Get(ctx, id)
	if err != nil {
		return Release{}, repoError(err)
	}
	if err := s.authorizeScoped(ctx, actor, rel, rbac.PermReleaseViewAny, rbac.PermReleaseViewOwn); err != nil {
		return Release{}, err
	}
	return rel, nil
}

// List returns the releases visible to the actor. Principals holding only
// the own scope see releases they are artist, label admin or creator of.
func (s *Service) List(ctx context.Context, actor rbac.Principal, filter ListFilter) ([]Release, shared.Page, error) {
	set, err := s.permissionsOf(ctx, actor)
	if err != nil {
		return nil, shared.Page{}, err
	}
	switch {
	case set.Has(rbac.PermReleaseViewAny):
		filter.OwnerID = nil
	case set.Has(rbac.PermReleaseViewOwn):
		id := actor.ID
		filter.OwnerID = &id
	default:
		return nil, shared.Page{}, &rbac.ForbiddenError{Required: []string{rbac.PermReleaseViewOwn, rbac.PermReleaseViewAny}, Role: actor.Role}
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, shared.Page{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *filter.Status)
	}
	filter.Limit, filter.Offset = shared.ClampWindow(filter.Limit, filter.Offset, defaultPageSize, maxPageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Page{}, repoError(err)
	}
	return items, shared.NewPage(filter.Limit, filter.Offset, total), nil
}

// UpdateMetadata applies patch while the release is draft or submitted.
func (s *Service) UpdateMetadata(ctx context.Context, actor rbac.Principal, id uuid.UUID, patch MetadataPatch) (Release, error) {
	rel, err := s.repo.Get(ctx, id)
	if err != nil {
		return Release{}, repoError(err)
	}
	if err := s.authorizeScoped(ctx, actor, rel, rbac.PermReleaseUpdateAny, rbac.PermReleaseUpdateOwn); err != nil {
		return Release{}, err
	}
	if !rel.Status.Editable() {
		return Release{}, fmt.Errorf("%w: status is %s", ErrLockedForEditing, rel.Status)
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Release{}, fmt.Errorf("%w: title cannot be blank", ErrInvalidInput)
		}
		rel.Title = title
	}
	if patch.Genre != nil {
		rel.Genre = strings.TrimSpace(*patch.Genre)
	}
	if patch.ReleaseDate != nil {
		rel.ReleaseDate = patch.ReleaseDate
	}
	if len(patch.Metadata) > 0 {
		merged := make(Metadata, len(rel.Metadata)+len(patch.Metadata))
		for k, v := range rel.Metadata {
			merged[k] = v
		}
		for k, v := range patch.Metadata {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		rel.Metadata = merged
	}
	rel.UpdatedAt = s.now().UTC()
	updated, err := s.repo.UpdateMetadata(ctx, rel, editableStatuses)
	if err != nil {
		return Release{}, repoError(err)
	}
	return updated, nil
}

// ProgressStatus moves the release to requested along a workflow edge. The
// edge is validated before the actor, then the reason; the write only lands
// if the release is still in the status that was read.
func (s *Service) ProgressStatus(ctx context.Context, id uuid.UUID, requested Status, actor rbac.Principal, reason string) (Release, error) {
	rel, err := s.repo.Get(ctx, id)
	if err != nil {
		return Release{}, repoError(err)
	}
	from := rel.Status
	edge, ok := FindEdge(from, requested)
	if !ok {
		s.metrics.transition(from, requested, "invalid")
		return Release{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, requested)
	}
	if !edge.AllowsRole(actor.Role) || (edge.ownScoped() && ownerRole(actor.Role) && !rel.OwnedBy(actor.ID)) {
		s.metrics.transition(from, requested, "forbidden")
		return Release{}, &rbac.ForbiddenError{Required: []string{edge.Permission}, Role: actor.Role}
	}
	reason = strings.TrimSpace(reason)
	if edge.ReasonRequired && reason == "" {
		s.metrics.transition(from, requested, "missing_reason")
		return Release{}, fmt.Errorf("%w: %s -> %s", ErrMissingReason, from, requested)
	}

	now := s.now().UTC()
	var updated Release
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.CompareAndSetStatus(ctx, id, StatusChange{
			From:           from,
			To:             requested,
			At:             now,
			SetSubmittedAt: requested == StatusSubmitted,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{
			ID:        uuid.New(),
			ReleaseID: id,
			From:      from,
			To:        requested,
			Kind:      edge.Kind,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Reason:    reason,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "releases.status." + edge.Kind,
			Entity:   "release",
			EntityID: id.String(),
			Meta:     map[string]any{"from": string(from), "to": string(requested), "reason": reason},
			At:       now,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleState):
			s.metrics.transition(from, requested, "stale")
		case errors.Is(err, ErrNotFound):
			s.metrics.transition(from, requested, "not_found")
		default:
			s.metrics.transition(from, requested, "upstream")
		}
		return Release{}, repoError(err)
	}
	s.metrics.transition(from, requested, "ok")
	s.logger.Info("release status changed",
		slog.String("release_id", id.String()),
		slog.String("from", string(from)),
		slog.String("to", string(requested)),
		slog.String("actor_role", string(actor.Role)))

	s.notify(ctx, StatusChangedEvent{
		ReleaseID: id,
		Title:     updated.Title,
		ArtistID:  updated.ArtistID,
		From:      from,
		To:        requested,
		Kind:      edge.Kind,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Reason:    reason,
		Message:   requested.Message(),
		At:        now,
	})
	return updated, nil
}

func (s *Service) notify(ctx context.Context, event StatusChangedEvent) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.ReleaseStatusChanged(ctx, event); err != nil {
		s.metrics.notifyFailed()
		s.logger.Error("release status notification",
			slog.String("release_id", event.ReleaseID.String()),
			slog.String("to", string(event.To)),
			slog.Any("error", err))
	}
}

// History returns the ordered transitions of a release visible to the actor.
func (s *Service) History(ctx context.Context, actor rbac.Principal, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	return entries, nil
}

func (s *Service) permissionsOf(ctx context.Context, actor rbac.Principal) (rbac.PermissionSet, error) {
	if set := rbac.PermissionsFromContext(ctx); set != nil {
		return set, nil
	}
	set, err := s.permissions.EffectivePermissions(ctx, actor)
	if err != nil {
		if errors.Is(err, httpx.ErrUpstream) {
			return nil, err
		}
		return nil, httpx.Upstream(err)
	}
	return set, nil
}

func (s *Service) authorizeScoped(ctx context.Context, actor rbac.Principal, rel Release, anyPerm, ownPerm string) error {
	set, err := s.permissionsOf(ctx, actor)
	if err != nil {
		return err
	}
	if set.Has(anyPerm) || (set.Has(ownPerm) && rel.OwnedBy(actor.ID)) {
		return nil
	}
	return &rbac.ForbiddenError{Required: []string{anyPerm, ownPerm}, Role: actor.Role}
}

func ownerRole(role rbac.Role) bool {
	return role == rbac.RoleArtist || role == rbac.RoleLabelAdmin
}
