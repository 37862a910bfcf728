package releases

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
)

// Handler exposes the release API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler builds a release handler.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard, validator: validator.New()}
}

// MountRoutes registers release routes under the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	view := h.guard.RequireAny(rbac.PermReleaseViewOwn, rbac.PermReleaseViewAny)
	r.With(view).Get("/", h.list)
	r.With(h.guard.Require(rbac.PermReleaseCreateOwn)).Post("/", h.create)
	r.With(view).Get("/{id}", h.get)
	r.With(h.guard.RequireAny(rbac.PermReleaseUpdateOwn, rbac.PermReleaseUpdateAny)).Patch("/{id}", h.update)
	r.With(h.guard.RequireAny(TransitionPermissions()...)).Post("/{id}/status", h.progress)
	r.With(view).Get("/{id}/history", h.history)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := Status(raw)
		filter.Status = &status
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		h.respondError(w, err)
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		h.respondError(w, err)
		return
	}
	items, page, err := h.service.List(r.Context(), actor(r), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := listResponse{
		Items:   make([]releaseResponse, 0, len(items)),
		Limit:   page.Limit,
		Offset:  page.Offset,
		Total:   page.Total,
		HasMore: page.HasMore,
	}
	for _, rel := range items {
		out.Items = append(out.Items, toReleaseResponse(rel))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	rel, err := h.service.Create(r.Context(), actor(r), req.input(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Location", "/api/releases/"+rel.ID.String())
	httpx.JSON(w, http.StatusCreated, withTransitions(toReleaseResponse(rel), actor(r).Role))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := releaseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	rel, err := h.service.Get(r.Context(), actor(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, withTransitions(toReleaseResponse(rel), actor(r).Role))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := releaseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req patchRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	rel, err := h.service.UpdateMetadata(r.Context(), actor(r), id, req.patch())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, withTransitions(toReleaseResponse(rel), actor(r).Role))
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	id, err := releaseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	rel, err := h.service.ProgressStatus(r.Context(), id, Status(strings.TrimSpace(req.Status)), actor(r), req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, withTransitions(toReleaseResponse(rel), actor(r).Role))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := releaseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	entries, err := h.service.History(r.Context(), actor(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toHistoryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

// respondError maps workflow errors before falling back to the shared mapping.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemWith(w, http.StatusConflict, "Invalid Transition", "invalid_transition", err.Error(), nil)
	case errors.Is(err, ErrStaleState):
		httpx.ProblemWith(w, http.StatusConflict, "Stale State", "stale_state", err.Error(), nil)
	case errors.Is(err, ErrMissingReason):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Missing Reason", "missing_reason", err.Error(), nil)
	case errors.Is(err, ErrLockedForEditing):
		httpx.ProblemWith(w, http.StatusLocked, "Locked For Editing", "locked_for_editing", err.Error(), nil)
	default:
		if errors.Is(err, httpx.ErrUpstream) {
			h.logger.Error("releases upstream failure", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func actor(r *http.Request) rbac.Principal {
	p, _ := rbac.PrincipalFromContext(r.Context())
	return p
}

func releaseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid release id", httpx.ErrValidation)
	}
	return id, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", httpx.ErrValidation, raw)
	}
	return n, nil
}
