package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mscandco/platform/internal/platform/httpx"
)

// Handler exposes the permission administration API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Guard
	validator *validator.Validate
}

// NewHandler constructs the admin handler.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		validator: validator.New(),
	}
}

// MountRoutes registers admin routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require(PermRoleReadAny)).Get("/roles", h.listRoles)
	r.With(h.guard.Require(PermRoleUpdateAny)).Put("/roles/{role}/permissions", h.setRolePermissions)
	r.With(h.guard.Require(PermRoleUpdateAny)).Post("/roles/{role}/reset-default", h.resetRole)
	r.With(h.guard.Require(PermPermissionReadAny)).Get("/permissions", h.listPermissions)
	r.With(h.guard.Require(PermUserReadAny)).Get("/users/{id}/permissions", h.userPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(PermUserUpdateAny))
		r.Post("/users/{id}/permissions", h.grantPermission)
		r.Delete("/users/{id}/permissions/{permission}", h.revokePermission)
		r.Put("/users/{id}/role", h.changeRole)
	})
}

type roleResponse struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type permissionResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type userPermissionsResponse struct {
	UserID    string   `json:"user_id"`
	Role      string   `json:"role"`
	Grants    []Grant  `json:"grants"`
	Effective []string `json:"effective"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type grantRequest struct {
	Permission string `json:"permission" validate:"required"`
	Denied     bool   `json:"denied"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, h.toRoleResponse(role.Name, role.Description, role.Permissions))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, err := ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setPermissionsRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.service.SetRolePermissions(r.Context(), h.actor(r), role, req.Permissions)
	if err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toRoleResponse(role, role.Description(), perms))
}

func (h *Handler) resetRole(w http.ResponseWriter, r *http.Request) {
	role, err := ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.service.ResetRoleToDefault(r.Context(), h.actor(r), role)
	if err != nil {
		h.fail(w, "reset role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toRoleResponse(role, role.Description(), perms))
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionResponse{Name: p.Name, Description: p.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	up, err := h.service.UserPermissions(r.Context(), userID)
	if err != nil {
		h.fail(w, "user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, userPermissionsResponse{
		UserID:    up.UserID.String(),
		Role:      string(up.Role),
		Grants:    up.Grants,
		Effective: up.Effective,
	})
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req grantRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.GrantUserPermission(r.Context(), h.actor(r), userID, req.Permission, req.Denied); err != nil {
		h.fail(w, "grant permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RevokeUserPermission(r.Context(), h.actor(r), userID, chi.URLParam(r, "permission")); err != nil {
		h.fail(w, "revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req changeRoleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ChangeUserRole(r.Context(), h.actor(r), userID, role); err != nil {
		h.fail(w, "change role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

func (h *Handler) actor(r *http.Request) Principal {
	p, _ := PrincipalFromContext(r.Context())
	return p
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("rbac admin "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) toRoleResponse(role Role, description string, perms []string) roleResponse {
	if perms == nil {
		perms = []string{}
	}
	return roleResponse{
		Name:        string(role),
		DisplayName: displayName(role),
		Description: description,
		Permissions: perms,
	}
}

func parseUserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid user id", httpx.ErrValidation)
	}
	return id, nil
}

// displayName renders "label_admin" as "Label Admin". Casers are stateful, so
// one is built per call.
func displayName(role Role) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(role), "_", " "))
}
