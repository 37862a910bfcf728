package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	permissions rbac.PermissionSource
	guard       rbac.Guard
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, permissions rbac.PermissionSource, guard rbac.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		permissions: permissions,
		guard:       guard,
		validator:   validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAuthenticated())
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	sess, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("auth login failed", slog.String("email", req.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		TokenType: "Bearer",
		ExpiresAt: sess.ExpiresAt.UTC(),
		User: userResponse{
			ID:    sess.User.ID.String(),
			Email: sess.User.Email,
			Role:  string(sess.User.Role),
		},
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.service.Logout(r.Context(), claims); err != nil {
		h.logger.Warn("auth logout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := rbac.PrincipalFromContext(r.Context())
	set, err := h.permissions.EffectivePermissions(r.Context(), principal)
	if err != nil {
		h.logger.Error("auth me permissions", slog.Any("error", err))
		httpx.RespondError(w, httpx.Upstream(err))
		return
	}
	httpx.JSON(w, http.StatusOK, userResponse{
		ID:          principal.ID.String(),
		Email:       principal.Email,
		Role:        string(principal.Role),
		Permissions: set.List(),
	})
}
