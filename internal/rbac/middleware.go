package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mscandco/platform/internal/platform/httpx"
)

// PermissionSource resolves the effective permissions of a principal.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, p Principal) (PermissionSet, error)
}

// Guard wires RBAC authorization helpers for HTTP handlers.
type Guard struct {
	Permissions PermissionSource
	Logger      *slog.Logger
}

// RequireAuthenticated rejects requests without a principal.
func (g Guard) RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); !ok {
				httpx.RespondError(w, ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require ensures the current principal holds perm.
func (g Guard) Require(perm string) func(http.Handler) http.Handler {
	return g.RequireAny(perm)
}

// RequireAny ensures the current principal has at least one of the required permissions.
func (g Guard) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return g.require("rbac require any", normalizePermissions(perms), PermissionSet.HasAny)
}

// RequireAll ensures the current principal has all required permissions.
func (g Guard) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return g.require("rbac require all", normalizePermissions(perms), PermissionSet.HasAll)
}

func (g Guard) require(op string, required []string, allowed func(PermissionSet, ...string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, ErrUnauthenticated)
				return
			}
			granted, err := g.Permissions.EffectivePermissions(r.Context(), principal)
			if err != nil {
				g.logError(op, principal, err)
				if !errors.Is(err, httpx.ErrUpstream) {
					err = httpx.Upstream(err)
				}
				httpx.RespondError(w, err)
				return
			}
			if !allowed(granted, required...) {
				httpx.RespondError(w, &ForbiddenError{Required: required, Role: principal.Role})
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPermissions(r.Context(), granted)))
		})
	}
}

func (g Guard) logError(op string, p Principal, err error) {
	if g.Logger == nil {
		return
	}
	g.Logger.Error(op, slog.String("principal", p.ID.String()), slog.Any("error", err))
}
